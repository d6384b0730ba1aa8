package actions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
)

// SecretPlaceholder replaces secret-marked values in logs.
const SecretPlaceholder = "[[secret]]"

// InputKind is the declared type of a schema field.
type InputKind string

const (
	KindString  InputKind = "string"
	KindInteger InputKind = "integer"
	KindFloat   InputKind = "float"
	KindBoolean InputKind = "boolean"
	KindList    InputKind = "list"
	KindObject  InputKind = "object"
	KindAny     InputKind = "any"
)

// Input describes one schema field. The Secret flag drives log redaction;
// the sanitizer reads it structurally.
type Input struct {
	Kind        InputKind
	Optional    bool
	Default     any
	Description string
	Secret      bool

	// Formatter transforms the coerced value; failures raise
	// CONNECTION_ACTION_PARAM_FORMATTING.
	Formatter func(value any) (any, error)
	// Validator rejects the formatted value; failures raise
	// CONNECTION_ACTION_PARAM_VALIDATION.
	Validator func(value any) error
}

// Inputs maps field names to their schema.
type Inputs map[string]Input

// Validate coalesces raw params against the schema, applying coercion,
// defaults, formatters, and validators. Only declared fields survive.
func (in Inputs) Validate(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))

	for name, input := range in {
		value, present := raw[name]

		if !present || value == nil || value == "" {
			if input.Default != nil {
				coerced, err := coerceKind(input.Kind, input.Default)
				if err != nil {
					return nil, errors.Newf(errors.KindConnectionActionParamDefault,
						"default for %s does not satisfy its schema", name).WithKey(name, input.Default)
				}
				out[name] = coerced
				continue
			}
			if input.Optional {
				continue
			}
			return nil, errors.Newf(errors.KindConnectionActionParamRequired,
				"%s is a required parameter", name).WithKey(name, nil)
		}

		coerced, err := coerceKind(input.Kind, value)
		if err != nil {
			return nil, errors.Newf(errors.KindConnectionActionParamValidation,
				"%s: %s", name, err.Error()).WithKey(name, value)
		}

		if input.Formatter != nil {
			coerced, err = input.Formatter(coerced)
			if err != nil {
				return nil, errors.Newf(errors.KindConnectionActionParamFormatting,
					"%s: %s", name, err.Error()).WithKey(name, value)
			}
		}

		if input.Validator != nil {
			if err := input.Validator(coerced); err != nil {
				return nil, errors.Newf(errors.KindConnectionActionParamValidation,
					"%s: %s", name, err.Error()).WithKey(name, value)
			}
		}

		out[name] = coerced
	}

	return out, nil
}

// Sanitize returns a copy of params with secret-marked fields replaced by
// the literal "[[secret]]".
func (in Inputs) Sanitize(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if input, ok := in[k]; ok && input.Secret {
			out[k] = SecretPlaceholder
			continue
		}
		out[k] = v
	}
	return out
}

// coerceKind converts a raw value to its declared kind. String inputs from
// query strings and forms are parsed; values already of the right type pass
// through.
func coerceKind(kind InputKind, value any) (any, error) {
	switch kind {
	case KindAny, "":
		return value, nil

	case KindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil

	case KindInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
			return nil, fmt.Errorf("%v is not an integer", v)
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", v)
			}
			return n, nil
		}
		return nil, fmt.Errorf("%v is not an integer", value)

	case KindFloat:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", v)
			}
			return f, nil
		}
		return nil, fmt.Errorf("%v is not a number", value)

	case KindBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if strings.EqualFold(v, "true") {
				return true, nil
			}
			if strings.EqualFold(v, "false") {
				return false, nil
			}
			return nil, fmt.Errorf("%q is not a boolean", v)
		}
		return nil, fmt.Errorf("%v is not a boolean", value)

	case KindList:
		if list, ok := value.([]any); ok {
			return list, nil
		}
		// A singleton bound for a list field becomes a one-element list,
		// so ?k=1 and ?k=1&k=2 validate through the same path.
		return []any{value}, nil

	case KindObject:
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("%v is not an object", value)
	}

	return nil, fmt.Errorf("unknown input kind %q", kind)
}
