package mcp

import (
	"github.com/evantahler/bun-actionhero-sub001/pkg/actions"
)

// toolSchema renders an action's input schema as a JSON Schema object for
// tool listings and argument validation.
func toolSchema(action *actions.Action) map[string]any {
	properties := map[string]any{}
	required := []string{}

	for name, input := range action.Inputs {
		property := map[string]any{}
		if t := jsonType(input.Kind); t != "" {
			property["type"] = t
		}
		if input.Description != "" {
			property["description"] = input.Description
		}
		if input.Default != nil {
			property["default"] = input.Default
		}
		properties[name] = property

		if !input.Optional && input.Default == nil {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(kind actions.InputKind) string {
	switch kind {
	case actions.KindString:
		return "string"
	case actions.KindInteger:
		return "integer"
	case actions.KindFloat:
		return "number"
	case actions.KindBoolean:
		return "boolean"
	case actions.KindList:
		return "array"
	case actions.KindObject:
		return "object"
	}
	// KindAny: unconstrained
	return ""
}
