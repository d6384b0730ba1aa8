package actions

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evantahler/bun-actionhero-sub001/pkg/errors"
)

func TestValidateRequired(t *testing.T) {
	inputs := Inputs{"email": {Kind: KindString}}

	_, err := inputs.Validate(map[string]any{})
	require.Error(t, err)
	typed := errors.AsTyped(err)
	require.NotNil(t, typed)
	assert.Equal(t, errors.KindConnectionActionParamRequired, typed.Kind)
	assert.Equal(t, "email", typed.Key)
}

func TestValidateAppliesDefault(t *testing.T) {
	inputs := Inputs{"limit": {Kind: KindInteger, Default: "10"}}

	out, err := inputs.Validate(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), out["limit"])
}

func TestValidateOptionalAbsent(t *testing.T) {
	inputs := Inputs{"note": {Kind: KindString, Optional: true}}

	out, err := inputs.Validate(map[string]any{})
	require.NoError(t, err)
	_, present := out["note"]
	assert.False(t, present)
}

func TestValidateCoercesStrings(t *testing.T) {
	inputs := Inputs{
		"count":   {Kind: KindInteger},
		"ratio":   {Kind: KindFloat},
		"active":  {Kind: KindBoolean},
		"anyting": {Kind: KindAny},
	}

	out, err := inputs.Validate(map[string]any{
		"count":   "42",
		"ratio":   "0.5",
		"active":  "TRUE",
		"anyting": 7,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), out["count"])
	assert.Equal(t, 0.5, out["ratio"])
	assert.Equal(t, true, out["active"])
	assert.Equal(t, 7, out["anyting"])
}

func TestValidateRejectsBadInteger(t *testing.T) {
	inputs := Inputs{"count": {Kind: KindInteger}}

	_, err := inputs.Validate(map[string]any{"count": "forty-two"})
	require.Error(t, err)
	typed := errors.AsTyped(err)
	require.NotNil(t, typed)
	assert.Equal(t, errors.KindConnectionActionParamValidation, typed.Kind)
	assert.Equal(t, "count", typed.Key)
	assert.Equal(t, "forty-two", typed.Value)
}

func TestValidateListSingletonWraps(t *testing.T) {
	inputs := Inputs{"tags": {Kind: KindList}}

	out, err := inputs.Validate(map[string]any{"tags": "solo"})
	require.NoError(t, err)
	assert.Equal(t, []any{"solo"}, out["tags"])

	out, err = inputs.Validate(map[string]any{"tags": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out["tags"])
}

func TestFormatterAndValidator(t *testing.T) {
	inputs := Inputs{
		"email": {
			Kind:      KindString,
			Formatter: func(v any) (any, error) { return strings.ToLower(v.(string)), nil },
			Validator: func(v any) error {
				if !strings.Contains(v.(string), "@") {
					return fmt.Errorf("not an email address")
				}
				return nil
			},
		},
	}

	out, err := inputs.Validate(map[string]any{"email": "Ada@Example.COM"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", out["email"])

	_, err = inputs.Validate(map[string]any{"email": "nope"})
	require.Error(t, err)
	assert.Equal(t, errors.KindConnectionActionParamValidation, errors.AsTyped(err).Kind)
}

func TestFormatterFailureKind(t *testing.T) {
	inputs := Inputs{
		"v": {
			Kind:      KindString,
			Formatter: func(any) (any, error) { return nil, fmt.Errorf("broken") },
		},
	}

	_, err := inputs.Validate(map[string]any{"v": "x"})
	require.Error(t, err)
	assert.Equal(t, errors.KindConnectionActionParamFormatting, errors.AsTyped(err).Kind)
}

func TestBadDefaultKind(t *testing.T) {
	inputs := Inputs{"n": {Kind: KindInteger, Default: "not-a-number"}}

	_, err := inputs.Validate(map[string]any{})
	require.Error(t, err)
	assert.Equal(t, errors.KindConnectionActionParamDefault, errors.AsTyped(err).Kind)
}

func TestUndeclaredFieldsDropped(t *testing.T) {
	inputs := Inputs{"name": {Kind: KindString}}

	out, err := inputs.Validate(map[string]any{"name": "ada", "evil": "payload"})
	require.NoError(t, err)
	_, present := out["evil"]
	assert.False(t, present)
}

func TestSanitizeRedactsSecrets(t *testing.T) {
	inputs := Inputs{
		"email":    {Kind: KindString},
		"password": {Kind: KindString, Secret: true},
	}

	out := inputs.Sanitize(map[string]any{"email": "ada@example.com", "password": "hunter2"})
	assert.Equal(t, "ada@example.com", out["email"])
	assert.Equal(t, SecretPlaceholder, out["password"])
}
