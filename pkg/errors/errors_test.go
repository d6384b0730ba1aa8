package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := map[Kind]int{
		KindServerInitialization:            500,
		KindConnectionActionRun:             500,
		KindConnectionActionNotFound:        404,
		KindConnectionActionParamRequired:   406,
		KindConnectionActionParamValidation: 406,
		KindConnectionNotSubscribed:         406,
		KindConnectionChannelValidation:     400,
		KindConnectionChannelAuthorization:  403,
		KindConnectionSessionNotFound:       401,
		KindConnectionActionTimeout:         408,
		KindConnectionRateLimited:           429,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusCode(kind), string(kind))
	}
	assert.Equal(t, 500, StatusCode(Kind("SOMETHING_NEW")))
}

func TestNewCarriesKindAndStack(t *testing.T) {
	err := New(KindConnectionActionNotFound, "nope")
	assert.Equal(t, "nope", err.Error())
	assert.Equal(t, KindConnectionActionNotFound, err.Kind)
	assert.Equal(t, 404, err.StatusCode())
	assert.NotEmpty(t, err.Stack)
	assert.NotZero(t, err.Timestamp)
}

func TestWrapPreservesExistingKind(t *testing.T) {
	inner := New(KindConnectionRateLimited, "slow down")
	wrapped := Wrap(fmt.Errorf("outer: %w", inner), KindConnectionActionRun)
	assert.Equal(t, KindConnectionRateLimited, wrapped.Kind)

	plain := Wrap(stderrors.New("boom"), KindConnectionActionRun)
	assert.Equal(t, KindConnectionActionRun, plain.Kind)
	assert.Equal(t, "boom", plain.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindConnectionActionRun))
	assert.Nil(t, Wrapf(nil, KindConnectionActionRun, "ctx"))
}

func TestWithKey(t *testing.T) {
	err := New(KindConnectionActionParamRequired, "missing").WithKey("email", nil)
	assert.Equal(t, "email", err.Key)
	assert.Nil(t, err.Value)
}

func TestAsTypedAndIsKind(t *testing.T) {
	typed := New(KindConnectionActionTimeout, "late")
	chained := fmt.Errorf("wrap: %w", typed)

	found := AsTyped(chained)
	require.NotNil(t, found)
	assert.Equal(t, KindConnectionActionTimeout, found.Kind)

	assert.True(t, IsKind(chained, KindConnectionActionTimeout))
	assert.False(t, IsKind(chained, KindConnectionActionRun))
	assert.False(t, IsKind(stderrors.New("plain"), KindConnectionActionRun))
	assert.Nil(t, AsTyped(stderrors.New("plain")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("root")
	wrapped := Wrap(cause, KindConnectionServerError)
	assert.True(t, stderrors.Is(wrapped, cause))
}
