// Package errors defines the typed error taxonomy shared by every
// transport. Each error carries a kind that maps to an HTTP status, an
// optional key/value pointing at the offending input, and a captured
// stack. Transports serialize these directly; anything untyped is wrapped
// before it reaches a client.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind classifies an error for status mapping and client handling.
type Kind string

const (
	KindServerInitialization  Kind = "SERVER_INITIALIZATION"
	KindServerStart           Kind = "SERVER_START"
	KindServerStop            Kind = "SERVER_STOP"
	KindConfigError           Kind = "CONFIG_ERROR"
	KindInitializerValidation Kind = "INITIALIZER_VALIDATION"
	KindActionValidation      Kind = "ACTION_VALIDATION"
	KindTaskValidation        Kind = "TASK_VALIDATION"
	KindServerValidation      Kind = "SERVER_VALIDATION"

	KindConnectionServerError     Kind = "CONNECTION_SERVER_ERROR"
	KindConnectionActionRun       Kind = "CONNECTION_ACTION_RUN"
	KindConnectionTaskDefinition  Kind = "CONNECTION_TASK_DEFINITION"
	KindConnectionActionNotFound  Kind = "CONNECTION_ACTION_NOT_FOUND"
	KindConnectionTypeNotFound    Kind = "CONNECTION_TYPE_NOT_FOUND"
	KindConnectionNotSubscribed   Kind = "CONNECTION_NOT_SUBSCRIBED"
	KindConnectionSessionNotFound Kind = "CONNECTION_SESSION_NOT_FOUND"
	KindConnectionActionTimeout   Kind = "CONNECTION_ACTION_TIMEOUT"
	KindConnectionRateLimited     Kind = "CONNECTION_RATE_LIMITED"

	KindConnectionActionParamRequired   Kind = "CONNECTION_ACTION_PARAM_REQUIRED"
	KindConnectionActionParamDefault    Kind = "CONNECTION_ACTION_PARAM_DEFAULT"
	KindConnectionActionParamValidation Kind = "CONNECTION_ACTION_PARAM_VALIDATION"
	KindConnectionActionParamFormatting Kind = "CONNECTION_ACTION_PARAM_FORMATTING"

	KindConnectionChannelValidation    Kind = "CONNECTION_CHANNEL_VALIDATION"
	KindConnectionChannelAuthorization Kind = "CONNECTION_CHANNEL_AUTHORIZATION"
)

var statusCodes = map[Kind]int{
	KindServerInitialization:  500,
	KindServerStart:           500,
	KindServerStop:            500,
	KindConfigError:           500,
	KindInitializerValidation: 500,
	KindActionValidation:      500,
	KindTaskValidation:        500,
	KindServerValidation:      500,

	KindConnectionServerError:    500,
	KindConnectionActionRun:      500,
	KindConnectionTaskDefinition: 500,

	KindConnectionActionNotFound: 404,

	KindConnectionActionParamRequired:   406,
	KindConnectionActionParamDefault:    406,
	KindConnectionActionParamValidation: 406,
	KindConnectionActionParamFormatting: 406,
	KindConnectionTypeNotFound:          406,
	KindConnectionNotSubscribed:         406,

	KindConnectionChannelValidation:    400,
	KindConnectionChannelAuthorization: 403,
	KindConnectionSessionNotFound:      401,
	KindConnectionActionTimeout:        408,
	KindConnectionRateLimited:          429,
}

// StatusCode returns the HTTP status for a kind. Unknown kinds are server
// errors.
func StatusCode(kind Kind) int {
	if code, ok := statusCodes[kind]; ok {
		return code
	}
	return 500
}

// TypedError is the error shape every transport serializes.
type TypedError struct {
	Message   string `json:"message"`
	Kind      Kind   `json:"type"`
	Key       string `json:"key,omitempty"`
	Value     any    `json:"value,omitempty"`
	Stack     string `json:"stack,omitempty"`
	Timestamp int64  `json:"timestamp"`

	cause error
}

func (e *TypedError) Error() string {
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *TypedError) Unwrap() error {
	return e.cause
}

// StatusCode returns the HTTP status for this error's kind.
func (e *TypedError) StatusCode() int {
	return StatusCode(e.Kind)
}

// WithKey attaches the offending field name and value.
func (e *TypedError) WithKey(key string, value any) *TypedError {
	e.Key = key
	e.Value = value
	return e
}

// New creates a typed error.
func New(kind Kind, message string) *TypedError {
	return &TypedError{
		Message:   message,
		Kind:      kind,
		Stack:     captureStack(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...any) *TypedError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap types an error. An error that is already typed is returned as is,
// keeping its original kind; the kind argument only applies to untyped
// causes.
func Wrap(err error, kind Kind) *TypedError {
	if err == nil {
		return nil
	}
	if typed := AsTyped(err); typed != nil {
		return typed
	}
	wrapped := New(kind, err.Error())
	wrapped.cause = err
	return wrapped
}

// Wrapf is Wrap with a message prefix for untyped causes.
func Wrapf(err error, kind Kind, format string, args ...any) *TypedError {
	if err == nil {
		return nil
	}
	if typed := AsTyped(err); typed != nil {
		return typed
	}
	wrapped := New(kind, fmt.Sprintf(format, args...)+": "+err.Error())
	wrapped.cause = err
	return wrapped
}

// AsTyped extracts a TypedError from an error chain, or nil.
func AsTyped(err error) *TypedError {
	typed := &TypedError{}
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsKind reports whether the error chain contains a typed error of kind.
func IsKind(err error, kind Kind) bool {
	typed := AsTyped(err)
	return typed != nil && typed.Kind == kind
}

func captureStack() string {
	pcs := make([]uintptr, 16)
	// skip runtime.Callers, captureStack, and the constructor
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
