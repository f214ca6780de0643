package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewExecutionError(cause, "step failed")
	assert.Equal(t, cause, errors.Unwrap(err.FlowError))
}

func TestFlowErrorToValue(t *testing.T) {
	err := NewValidationError("bad field %q", "foo")
	v := err.ToValue()
	m := v.AsMap()
	code, _ := m.Get("code")
	assert.Equal(t, CodeValidationError, code.AsString())
	msg, _ := m.Get("message")
	assert.Equal(t, `bad field "foo"`, msg.AsString())
}

func TestCodeOfKnownTypes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"validation", NewValidationError("x"), CodeValidationError},
		{"execution", NewExecutionError(nil, "x"), CodeExecutionError},
		{"network", NewNetworkError(nil, "x"), CodeNetworkError},
		{"state", NewStateError("x"), CodeStateError},
		{"pause", NewPauseError("paused"), CodeStateError},
		{"timeout", NewTimeoutError("s1", "request", 100, 200), CodeTimeoutError},
		{"maxretries", NewMaxRetriesExceededError(3, nil, nil), CodeMaxRetriesExceeded},
		{"unknownref", NewUnknownReferenceError("x", nil), CodeValidationError},
		{"circularref", NewCircularReferenceError([]string{"a", "b"}), CodeValidationError},
		{"pathsyntax", NewPathSyntaxError("x"), CodeValidationError},
		{"propaccess", NewPropertyAccessError("x"), CodeExecutionError},
		{"tokenizer", NewTokenizerError("x"), CodeValidationError},
		{"expression", NewExpressionError("x"), CodeExecutionError},
		{"stepnotfound", NewStepNotFoundError("s1", nil), CodeValidationError},
		{"unknowndep", NewUnknownDependencyError("a", "b", nil), CodeValidationError},
		{"circulardep", NewCircularDependencyError([]string{"a", "b"}), CodeValidationError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.code, CodeOf(c.err))
		})
	}
}

func TestCodeOfUnknownErrorReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestJsonRpcRequestErrorDoesNotCarryFlowErrorCode(t *testing.T) {
	err := NewJsonRpcRequestError(-32601, "method not found", Null)
	require.Error(t, err)
	assert.Equal(t, "", CodeOf(err))
	assert.Contains(t, err.Error(), "-32601")
}

func TestMaxRetriesExceededErrorCausedByLastError(t *testing.T) {
	e1 := errors.New("first")
	e2 := errors.New("second")
	err := NewMaxRetriesExceededError(2, &RetryPolicyInfo{MaxAttempts: 2, Strategy: "exponential"}, []error{e1, e2})
	assert.Equal(t, e2, err.Cause)
	assert.Equal(t, 2, err.Attempts)
}
