package types

import (
	"fmt"
	"strings"
)

// Error codes forming the taxonomy's external contract (spec ?6).
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeExecutionError       = "EXECUTION_ERROR"
	CodeNetworkError         = "NETWORK_ERROR"
	CodeStateError           = "STATE_ERROR"
	CodeTimeoutError         = "TIMEOUT_ERROR"
	CodeMaxRetriesExceeded   = "MAX_RETRIES_EXCEEDED"
)

// FlowError is the root of the tagged error hierarchy. Every error the engine
// raises carries a stable Code, free-form Context for diagnostics, and an
// optional wrapped Cause.
type FlowError struct {
	Code    string
	Msg     string
	Context map[string]Value
	Cause   error
}

func (e *FlowError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code)
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	if e.Cause != nil {
		sb.WriteString(" (cause: ")
		sb.WriteString(e.Cause.Error())
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *FlowError) Unwrap() error { return e.Cause }

// HasCode reports whether this error's own Code is code. Wrapped causes are
// not inspected.
func (e *FlowError) HasCode(code string) bool { return e.Code == code }

// ToValue renders the error as a JSON-shaped map, for event payloads and
// raise/except-style introspection of failures.
func (e *FlowError) ToValue() Value {
	m := NewOrderedMap()
	m.Set("code", NewString(e.Code))
	m.Set("message", NewString(e.Msg))
	ctx := NewOrderedMap()
	for k, v := range e.Context {
		ctx.Set(k, v)
	}
	m.Set("context", NewMap(ctx))
	if e.Cause != nil {
		m.Set("cause", NewString(e.Cause.Error()))
	}
	return NewMap(m)
}

func newFlowError(code, format string, args ...interface{}) *FlowError {
	return &FlowError{Code: code, Msg: fmt.Sprintf(format, args...), Context: map[string]Value{}}
}

func (e *FlowError) withContext(key string, v Value) *FlowError {
	e.Context[key] = v
	return e
}

func (e *FlowError) withCause(cause error) *FlowError {
	e.Cause = cause
	return e
}

// ValidationError reports a malformed flow document, step, or argument.
type ValidationError struct{ *FlowError }

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{newFlowError(CodeValidationError, format, args...)}
}

// ExecutionError wraps a generic executor failure, preserving the cause.
type ExecutionError struct{ *FlowError }

func NewExecutionError(cause error, format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{newFlowError(CodeExecutionError, format, args...).withCause(cause)}
}

// NetworkError reports an RPC call or envelope failure with no specific code.
type NetworkError struct{ *FlowError }

func NewNetworkError(cause error, format string, args ...interface{}) *NetworkError {
	return &NetworkError{newFlowError(CodeNetworkError, format, args...).withCause(cause)}
}

// StateError reports pause/retry/reset used from an impossible state.
type StateError struct{ *FlowError }

func NewStateError(format string, args ...interface{}) *StateError {
	return &StateError{newFlowError(CodeStateError, format, args...)}
}

// PauseError is raised by execute() when a run is halted via pause(). It is
// semantically recoverable: state is left intact for a later resume().
type PauseError struct{ *FlowError }

func NewPauseError(reason string) *PauseError {
	return &PauseError{newFlowError(CodeStateError, "flow paused: %s", reason)}
}

// TimeoutError reports a step or expression deadline exceeded.
type TimeoutError struct {
	*FlowError
	Step                 string
	StepType             string
	Timeout              int64
	ExecutionTime        int64
	IsExpressionTimeout  bool
}

func NewTimeoutError(step, stepType string, timeout, executionTime int64) *TimeoutError {
	fe := newFlowError(CodeTimeoutError, "step %q (%s) exceeded timeout of %dms (ran %dms)", step, stepType, timeout, executionTime)
	return &TimeoutError{FlowError: fe, Step: step, StepType: stepType, Timeout: timeout, ExecutionTime: executionTime}
}

// TimeoutErrorForStep is the spec's TimeoutError.forStep constructor used by executors.
func TimeoutErrorForStep(step, stepType string, timeout, executionTime int64) *TimeoutError {
	return NewTimeoutError(step, stepType, timeout, executionTime)
}

func NewExpressionTimeoutError(expr string, timeout int64) *TimeoutError {
	fe := newFlowError(CodeTimeoutError, "expression evaluation exceeded timeout of %dms: %s", timeout, expr)
	return &TimeoutError{FlowError: fe, Timeout: timeout, IsExpressionTimeout: true}
}

// MaxRetriesExceededError is raised by the retry engine on exhaustion.
type MaxRetriesExceededError struct {
	*FlowError
	Attempts int
	Policy   *RetryPolicyInfo
	Errors   []error
}

// RetryPolicyInfo is a minimal, types-package-local mirror of the retry
// policy so this error doesn't need to import the policy package.
type RetryPolicyInfo struct {
	MaxAttempts int
	Strategy    string
}

func NewMaxRetriesExceededError(attempts int, policy *RetryPolicyInfo, errs []error) *MaxRetriesExceededError {
	var last error
	if len(errs) > 0 {
		last = errs[len(errs)-1]
	}
	fe := newFlowError(CodeMaxRetriesExceeded, "exhausted %d retry attempts", attempts).withCause(last)
	return &MaxRetriesExceededError{FlowError: fe, Attempts: attempts, Policy: policy, Errors: errs}
}

// --- Reference / path errors ---

type UnknownReferenceError struct {
	*FlowError
	Root      string
	Available []string
}

func NewUnknownReferenceError(root string, available []string) *UnknownReferenceError {
	fe := newFlowError(CodeValidationError, "unknown reference root %q (available: %s)", root, strings.Join(available, ", "))
	return &UnknownReferenceError{FlowError: fe, Root: root, Available: available}
}

type InvalidReferenceError struct{ *FlowError }

func NewInvalidReferenceError(format string, args ...interface{}) *InvalidReferenceError {
	return &InvalidReferenceError{newFlowError(CodeValidationError, format, args...)}
}

type ReferenceResolutionError struct {
	*FlowError
	Path string
}

func NewReferenceResolutionError(path string, cause error) *ReferenceResolutionError {
	fe := newFlowError(CodeExecutionError, "failed to resolve reference %q", path).withCause(cause)
	return &ReferenceResolutionError{FlowError: fe, Path: path}
}

type CircularReferenceError struct {
	*FlowError
	Cycle []string
}

func NewCircularReferenceError(cycle []string) *CircularReferenceError {
	fe := newFlowError(CodeValidationError, "circular reference: %s", strings.Join(cycle, " -> "))
	return &CircularReferenceError{FlowError: fe, Cycle: cycle}
}

type PathSyntaxError struct{ *FlowError }

func NewPathSyntaxError(format string, args ...interface{}) *PathSyntaxError {
	return &PathSyntaxError{newFlowError(CodeValidationError, format, args...)}
}

type PropertyAccessError struct{ *FlowError }

func NewPropertyAccessError(format string, args ...interface{}) *PropertyAccessError {
	return &PropertyAccessError{newFlowError(CodeExecutionError, format, args...)}
}

// TokenizerError reports a lexing failure in the expression evaluator.
type TokenizerError struct{ *FlowError }

func NewTokenizerError(format string, args ...interface{}) *TokenizerError {
	return &TokenizerError{newFlowError(CodeValidationError, format, args...)}
}

// ExpressionError reports an evaluation-time failure (type mismatch, etc).
type ExpressionError struct{ *FlowError }

func NewExpressionError(format string, args ...interface{}) *ExpressionError {
	return &ExpressionError{newFlowError(CodeExecutionError, format, args...)}
}

// --- Dependency errors ---

type StepNotFoundError struct {
	*FlowError
	Name      string
	Available []string
}

func NewStepNotFoundError(name string, available []string) *StepNotFoundError {
	fe := newFlowError(CodeValidationError, "step %q not found (available: %s)", name, strings.Join(available, ", "))
	return &StepNotFoundError{FlowError: fe, Name: name, Available: available}
}

type UnknownDependencyError struct {
	*FlowError
	DependentStep  string
	DependencyStep string
	Available      []string
}

func NewUnknownDependencyError(dependent, dependency string, available []string) *UnknownDependencyError {
	fe := newFlowError(CodeValidationError, "step %q references unknown step %q (available: %s)",
		dependent, dependency, strings.Join(available, ", "))
	return &UnknownDependencyError{FlowError: fe, DependentStep: dependent, DependencyStep: dependency, Available: available}
}

type CircularDependencyError struct {
	*FlowError
	Cycle []string
}

func NewCircularDependencyError(cycle []string) *CircularDependencyError {
	fe := newFlowError(CodeValidationError, "circular dependency: %s", strings.Join(cycle, " -> "))
	return &CircularDependencyError{FlowError: fe, Cycle: cycle}
}

// JsonRpcRequestError carries a caller-raised JSON-RPC error, propagated
// unwrapped by the request executor rather than folded into ExecutionError.
type JsonRpcRequestError struct {
	RpcCode int64
	Message string
	Data    Value
}

func (e *JsonRpcRequestError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.RpcCode, e.Message)
}

func NewJsonRpcRequestError(code int64, message string, data Value) *JsonRpcRequestError {
	return &JsonRpcRequestError{RpcCode: code, Message: message, Data: data}
}

// CodeOf extracts the stable error code from any error in the FlowError
// family, or "" if the error doesn't carry one. Used by the retry engine to
// classify retryable errors by code.
func CodeOf(err error) string {
	if fe, ok := err.(*FlowError); ok {
		return fe.Code
	}
	switch v := err.(type) {
	case *ValidationError:
		return v.Code
	case *ExecutionError:
		return v.Code
	case *NetworkError:
		return v.Code
	case *StateError:
		return v.Code
	case *PauseError:
		return v.Code
	case *TimeoutError:
		return v.Code
	case *MaxRetriesExceededError:
		return v.Code
	case *UnknownReferenceError:
		return v.Code
	case *InvalidReferenceError:
		return v.Code
	case *ReferenceResolutionError:
		return v.Code
	case *CircularReferenceError:
		return v.Code
	case *PathSyntaxError:
		return v.Code
	case *PropertyAccessError:
		return v.Code
	case *TokenizerError:
		return v.Code
	case *ExpressionError:
		return v.Code
	case *StepNotFoundError:
		return v.Code
	case *UnknownDependencyError:
		return v.Code
	case *CircularDependencyError:
		return v.Code
	}
	return ""
}
