// Package stepexec implements the polymorphic step-executor family:
// request, condition, loop, transform, delay, stop. Each executor
// implements CanExecute/Execute; the flow executor in pkg/flowexec owns
// timeout/abort-scope construction, retry wrapping, and result storage, and
// calls back into the same family for nested steps via the Runner
// interface, so every executor here stays a pure function of its step, a
// scope, and whatever ctx/abort its caller already built. Grounded on the
// teacher's runtime/engine.go executeStep-family switch, split out into one
// type per step kind to match the step/operation tagged-union style used
// throughout this codebase.
package stepexec

import (
	"context"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/dispatch"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// Evaluator is the expression-evaluation surface an executor needs: a
// single expression evaluated against a scope, and a deep reference-resolve
// pass over a whole value. Implemented by an adapter in pkg/flowexec that
// closes over the current step's policy-resolved expression deadline, so
// this package never needs to import the policy resolver.
type Evaluator interface {
	Eval(expr string, scope refresolver.Scope) (types.Value, error)
	Resolve(v types.Value, scope refresolver.Scope) (types.Value, error)
}

// Runner is the nested-step execution entry point: the same
// per-step pipeline (abort-scope/timeout construction, retry wrapping,
// dispatch, result storage, correlated events) the flow executor uses at
// the top level, reentered for a single nested step. correlationID names
// the step this nested execution is running underneath.
type Runner interface {
	RunStep(ctx context.Context, step *flowast.Step, scope refresolver.Scope, parent *abortscope.Scope, correlationID string) (*flowast.StepResult, error)
}

// Context bundles the shared, per-flow-instance dependencies every executor
// needs. Built once by the flow executor and threaded through every call.
type Context struct {
	Dispatch      dispatch.Func
	Eval          Evaluator
	Runner        Runner
	NextRequestID func() int64
	Progress      func(stepName string, iteration, total int, percent float64)
}

// StepExecutor is one member of the polymorphic step-executor family.
type StepExecutor interface {
	CanExecute(step *flowast.Step) bool
	Execute(ctx context.Context, step *flowast.Step, ec *Context, scope refresolver.Scope, abort *abortscope.Scope) (*flowast.StepResult, error)
}

var family = []StepExecutor{
	RequestExecutor{},
	ConditionExecutor{},
	LoopExecutor{},
	TransformExecutor{},
	DelayExecutor{},
	StopExecutor{},
}

// Execute dispatches step to the first executor in the family that accepts
// it. An unrecognized or malformed step variant is a ValidationError.
func Execute(ctx context.Context, step *flowast.Step, ec *Context, scope refresolver.Scope, abort *abortscope.Scope) (*flowast.StepResult, error) {
	for _, ex := range family {
		if ex.CanExecute(step) {
			return ex.Execute(ctx, step, ec, scope, abort)
		}
	}
	return nil, types.NewValidationError("step %q: unrecognized or malformed step variant %q", step.Name, step.Type)
}

// childScope derives a scope for nested evaluation, overlaying extra local
// bindings on top of parent's without mutating it.
func childScope(parent refresolver.Scope, extra map[string]types.Value) refresolver.Scope {
	local := make(map[string]types.Value, len(parent.Local)+len(extra))
	for k, v := range parent.Local {
		local[k] = v
	}
	for k, v := range extra {
		local[k] = v
	}
	return refresolver.Scope{Local: local, StepResults: parent.StepResults, Context: parent.Context}
}
