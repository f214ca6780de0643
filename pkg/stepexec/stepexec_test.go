package stepexec

import (
	"context"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/expreval"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// evalAdapter adapts an *expreval.Evaluator to the stepexec.Evaluator
// interface with no per-call timeout, mirroring the production adapter in
// pkg/flowexec but without the policy-resolved deadline plumbing the real
// one carries.
type evalAdapter struct{ e *expreval.Evaluator }

func (a evalAdapter) Eval(expr string, scope refresolver.Scope) (types.Value, error) {
	return a.e.Evaluate(expr, scope, 0)
}

func (a evalAdapter) Resolve(v types.Value, scope refresolver.Scope) (types.Value, error) {
	return a.e.Resolve(v, scope)
}

// recursiveRunner implements Runner by reentering stepexec.Execute directly,
// so tests of composite executors (condition/loop/delay) can dispatch real
// nested steps without pulling in pkg/flowexec.
type recursiveRunner struct{ ec *Context }

func (r *recursiveRunner) RunStep(ctx context.Context, step *flowast.Step, scope refresolver.Scope, parent *abortscope.Scope, correlationID string) (*flowast.StepResult, error) {
	return Execute(ctx, step, r.ec, scope, parent)
}

func newTestContext() *Context {
	ec := &Context{
		Eval:          evalAdapter{expreval.New()},
		NextRequestID: func() int64 { return 1 },
	}
	ec.Runner = &recursiveRunner{ec: ec}
	return ec
}

func newTestScope(local map[string]types.Value) refresolver.Scope {
	if local == nil {
		local = map[string]types.Value{}
	}
	return refresolver.Scope{
		Local:       local,
		StepResults: map[string]types.Value{},
		Context:     types.NewMap(types.NewOrderedMap()),
	}
}
