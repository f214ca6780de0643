package stepexec

import (
	"context"
	"time"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// DelayExecutor sleeps for a fixed duration, then dispatches a nested step.
type DelayExecutor struct{}

func (DelayExecutor) CanExecute(step *flowast.Step) bool {
	return step.Type == flowast.StepDelay && step.Delay != nil
}

func (DelayExecutor) Execute(ctx context.Context, step *flowast.Step, ec *Context, scope refresolver.Scope, abort *abortscope.Scope) (*flowast.StepResult, error) {
	d := step.Delay
	if d.Duration < 0 {
		return nil, types.NewValidationError("delay step %q: duration must be >= 0", step.Name)
	}
	if d.Step == nil {
		return nil, types.NewValidationError("delay step %q: missing nested step", step.Name)
	}

	timer := time.NewTimer(time.Duration(d.Duration) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	nestedScope := childScope(scope, map[string]types.Value{
		"_nestedStep": types.NewBool(true),
		"_parentStep": types.NewString(step.Name),
	})
	nested, err := ec.Runner.RunStep(ctx, d.Step, nestedScope, abort, step.Name)
	if err != nil {
		return nil, err
	}

	meta := map[string]interface{}{"duration": d.Duration, "timestamp": time.Now().UnixMilli()}
	return &flowast.StepResult{Type: flowast.StepDelay, Result: nested.ToValue(), HasResult: true, Metadata: meta}, nil
}
