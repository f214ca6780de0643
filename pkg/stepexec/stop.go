package stepexec

import (
	"context"
	"time"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
)

// StopExecutor ends the current step and reports whether endWorkflow was
// set. It cannot itself abort the whole run: the scope
// it's handed is a transient per-attempt child that the caller releases
// immediately after this call returns, and abortscope only propagates
// parent to child, never child to parent. The flow executor is the one
// that actually aborts the global scope, once it sees this step's result.
type StopExecutor struct{}

func (StopExecutor) CanExecute(step *flowast.Step) bool {
	return step.Type == flowast.StepStop
}

func (StopExecutor) Execute(ctx context.Context, step *flowast.Step, ec *Context, scope refresolver.Scope, abort *abortscope.Scope) (*flowast.StepResult, error) {
	endWorkflow := step.Stop != nil && step.Stop.EndWorkflow
	meta := map[string]interface{}{"endWorkflow": endWorkflow, "timestamp": time.Now().UnixMilli()}
	return &flowast.StepResult{Type: flowast.StepStop, Metadata: meta}, nil
}
