package stepexec

import (
	"context"
	"time"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// ConditionExecutor branches on a boolean-ish expression, taking the then
// branch for any truthy value -- no forced bool coercion.
type ConditionExecutor struct{}

func (ConditionExecutor) CanExecute(step *flowast.Step) bool {
	return step.Type == flowast.StepCondition && step.Condition != nil
}

func (ConditionExecutor) Execute(ctx context.Context, step *flowast.Step, ec *Context, scope refresolver.Scope, abort *abortscope.Scope) (*flowast.StepResult, error) {
	c := step.Condition
	condVal, err := ec.Eval.Eval(c.If, scope)
	if err != nil {
		return nil, types.NewExecutionError(err, "condition step %q: evaluating if", step.Name)
	}

	branch := "else"
	var nested *flowast.StepResult
	if condVal.Truthy() {
		branch = "then"
		nested, err = ec.Runner.RunStep(ctx, c.Then, scope, abort, step.Name)
	} else if c.Else != nil {
		nested, err = ec.Runner.RunStep(ctx, c.Else, scope, abort, step.Name)
	}
	if err != nil {
		return nil, types.NewExecutionError(err, "condition step %q: %s branch failed", step.Name, branch)
	}

	meta := map[string]interface{}{
		"branchTaken":    branch,
		"condition":      c.If,
		"conditionValue": condVal,
		"timestamp":      time.Now().UnixMilli(),
	}
	result := &flowast.StepResult{Type: flowast.StepCondition, Metadata: meta}
	if nested != nil {
		result.Result = nested.ToValue()
		result.HasResult = true
	}
	return result, nil
}
