package stepexec

import (
	"time"

	"context"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// LoopExecutor iterates over a list, dispatching a body step per element.
type LoopExecutor struct{}

func (LoopExecutor) CanExecute(step *flowast.Step) bool {
	return step.Type == flowast.StepLoop && step.Loop != nil
}

func (LoopExecutor) Execute(ctx context.Context, step *flowast.Step, ec *Context, scope refresolver.Scope, abort *abortscope.Scope) (*flowast.StepResult, error) {
	l := step.Loop
	overVal, err := ec.Eval.Eval(l.Over, scope)
	if err != nil {
		return nil, types.NewExecutionError(err, "loop step %q: evaluating over", step.Name)
	}
	if overVal.Type() != types.TypeList {
		return nil, types.NewValidationError("loop step %q: over must resolve to a list, got %s", step.Name, overVal.Type())
	}
	items := overVal.AsList()
	total := len(items)

	var iterationHistory []types.Value
	var nestedResults []types.Value
	iterationCount := 0
	skippedCount := 0

	for idx, item := range items {
		if l.MaxIterations > 0 && iterationCount >= l.MaxIterations {
			skippedCount += total - idx
			break
		}
		if abort.Aborted() {
			break
		}
		iterationCount++
		info := iterationInfo(idx, iterationCount, total, l.MaxIterations, item)
		iterScope := childScope(scope, map[string]types.Value{
			l.As:       item,
			"metadata": loopMetadata(iterationHistory, info),
		})

		if l.Condition != "" {
			condVal, err := ec.Eval.Eval(l.Condition, iterScope)
			if err != nil {
				return nil, types.NewExecutionError(err, "loop step %q: evaluating condition", step.Name)
			}
			if !condVal.Truthy() {
				skippedCount++
				iterationHistory = append(iterationHistory, info)
				continue
			}
		}

		var dispatched []types.Value
		if l.Step != nil {
			res, err := ec.Runner.RunStep(ctx, l.Step, iterScope, abort, step.Name)
			if err != nil {
				return nil, types.NewExecutionError(err, "loop step %q: iteration %d failed", step.Name, idx)
			}
			dispatched = append(dispatched, res.ToValue())
		}
		for _, s := range l.Steps {
			res, err := ec.Runner.RunStep(ctx, s, iterScope, abort, step.Name)
			if err != nil {
				return nil, types.NewExecutionError(err, "loop step %q: iteration %d step %q failed", step.Name, idx, s.Name)
			}
			dispatched = append(dispatched, res.ToValue())
		}
		switch len(dispatched) {
		case 0:
		case 1:
			nestedResults = append(nestedResults, dispatched[0])
		default:
			nestedResults = append(nestedResults, types.NewList(dispatched))
		}
		iterationHistory = append(iterationHistory, info)

		if ec.Progress != nil {
			ec.Progress(step.Name, idx, total, percent(idx+1, total))
		}
	}

	meta := map[string]interface{}{
		"iterationCount": iterationCount,
		"skippedCount":   skippedCount,
		"variable":       l.As,
		"timestamp":      time.Now().UnixMilli(),
	}
	return &flowast.StepResult{Type: flowast.StepLoop, Result: types.NewList(nestedResults), HasResult: true, Metadata: meta}, nil
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

// iterationInfo builds the {index, count, total, maxIterations, isFirst,
// isLast, value} shape exposed as metadata.current inside the iteration
// scope.
func iterationInfo(idx, count, total, maxIterations int, value types.Value) types.Value {
	m := types.NewOrderedMap()
	m.Set("index", types.NewInt(int64(idx)))
	m.Set("count", types.NewInt(int64(count)))
	m.Set("total", types.NewInt(int64(total)))
	m.Set("maxIterations", types.NewInt(int64(maxIterations)))
	m.Set("isFirst", types.NewBool(idx == 0))
	m.Set("isLast", types.NewBool(idx == total-1))
	m.Set("value", value)
	return types.NewMap(m)
}

// loopMetadata builds the {iteration, current} shape bound under the
// "metadata" local name inside an iteration scope: iteration is a snapshot
// of every prior iteration's info, current is this iteration's.
func loopMetadata(history []types.Value, current types.Value) types.Value {
	m := types.NewOrderedMap()
	m.Set("iteration", types.NewList(append([]types.Value{}, history...)))
	m.Set("current", current)
	return types.NewMap(m)
}
