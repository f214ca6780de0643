package flowexec

import (
	"context"
	"time"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/events"
	"github.com/lemonberrylabs/flowengine/pkg/expreval"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/retry"
	"github.com/lemonberrylabs/flowengine/pkg/stepexec"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// ExecuteOptions carries the caller's cancellation signal into Execute.
type ExecuteOptions struct {
	Signal context.Context
}

// evalAdapter closes an expreval.Evaluator over a fixed per-step expression
// deadline, satisfying stepexec.Evaluator without stepexec needing to know
// about the policy resolver.
type evalAdapter struct {
	eval    *expreval.Evaluator
	timeout time.Duration
}

func (a evalAdapter) Eval(expr string, scope refresolver.Scope) (types.Value, error) {
	return a.eval.Evaluate(expr, scope, a.timeout)
}

func (a evalAdapter) Resolve(v types.Value, scope refresolver.Scope) (types.Value, error) {
	return a.eval.Resolve(v, scope)
}

// Execute runs every step of the flow in dependency order.
func (e *Executor) Execute(opts ExecuteOptions) (map[string]*flowast.StepResult, error) {
	signal := opts.Signal
	if signal == nil {
		signal = context.Background()
	}
	e.mu.Lock()
	e.globalAbort = abortscope.NewRoot(signal)
	root := e.globalAbort
	e.mu.Unlock()

	globalTimeoutMs := e.policy.ResolveGlobalTimeout()
	if globalTimeoutMs > 0 {
		timer := time.AfterFunc(time.Duration(globalTimeoutMs)*time.Millisecond, func() {
			root.Abort(abortscope.ReasonTimeout, "flow global timeout exceeded")
		})
		defer timer.Stop()
	}

	order, err := e.graph.GetExecutionOrder()
	if err != nil {
		return nil, err
	}

	e.events.Emit(events.Event{Name: events.FlowStart, Timestamp: nowMillis(), Flow: e.flow.Name})
	orderedNames := make([]string, len(order))
	for i, s := range order {
		orderedNames[i] = s.Name
	}
	e.events.Emit(events.Event{Name: events.DependencyResolved, Timestamp: nowMillis(), Flow: e.flow.Name, OrderedSteps: orderedNames})

	for _, step := range order {
		switch e.getStatus(step.Name) {
		case flowast.StatusCompleted, flowast.StatusSkipped:
			continue
		}

		if reason, msg := root.Reason(); reason != abortscope.ReasonNone {
			switch reason {
			case abortscope.ReasonStopStep:
				e.setStatus(step.Name, flowast.StatusSkipped)
				e.events.Emit(events.Event{Name: events.StepSkip, Timestamp: nowMillis(), Step: step.Name, Reason: "previous step"})
				continue
			case abortscope.ReasonPause:
				return e.Results(), types.NewPauseError(msg)
			case abortscope.ReasonTimeout:
				e.setStatus(step.Name, flowast.StatusAborted)
				e.events.Emit(events.Event{Name: events.StepTimeout, Timestamp: nowMillis(), Step: step.Name, Reason: msg})
				e.events.Emit(events.Event{Name: events.FlowTimeout, Timestamp: nowMillis(), Flow: e.flow.Name, Reason: msg})
				return e.Results(), types.NewTimeoutError(step.Name, string(step.Type), globalTimeoutMs, 0)
			default:
				e.setStatus(step.Name, flowast.StatusAborted)
				e.events.Emit(events.Event{Name: events.StepAborted, Timestamp: nowMillis(), Step: step.Name, Reason: msg})
				e.events.Emit(events.Event{Name: events.FlowAborted, Timestamp: nowMillis(), Flow: e.flow.Name, Reason: msg})
				return e.Results(), types.NewStateError("flow aborted: %s", msg)
			}
		}

		if _, err := e.execStep(step, e.scope(), root, ""); err != nil {
			e.events.Emit(events.Event{Name: events.FlowError, Timestamp: nowMillis(), Flow: e.flow.Name, Err: err})
			return e.Results(), err
		}
	}

	e.events.Emit(events.Event{Name: events.FlowComplete, Timestamp: nowMillis(), Flow: e.flow.Name})
	return e.Results(), nil
}

// Resume executes only the steps without a stored result.
func (e *Executor) Resume(opts ExecuteOptions) (map[string]*flowast.StepResult, error) {
	e.mu.Lock()
	for _, s := range e.flow.Steps {
		if _, ok := e.results[s.Name]; ok {
			e.status[s.Name] = flowast.StatusCompleted
		} else if e.status[s.Name] != flowast.StatusSkipped {
			e.status[s.Name] = flowast.StatusPending
		}
	}
	e.mu.Unlock()
	return e.Execute(opts)
}

// Retry resets the last failed step to pending and re-executes from there,
// preserving prior successful results.
func (e *Executor) Retry(opts ExecuteOptions) (map[string]*flowast.StepResult, error) {
	e.mu.Lock()
	name, ok := e.lastFailed, e.hasLastFailed
	if !ok {
		for n, st := range e.status {
			if st == flowast.StatusFailed {
				name, ok = n, true
				break
			}
		}
	}
	e.mu.Unlock()
	if !ok {
		return nil, types.NewStateError("retry() called with no failed step recorded")
	}
	if e.flow.StepByName(name) == nil {
		return nil, types.NewStateError("retry() failed step %q is not a member of the flow", name)
	}

	e.mu.Lock()
	e.status[name] = flowast.StatusPending
	delete(e.results, name)
	delete(e.resultValues, name)
	for i, n := range e.resultOrder {
		if n == name {
			e.resultOrder = append(e.resultOrder[:i], e.resultOrder[i+1:]...)
			break
		}
	}
	e.hasLastFailed = false
	e.lastFailed = ""
	e.mu.Unlock()

	return e.Execute(opts)
}

// execStep runs the shared per-step pipeline: event emission, policy
// resolution, retry wrapping, and result/status bookkeeping. Used both by
// the top-level walk (correlationID "") and by RunStep for nested steps.
func (e *Executor) execStep(step *flowast.Step, scope refresolver.Scope, parent *abortscope.Scope, correlationID string) (*flowast.StepResult, error) {
	timeoutMs := e.policy.ResolveTimeout(step, step.Type, nil)
	exprTimeoutMs := e.policy.ResolveExpressionTimeout(step, step.Type, nil)
	retryPolicy := e.policy.ResolveRetryPolicy(step, step.Type, nil)

	e.setStatus(step.Name, flowast.StatusRunning)
	e.events.Emit(events.Event{Name: events.StepStart, Timestamp: nowMillis(), Step: step.Name, StepType: string(step.Type), CorrelationID: correlationID})
	start := time.Now()

	ec := &stepexec.Context{
		Dispatch:      e.dispatch,
		Eval:          evalAdapter{eval: e.eval, timeout: time.Duration(exprTimeoutMs) * time.Millisecond},
		Runner:        e,
		NextRequestID: e.nextRequestID,
		Progress: func(stepName string, iteration, total int, pct float64) {
			e.events.Emit(events.Event{Name: events.StepProgress, Timestamp: nowMillis(), Step: stepName, CorrelationID: correlationID, Iteration: iteration, TotalIterations: total, Percent: pct})
		},
	}

	notify := func(attempt int, err error, delay time.Duration) {
		e.events.Emit(events.Event{Name: events.StepRetry, Timestamp: nowMillis(), Step: step.Name, StepType: string(step.Type), CorrelationID: correlationID, Attempt: attempt, Delay: delay.Milliseconds(), Err: err})
	}

	op := func(ctx context.Context, attempt int) (*flowast.StepResult, error) {
		childAbort := parent.WithTimeout(time.Duration(timeoutMs) * time.Millisecond)
		defer childAbort.Release()
		res, err := stepexec.Execute(childAbort.Context(), step, ec, scope, childAbort)
		if err != nil {
			reason, msg := childAbort.Reason()
			switch reason {
			case abortscope.ReasonTimeout:
				e.events.Emit(events.Event{Name: events.StepTimeout, Timestamp: nowMillis(), Step: step.Name, StepType: string(step.Type), CorrelationID: correlationID, Attempt: attempt, Reason: msg})
				return nil, types.TimeoutErrorForStep(step.Name, string(step.Type), timeoutMs, time.Since(start).Milliseconds())
			case abortscope.ReasonPause:
				return nil, types.NewPauseError(msg)
			case abortscope.ReasonNone:
				return nil, err
			default:
				if types.CodeOf(err) == "" {
					return nil, types.NewExecutionError(err, "step %q cancelled: %s", step.Name, msg)
				}
				return nil, err
			}
		}
		return res, nil
	}

	result, err := retry.Run(parent.Context(), retryPolicy, notify, op)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		e.setStatus(step.Name, flowast.StatusFailed)
		e.setLastFailed(step.Name)
		e.events.Emit(events.Event{Name: events.StepError, Timestamp: nowMillis(), Step: step.Name, StepType: string(step.Type), CorrelationID: correlationID, Duration: duration, Err: err})
		return nil, err
	}

	if step.Type == flowast.StepStop && step.Stop != nil && step.Stop.EndWorkflow {
		e.globalAbort.Abort(abortscope.ReasonStopStep, "stopped by stop step")
	}

	e.recordResult(step.Name, result, flowast.StatusCompleted)
	e.clearLastFailedIfMatches(step.Name)
	e.events.Emit(events.Event{Name: events.StepComplete, Timestamp: nowMillis(), Step: step.Name, StepType: string(step.Type), CorrelationID: correlationID, Duration: duration, Result: result.ToValue(), HasResult: true})
	return result, nil
}

// RunStep implements stepexec.Runner: the nested-step execution entry point
// reused by condition/loop/delay executors, reentering the same per-step
// pipeline with events correlated to the step it's nested under.
func (e *Executor) RunStep(ctx context.Context, step *flowast.Step, scope refresolver.Scope, parent *abortscope.Scope, correlationID string) (*flowast.StepResult, error) {
	return e.execStep(step, scope, parent, correlationID)
}
