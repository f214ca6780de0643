package flowexec

import (
	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/events"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// Pause triggers the global abort scope with the pause marker: in-flight
// steps observe cancellation and the top-level Execute call resolves with a
// PauseError. No-op if the scope is already aborted.
func (e *Executor) Pause() {
	e.mu.Lock()
	root := e.globalAbort
	e.mu.Unlock()
	if root == nil {
		return
	}
	root.Abort(abortscope.ReasonPause, "paused")
}

// Reset triggers the global abort scope with the reset marker and clears all
// per-step state (results, status, last-failed marker) back to a fresh
// baseline. Any in-flight run observes cancellation; reset is never
// recoverable on the same run -- callers must start a new Execute call
// afterward.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.globalAbort != nil {
		e.globalAbort.Abort(abortscope.ReasonReset, "flow reset")
	}
	e.resultOrder = nil
	e.results = map[string]*flowast.StepResult{}
	e.resultValues = map[string]types.Value{}
	e.status = map[string]flowast.StepStatus{}
	for _, s := range e.flow.Steps {
		e.status[s.Name] = flowast.StatusPending
	}
	e.lastFailed = ""
	e.hasLastFailed = false
	e.context = contextFromFlow(e.flow)
}

// SetContext merges values into the mutable global context, overwriting any
// existing keys of the same name. Throws StateError if values is nil --
// callers needing a full reset should replace keys explicitly instead.
func (e *Executor) SetContext(values map[string]interface{}) error {
	if values == nil {
		return types.NewStateError("setContext: values must not be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range values {
		e.context.Set(k, types.ValueFromJSON(v))
	}
	return nil
}

// SetStepResults pre-seeds step results (for resume-from-snapshot use
// cases): every name must be a step in the flow, or this call fails without
// applying any of the supplied results.
func (e *Executor) SetStepResults(results map[string]*flowast.StepResult) error {
	for name := range results {
		if e.flow.StepByName(name) == nil {
			return types.NewStateError("setStepResults: %q is not a step in this flow", name)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, res := range results {
		if _, exists := e.results[name]; !exists {
			e.resultOrder = append(e.resultOrder, name)
		}
		e.results[name] = res
		e.resultValues[name] = res.ToValue()
		e.status[name] = flowast.StatusCompleted
	}
	return nil
}

// UpdateEventOptions applies a partial patch to the event emitter's live
// configuration.
func (e *Executor) UpdateEventOptions(patch events.OptionsPatch) {
	e.events.ApplyPatch(patch)
}
