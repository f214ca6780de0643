// Package events defines the flow executor's structured event stream:
// flow/step lifecycle notifications subscribers can observe without
// blocking the executor. Grounded on the teacher's stdlib package's
// `events` helpers (typed payload construction) generalized from GCW's
// sys.log-style one-off events into a full pub/sub stream.
package events

import "github.com/lemonberrylabs/flowengine/pkg/types"

// Name enumerates the event stream's event names.
type Name string

const (
	FlowStart         Name = "flow:start"
	FlowComplete      Name = "flow:complete"
	FlowError         Name = "flow:error"
	FlowAborted       Name = "flow:aborted"
	FlowTimeout       Name = "flow:timeout"
	StepStart         Name = "step:start"
	StepComplete      Name = "step:complete"
	StepError         Name = "step:error"
	StepSkip          Name = "step:skip"
	StepProgress      Name = "step:progress"
	StepRetry         Name = "step:retry"
	StepTimeout       Name = "step:timeout"
	StepAborted       Name = "step:aborted"
	DependencyResolved Name = "dependency:resolved"
)

// Event is one emitted occurrence. Step-scoped events set Step (and,
// for a nested step, CorrelationID naming the step it's nested under);
// flow-scoped events leave Step empty.
type Event struct {
	Name           Name
	Timestamp      int64 // unix millis
	Flow           string
	Step           string
	CorrelationID  string
	StepType       string
	Duration       int64
	Reason         string
	Attempt        int
	Delay          int64
	Err            error
	Iteration      int
	TotalIterations int
	Percent        float64
	OrderedSteps   []string
	Result         types.Value
	HasResult      bool
	Context        types.Value
	HasContext     bool
}

// Subscriber receives events synchronously on the emitter's calling
// goroutine -- subscribers must not block.
type Subscriber func(Event)

// Options controls which event categories are emitted and how much payload
// they carry.
type Options struct {
	EmitFlowEvents       bool
	EmitStepEvents       bool
	EmitDependencyEvents bool
	IncludeResults       bool
	IncludeContext       bool
}

// DefaultOptions emits every category and includes results; context
// snapshots are off (IncludeContext is false).
func DefaultOptions() Options {
	return Options{EmitFlowEvents: true, EmitStepEvents: true, EmitDependencyEvents: true, IncludeResults: true}
}

// Emitter fans an Event out to every subscribed Subscriber, honoring Options
// to drop whole categories or to trim complete-event payloads.
type Emitter struct {
	opts        Options
	subscribers []Subscriber
}

// New creates an Emitter with the given options.
func New(opts Options) *Emitter {
	return &Emitter{opts: opts}
}

// Subscribe registers fn to receive every emitted event from now on.
func (e *Emitter) Subscribe(fn Subscriber) {
	e.subscribers = append(e.subscribers, fn)
}

// UpdateOptions replaces the emitter's live options wholesale.
func (e *Emitter) UpdateOptions(opts Options) {
	e.opts = opts
}

// OptionsPatch carries a partial update to an Emitter's Options: nil fields
// leave the current setting untouched.
type OptionsPatch struct {
	EmitFlowEvents       *bool
	EmitStepEvents       *bool
	EmitDependencyEvents *bool
	IncludeResults       *bool
	IncludeContext       *bool
}

// ApplyPatch merges patch into the emitter's live options, leaving any nil
// field's current value in place.
func (e *Emitter) ApplyPatch(patch OptionsPatch) {
	if patch.EmitFlowEvents != nil {
		e.opts.EmitFlowEvents = *patch.EmitFlowEvents
	}
	if patch.EmitStepEvents != nil {
		e.opts.EmitStepEvents = *patch.EmitStepEvents
	}
	if patch.EmitDependencyEvents != nil {
		e.opts.EmitDependencyEvents = *patch.EmitDependencyEvents
	}
	if patch.IncludeResults != nil {
		e.opts.IncludeResults = *patch.IncludeResults
	}
	if patch.IncludeContext != nil {
		e.opts.IncludeContext = *patch.IncludeContext
	}
}

// Options returns the emitter's current options.
func (e *Emitter) Options() Options { return e.opts }

func isFlowEvent(n Name) bool {
	switch n {
	case FlowStart, FlowComplete, FlowError, FlowAborted, FlowTimeout:
		return true
	}
	return false
}

func isDependencyEvent(n Name) bool { return n == DependencyResolved }

// Emit dispatches ev to every subscriber, subject to category filtering and
// the IncludeResults/IncludeContext trimming rules.
func (e *Emitter) Emit(ev Event) {
	if isFlowEvent(ev.Name) && !e.opts.EmitFlowEvents {
		return
	}
	if isDependencyEvent(ev.Name) && !e.opts.EmitDependencyEvents {
		return
	}
	if !isFlowEvent(ev.Name) && !isDependencyEvent(ev.Name) && !e.opts.EmitStepEvents {
		return
	}
	if ev.Name == StepComplete && !e.opts.IncludeResults {
		ev.HasResult = false
		ev.Result = types.Null
	}
	if !e.opts.IncludeContext {
		ev.HasContext = false
		ev.Context = types.Null
	}
	for _, sub := range e.subscribers {
		sub(ev)
	}
}
