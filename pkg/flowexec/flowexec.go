// Package flowexec is the scheduler that wires the dependency resolver,
// reference resolver/expression evaluator, policy resolver, retry engine,
// and step-executor family together: it holds the flow, the
// caller-supplied dispatch function, the event emitter, the mutable
// execution state, and the tree of abort scopes, and exposes
// execute/resume/retry/pause/reset/setContext/setStepResults/
// updateEventOptions. Grounded on the teacher's runtime/engine.go Engine
// type (mutex-guarded counters, Execute/executeSteps walk, Cancel()),
// generalized from Workflows' statement-by-statement interpreter loop into
// a dependency-ordered step walk with retry/timeout/abort-scope wrapping
// per step.
package flowexec

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/depresolver"
	"github.com/lemonberrylabs/flowengine/pkg/dispatch"
	"github.com/lemonberrylabs/flowengine/pkg/events"
	"github.com/lemonberrylabs/flowengine/pkg/expreval"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/policy"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// Executor runs one flow instance. Every dependency (dispatch, logger,
// event options) is injected at construction -- there is no process-global
// state.
type Executor struct {
	flow     *flowast.Flow
	dispatch dispatch.Func
	eval     *expreval.Evaluator
	policy   *policy.Resolver
	events   *events.Emitter
	logger   *zap.Logger
	graph    *depresolver.Graph

	mu            sync.Mutex
	resultOrder   []string
	results       map[string]*flowast.StepResult
	resultValues  map[string]types.Value
	status        map[string]flowast.StepStatus
	context       *types.OrderedMap
	lastFailed    string
	hasLastFailed bool
	globalAbort   *abortscope.Scope
	requestID     int64
}

// New builds an Executor for flow. logger may be nil (a no-op logger is
// substituted).
func New(flow *flowast.Flow, dispatchFn dispatch.Func, logger *zap.Logger, opts events.Options) (*Executor, error) {
	graph, err := depresolver.Build(flow)
	if err != nil {
		return nil, err
	}
	if _, err := graph.GetExecutionOrder(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		flow:         flow,
		dispatch:     dispatchFn,
		eval:         expreval.New(),
		policy:       policy.New(flow),
		events:       events.New(opts),
		logger:       logger,
		graph:        graph,
		results:      map[string]*flowast.StepResult{},
		resultValues: map[string]types.Value{},
		status:       map[string]flowast.StepStatus{},
		context:      contextFromFlow(flow),
	}
	for _, s := range flow.Steps {
		e.status[s.Name] = flowast.StatusPending
	}
	return e, nil
}

func contextFromFlow(flow *flowast.Flow) *types.OrderedMap {
	m := types.NewOrderedMap()
	keys := make([]string, 0, len(flow.Context))
	for k := range flow.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, types.ValueFromJSON(flow.Context[k]))
	}
	return m
}

// Subscribe registers an event subscriber. Must be called before Execute to
// observe flow:start.
func (e *Executor) Subscribe(fn events.Subscriber) {
	e.events.Subscribe(fn)
}

// Results returns a snapshot map of step name -> StepResult. Map iteration
// order is unspecified; OrderedResults gives first-completion order.
func (e *Executor) Results() map[string]*flowast.StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*flowast.StepResult, len(e.results))
	for k, v := range e.results {
		out[k] = v
	}
	return out
}

// OrderedResults returns step name -> StepResult pairs in first-completion
// order, for callers needing the insertion-order guarantee directly.
func (e *Executor) OrderedResults() []struct {
	Name   string
	Result *flowast.StepResult
} {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]struct {
		Name   string
		Result *flowast.StepResult
	}, 0, len(e.resultOrder))
	for _, name := range e.resultOrder {
		out = append(out, struct {
			Name   string
			Result *flowast.StepResult
		}{name, e.results[name]})
	}
	return out
}

// Status returns the current lifecycle status of every step.
func (e *Executor) Status() map[string]flowast.StepStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]flowast.StepStatus, len(e.status))
	for k, v := range e.status {
		out[k] = v
	}
	return out
}

func (e *Executor) nextRequestID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.requestID >= math.MaxInt64-1 {
		e.requestID = 0
	}
	e.requestID++
	return e.requestID
}

// scope builds the reference-resolution scope for a step dispatched at the
// top level: no extra local bindings, full accumulated step results and
// global context.
func (e *Executor) scope() refresolver.Scope {
	e.mu.Lock()
	defer e.mu.Unlock()
	values := make(map[string]types.Value, len(e.resultValues))
	for k, v := range e.resultValues {
		values[k] = v
	}
	return refresolver.Scope{Local: map[string]types.Value{}, StepResults: values, Context: types.NewMap(e.context)}
}

func (e *Executor) recordResult(name string, result *flowast.StepResult, status flowast.StepStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.results[name]; !exists {
		e.resultOrder = append(e.resultOrder, name)
	}
	e.results[name] = result
	e.resultValues[name] = result.ToValue()
	e.status[name] = status
}

func (e *Executor) setStatus(name string, status flowast.StepStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status[name] = status
}

func (e *Executor) getStatus(name string) flowast.StepStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status[name]
}

func (e *Executor) setLastFailed(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFailed = name
	e.hasLastFailed = true
}

func (e *Executor) clearLastFailedIfMatches(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasLastFailed && e.lastFailed == name {
		e.hasLastFailed = false
		e.lastFailed = ""
	}
}

// LastFailedStep returns the name of the most recently failed step, if any.
func (e *Executor) LastFailedStep() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFailed, e.hasLastFailed
}
