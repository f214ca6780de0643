// Package flowast defines the data model for a flow document: the flow
// itself, its ordered steps, transform operations, and the policy blocks
// that govern timeout and retry behavior. Step and TransformOp are tagged
// unions, discriminated the way the rest of this codebase encodes closed
// variant sets: a struct carrying every possible block as an optional
// pointer field, with exactly one expected to be non-nil.
package flowast

import "github.com/lemonberrylabs/flowengine/pkg/types"

// StepType is the discriminator for a Step's variant.
type StepType string

const (
	StepRequest   StepType = "request"
	StepCondition StepType = "condition"
	StepLoop      StepType = "loop"
	StepTransform StepType = "transform"
	StepDelay     StepType = "delay"
	StepStop      StepType = "stop"
)

// Flow is a named, immutable (during execution) document: an ordered list
// of uniquely-named steps plus optional initial context and policies.
type Flow struct {
	Name        string
	Description string
	Steps       []*Step
	Context     map[string]interface{}
	Policies    *PolicyBlock
}

// StepByName returns the step with the given name, or nil.
func (f *Flow) StepByName(name string) *Step {
	for _, s := range f.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Step is a tagged variant: exactly one of Request/Condition/Loop/Transform/
// Delay/Stop is expected to be set; Type mirrors which one for fast dispatch.
type Step struct {
	Name     string
	Type     StepType
	Policies *PolicyBlock

	Request   *RequestStep
	Condition *ConditionStep
	Loop      *LoopStep
	Transform *TransformStep
	Delay     *DelayStep
	Stop      *StopStep
}

// RequestStep issues an RPC call via the caller-supplied dispatch function.
type RequestStep struct {
	Method string
	Params interface{} // mapping, list, or nil; may contain ${...} references
}

// ConditionStep branches on a boolean-ish expression.
type ConditionStep struct {
	If   string
	Then *Step
	Else *Step
}

// LoopStep iterates over a list, dispatching a body step per element.
type LoopStep struct {
	Over          string
	As            string
	Condition     string // optional; empty means unset
	MaxIterations int    // 0 means unset/unbounded
	Step          *Step  // exactly one of Step/Steps is set
	Steps         []*Step
}

// TransformStep pipes an input value through an ordered operation list.
type TransformStep struct {
	Input      interface{} // expression string or a literal value
	Operations []TransformOp
}

// TransformOpType discriminates a transform pipeline stage.
type TransformOpType string

const (
	OpMap     TransformOpType = "map"
	OpFilter  TransformOpType = "filter"
	OpReduce  TransformOpType = "reduce"
	OpFlatten TransformOpType = "flatten"
	OpSort    TransformOpType = "sort"
	OpUnique  TransformOpType = "unique"
	OpGroup   TransformOpType = "group"
	OpJoin    TransformOpType = "join"
)

// TransformOp is one stage of a transform pipeline.
type TransformOp struct {
	Type    TransformOpType
	Using   string // expression (map/filter/reduce/sort/group) or separator literal (join)
	Initial interface{}
	HasInitial bool
	As      string // optional; if set, the stage's output is recorded under metadata.outputs.<as>
}

// DelayStep sleeps for Duration milliseconds, then dispatches Step.
type DelayStep struct {
	Duration int64
	Step     *Step
}

// StopStep ends the current step and, if EndWorkflow, the whole run.
type StopStep struct {
	EndWorkflow bool
}

// PolicyBlock carries timeout/retry overrides at flow, step, or
// step-type scope, matching the precedence chain in the policy resolver.
type PolicyBlock struct {
	Global *StepPolicies
	Step   *StepTypePolicies
}

// StepTypePolicies carries the flow.policies.step-scoped defaults plus a
// per-StepType override table.
type StepTypePolicies struct {
	StepPolicies        // flow.policies.step (applies to all types)
	ByType map[StepType]*StepPolicies
}

// StepPolicies is a bag of overridable per-step policies.
type StepPolicies struct {
	Timeout      *TimeoutPolicy
	RetryPolicy  *RetryPolicy
}

// TimeoutPolicy bounds step and expression-evaluation wall-clock time.
type TimeoutPolicy struct {
	Timeout        int64 // ms; 0 = unset
	ExpressionEval int64 // ms; 0 = unset
}

// BackoffStrategy selects the retry delay growth curve.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
)

// Backoff parameterizes inter-attempt delay growth.
type Backoff struct {
	Initial    int64
	Multiplier float64
	MaxDelay   int64
	Strategy   BackoffStrategy
}

// RetryPolicy governs the retry engine's attempt budget and classification.
type RetryPolicy struct {
	MaxAttempts     int
	Backoff         Backoff
	RetryableErrors []string
	RetryDelay      int64 // ms; overrides Backoff.Initial for a flat delay when set
}

// StepStatus is a step's lifecycle state.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusAborted   StepStatus = "aborted"
)

// StepResult is the wrapped, stored outcome of a step's execution.
type StepResult struct {
	Type     StepType
	Result   types.Value
	HasResult bool
	Metadata map[string]interface{}
}

// ToValue renders the wrapped result the way the evaluator and event stream
// see it: {result, type, metadata}.
func (r *StepResult) ToValue() types.Value {
	m := types.NewOrderedMap()
	if r.HasResult {
		m.Set("result", r.Result)
	} else {
		m.Set("result", types.Null)
	}
	m.Set("type", types.NewString(string(r.Type)))
	meta := types.NewOrderedMap()
	for k, v := range r.Metadata {
		meta.Set(k, toValue(v))
	}
	m.Set("metadata", types.NewMap(meta))
	return types.NewMap(m)
}

func toValue(v interface{}) types.Value {
	if vv, ok := v.(types.Value); ok {
		return vv
	}
	return types.ValueFromJSON(v)
}
