// Package policy resolves the effective timeout and retry policy for a step
// by walking a precedence chain: a per-call override beats the step's own
// policies, which beat the flow's per-step-type policies, which beat the
// flow's step-wide policies, which beat the flow's global policies, which
// beat the engine's built-in defaults.
package policy

import "github.com/lemonberrylabs/flowengine/pkg/flowast"

// Default timeouts in milliseconds.
const (
	DefaultRequestTimeout   int64 = 5000
	DefaultConditionTimeout int64 = 5000
	DefaultLoopTimeout      int64 = 60000
	DefaultTransformTimeout int64 = 10000
	DefaultDelayTimeout     int64 = 10000
	DefaultStopTimeout      int64 = 1000
	DefaultGlobalTimeout    int64 = 600000
	DefaultExpressionTimeout int64 = 1000
)

func defaultTimeoutFor(stepType flowast.StepType) int64 {
	switch stepType {
	case flowast.StepRequest:
		return DefaultRequestTimeout
	case flowast.StepCondition:
		return DefaultConditionTimeout
	case flowast.StepLoop:
		return DefaultLoopTimeout
	case flowast.StepTransform:
		return DefaultTransformTimeout
	case flowast.StepDelay:
		return DefaultDelayTimeout
	case flowast.StepStop:
		return DefaultStopTimeout
	default:
		return DefaultRequestTimeout
	}
}

// Resolver resolves effective policies for steps within one flow.
type Resolver struct {
	flow *flowast.Flow
}

// New creates a Resolver scoped to flow.
func New(flow *flowast.Flow) *Resolver {
	return &Resolver{flow: flow}
}

func (r *Resolver) flowStepPolicies() *flowast.StepTypePolicies {
	if r.flow == nil || r.flow.Policies == nil {
		return nil
	}
	return r.flow.Policies.Step
}

func (r *Resolver) flowGlobalPolicies() *flowast.StepPolicies {
	if r.flow == nil || r.flow.Policies == nil {
		return nil
	}
	return r.flow.Policies.Global
}

// ResolveTimeout returns the effective step timeout in ms, per the
// override > step.policies > flow.policies.step[type] > flow.policies.step >
// flow.policies.global > default chain.
func (r *Resolver) ResolveTimeout(step *flowast.Step, stepType flowast.StepType, override *flowast.TimeoutPolicy) int64 {
	if override != nil && override.Timeout > 0 {
		return override.Timeout
	}
	if step != nil && step.Policies != nil && step.Policies.Global != nil && step.Policies.Global.Timeout != nil && step.Policies.Global.Timeout.Timeout > 0 {
		return step.Policies.Global.Timeout.Timeout
	}
	if sp := r.flowStepPolicies(); sp != nil {
		if byType, ok := sp.ByType[stepType]; ok && byType != nil && byType.Timeout != nil && byType.Timeout.Timeout > 0 {
			return byType.Timeout.Timeout
		}
		if sp.Timeout != nil && sp.Timeout.Timeout > 0 {
			return sp.Timeout.Timeout
		}
	}
	if gp := r.flowGlobalPolicies(); gp != nil && gp.Timeout != nil && gp.Timeout.Timeout > 0 {
		return gp.Timeout.Timeout
	}
	return defaultTimeoutFor(stepType)
}

// ResolveExpressionTimeout resolves the expression-evaluation deadline in ms
// via the same precedence chain, keyed off TimeoutPolicy.ExpressionEval.
func (r *Resolver) ResolveExpressionTimeout(step *flowast.Step, stepType flowast.StepType, override *flowast.TimeoutPolicy) int64 {
	if override != nil && override.ExpressionEval > 0 {
		return override.ExpressionEval
	}
	if step != nil && step.Policies != nil && step.Policies.Global != nil && step.Policies.Global.Timeout != nil && step.Policies.Global.Timeout.ExpressionEval > 0 {
		return step.Policies.Global.Timeout.ExpressionEval
	}
	if sp := r.flowStepPolicies(); sp != nil {
		if byType, ok := sp.ByType[stepType]; ok && byType != nil && byType.Timeout != nil && byType.Timeout.ExpressionEval > 0 {
			return byType.Timeout.ExpressionEval
		}
		if sp.Timeout != nil && sp.Timeout.ExpressionEval > 0 {
			return sp.Timeout.ExpressionEval
		}
	}
	if gp := r.flowGlobalPolicies(); gp != nil && gp.Timeout != nil && gp.Timeout.ExpressionEval > 0 {
		return gp.Timeout.ExpressionEval
	}
	return DefaultExpressionTimeout
}

// ResolveRetryPolicy returns the effective retry policy, or nil if none
// applies at any precedence level.
func (r *Resolver) ResolveRetryPolicy(step *flowast.Step, stepType flowast.StepType, override *flowast.RetryPolicy) *flowast.RetryPolicy {
	if override != nil {
		return override
	}
	if step != nil && step.Policies != nil && step.Policies.Global != nil && step.Policies.Global.RetryPolicy != nil {
		return step.Policies.Global.RetryPolicy
	}
	if sp := r.flowStepPolicies(); sp != nil {
		if byType, ok := sp.ByType[stepType]; ok && byType != nil && byType.RetryPolicy != nil {
			return byType.RetryPolicy
		}
		if sp.RetryPolicy != nil {
			return sp.RetryPolicy
		}
	}
	if gp := r.flowGlobalPolicies(); gp != nil && gp.RetryPolicy != nil {
		return gp.RetryPolicy
	}
	return nil
}

// ResolveGlobalTimeout returns the whole-run timeout in ms.
func (r *Resolver) ResolveGlobalTimeout() int64 {
	if gp := r.flowGlobalPolicies(); gp != nil && gp.Timeout != nil && gp.Timeout.Timeout > 0 {
		return gp.Timeout.Timeout
	}
	return DefaultGlobalTimeout
}
