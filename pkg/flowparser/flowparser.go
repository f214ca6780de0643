// Package flowparser decodes YAML/JSON flow documents into the flowast data
// model. Grounded on the teacher's
// pkg/parser.go (YAML/JSON -> ast.Workflow structural walk): the same
// decode-into-generic-map-then-build-typed-AST shape, with GCW's step-type
// keywords (assign/switch/call/...) replaced by this domain's step
// discriminators (request/condition/loop/transform/delay/stop).
package flowparser

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/flowengine/pkg/flowast"
)

// MaxSourceSize bounds a flow document's size, mirroring the teacher's
// parser.MaxSourceSize guard against pathological input.
const MaxSourceSize = 256 * 1024

// ParseError reports a malformed flow document, naming the offending step
// when known.
type ParseError struct {
	Message string
	Step    string
}

func (e *ParseError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("flow parse error at step %q: %s", e.Step, e.Message)
	}
	return fmt.Sprintf("flow parse error: %s", e.Message)
}

// Parse decodes a YAML or JSON flow document into a *flowast.Flow. JSON is a
// subset of YAML so a single yaml.Unmarshal handles both wire formats, the
// way the teacher's Parse does for workflow documents.
func Parse(source []byte) (*flowast.Flow, error) {
	if len(source) > MaxSourceSize {
		return nil, &ParseError{Message: fmt.Sprintf("flow source size %d exceeds maximum %d bytes", len(source), MaxSourceSize)}
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(source, &raw); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML/JSON: %v", err)}
	}
	return FromMap(raw)
}

// FromMap builds a *flowast.Flow from an already-decoded generic document,
// for callers that source flow definitions from somewhere other than raw
// bytes (the REST API's JSON body, for instance).
func FromMap(raw map[string]interface{}) (*flowast.Flow, error) {
	name, _ := raw["name"].(string)
	if name == "" {
		return nil, &ParseError{Message: "flow document missing required \"name\""}
	}
	description, _ := raw["description"].(string)

	rawSteps, _ := raw["steps"].([]interface{})
	steps := make([]*flowast.Step, 0, len(rawSteps))
	seen := map[string]bool{}
	for i, rs := range rawSteps {
		sm, ok := rs.(map[string]interface{})
		if !ok {
			return nil, &ParseError{Message: fmt.Sprintf("step %d is not a mapping", i)}
		}
		step, err := parseStep(sm)
		if err != nil {
			return nil, err
		}
		if seen[step.Name] {
			return nil, &ParseError{Message: "duplicate step name", Step: step.Name}
		}
		seen[step.Name] = true
		steps = append(steps, step)
	}

	var context map[string]interface{}
	if c, ok := raw["context"].(map[string]interface{}); ok {
		context = c
	}

	var policies *flowast.PolicyBlock
	if p, ok := raw["policies"].(map[string]interface{}); ok {
		policies = parsePolicyBlock(p)
	}

	return &flowast.Flow{
		Name:        name,
		Description: description,
		Steps:       steps,
		Context:     context,
		Policies:    policies,
	}, nil
}

func parseStep(m map[string]interface{}) (*flowast.Step, error) {
	name, _ := m["name"].(string)
	if name == "" {
		return nil, &ParseError{Message: "step missing required \"name\""}
	}

	step := &flowast.Step{Name: name}
	if p, ok := m["policies"].(map[string]interface{}); ok {
		step.Policies = parsePolicyBlock(p)
	}

	switch {
	case m["request"] != nil:
		rm, ok := m["request"].(map[string]interface{})
		if !ok {
			return nil, &ParseError{Message: "request block must be a mapping", Step: name}
		}
		method, _ := rm["method"].(string)
		if method == "" {
			return nil, &ParseError{Message: "request.method must be a non-empty string", Step: name}
		}
		step.Type = flowast.StepRequest
		step.Request = &flowast.RequestStep{Method: method, Params: rm["params"]}

	case m["condition"] != nil:
		cm, ok := m["condition"].(map[string]interface{})
		if !ok {
			return nil, &ParseError{Message: "condition block must be a mapping", Step: name}
		}
		ifExpr, _ := cm["if"].(string)
		if ifExpr == "" {
			return nil, &ParseError{Message: "condition.if must be a non-empty expression", Step: name}
		}
		cond := &flowast.ConditionStep{If: ifExpr}
		if thenM, ok := cm["then"].(map[string]interface{}); ok {
			thenStep, err := parseStep(thenM)
			if err != nil {
				return nil, err
			}
			cond.Then = thenStep
		} else {
			return nil, &ParseError{Message: "condition.then is required", Step: name}
		}
		if elseM, ok := cm["else"].(map[string]interface{}); ok {
			elseStep, err := parseStep(elseM)
			if err != nil {
				return nil, err
			}
			cond.Else = elseStep
		}
		step.Type = flowast.StepCondition
		step.Condition = cond

	case m["loop"] != nil:
		lm, ok := m["loop"].(map[string]interface{})
		if !ok {
			return nil, &ParseError{Message: "loop block must be a mapping", Step: name}
		}
		over, _ := lm["over"].(string)
		as, _ := lm["as"].(string)
		if over == "" || as == "" {
			return nil, &ParseError{Message: "loop.over and loop.as are required", Step: name}
		}
		loop := &flowast.LoopStep{Over: over, As: as}
		if cond, ok := lm["condition"].(string); ok {
			loop.Condition = cond
		}
		if mi, ok := asInt(lm["maxIterations"]); ok {
			loop.MaxIterations = int(mi)
		}
		hasStep := lm["step"] != nil
		hasSteps := lm["steps"] != nil
		if hasStep == hasSteps {
			return nil, &ParseError{Message: "loop requires exactly one of step/steps", Step: name}
		}
		if hasStep {
			sm, ok := lm["step"].(map[string]interface{})
			if !ok {
				return nil, &ParseError{Message: "loop.step must be a mapping", Step: name}
			}
			inner, err := parseStep(sm)
			if err != nil {
				return nil, err
			}
			loop.Step = inner
		} else {
			rawInner, _ := lm["steps"].([]interface{})
			for _, ri := range rawInner {
				sm, ok := ri.(map[string]interface{})
				if !ok {
					return nil, &ParseError{Message: "loop.steps entries must be mappings", Step: name}
				}
				inner, err := parseStep(sm)
				if err != nil {
					return nil, err
				}
				loop.Steps = append(loop.Steps, inner)
			}
		}
		step.Type = flowast.StepLoop
		step.Loop = loop

	case m["transform"] != nil:
		tm, ok := m["transform"].(map[string]interface{})
		if !ok {
			return nil, &ParseError{Message: "transform block must be a mapping", Step: name}
		}
		transform := &flowast.TransformStep{Input: tm["input"]}
		rawOps, _ := tm["operations"].([]interface{})
		for _, ro := range rawOps {
			om, ok := ro.(map[string]interface{})
			if !ok {
				return nil, &ParseError{Message: "transform.operations entries must be mappings", Step: name}
			}
			opType, _ := om["type"].(string)
			if opType == "" {
				return nil, &ParseError{Message: "transform operation missing \"type\"", Step: name}
			}
			op := flowast.TransformOp{Type: flowast.TransformOpType(opType)}
			switch v := om["using"].(type) {
			case string:
				op.Using = v
			}
			if initial, ok := om["initial"]; ok {
				op.Initial = initial
				op.HasInitial = true
			}
			if as, ok := om["as"].(string); ok {
				op.As = as
			}
			transform.Operations = append(transform.Operations, op)
		}
		step.Type = flowast.StepTransform
		step.Transform = transform

	case m["delay"] != nil:
		dm, ok := m["delay"].(map[string]interface{})
		if !ok {
			return nil, &ParseError{Message: "delay block must be a mapping", Step: name}
		}
		durationMs, ok := asInt(dm["duration"])
		if !ok || durationMs < 0 {
			return nil, &ParseError{Message: "delay.duration must be a non-negative integer", Step: name}
		}
		innerM, ok := dm["step"].(map[string]interface{})
		if !ok {
			return nil, &ParseError{Message: "delay.step is required", Step: name}
		}
		inner, err := parseStep(innerM)
		if err != nil {
			return nil, err
		}
		step.Type = flowast.StepDelay
		step.Delay = &flowast.DelayStep{Duration: durationMs, Step: inner}

	case m["stop"] != nil:
		sm, _ := m["stop"].(map[string]interface{})
		end, _ := sm["endWorkflow"].(bool)
		step.Type = flowast.StepStop
		step.Stop = &flowast.StopStep{EndWorkflow: end}

	default:
		return nil, &ParseError{Message: "step has no recognized variant block (request/condition/loop/transform/delay/stop)", Step: name}
	}
	return step, nil
}

func parsePolicyBlock(m map[string]interface{}) *flowast.PolicyBlock {
	pb := &flowast.PolicyBlock{}
	if g, ok := m["global"].(map[string]interface{}); ok {
		pb.Global = parseStepPolicies(g)
	}
	if s, ok := m["step"].(map[string]interface{}); ok {
		stp := &flowast.StepTypePolicies{StepPolicies: *parseStepPolicies(s)}
		byType := map[flowast.StepType]*flowast.StepPolicies{}
		for _, t := range []flowast.StepType{flowast.StepRequest, flowast.StepCondition, flowast.StepLoop, flowast.StepTransform, flowast.StepDelay, flowast.StepStop} {
			if tm, ok := s[string(t)].(map[string]interface{}); ok {
				byType[t] = parseStepPolicies(tm)
			}
		}
		stp.ByType = byType
		pb.Step = stp
	}
	return pb
}

func parseStepPolicies(m map[string]interface{}) *flowast.StepPolicies {
	sp := &flowast.StepPolicies{}
	if t, ok := m["timeout"].(map[string]interface{}); ok {
		tp := &flowast.TimeoutPolicy{}
		if v, ok := asInt(t["timeout"]); ok {
			tp.Timeout = v
		}
		if v, ok := asInt(t["expressionEval"]); ok {
			tp.ExpressionEval = v
		}
		sp.Timeout = tp
	}
	if r, ok := m["retryPolicy"].(map[string]interface{}); ok {
		sp.RetryPolicy = parseRetryPolicy(r)
	}
	return sp
}

func parseRetryPolicy(m map[string]interface{}) *flowast.RetryPolicy {
	rp := &flowast.RetryPolicy{MaxAttempts: 1}
	if v, ok := asInt(m["maxAttempts"]); ok {
		rp.MaxAttempts = int(v)
	}
	if v, ok := asInt(m["retryDelay"]); ok {
		rp.RetryDelay = v
	}
	if b, ok := m["backoff"].(map[string]interface{}); ok {
		if v, ok := asInt(b["initial"]); ok {
			rp.Backoff.Initial = v
		}
		if v, ok := b["multiplier"].(float64); ok {
			rp.Backoff.Multiplier = v
		}
		if v, ok := asInt(b["maxDelay"]); ok {
			rp.Backoff.MaxDelay = v
		}
		rp.Backoff.Strategy = flowast.BackoffExponential
		if s, ok := b["strategy"].(string); ok && s == string(flowast.BackoffLinear) {
			rp.Backoff.Strategy = flowast.BackoffLinear
		}
	}
	if errs, ok := m["retryableErrors"].([]interface{}); ok {
		for _, e := range errs {
			if s, ok := e.(string); ok {
				rp.RetryableErrors = append(rp.RetryableErrors, s)
			}
		}
	}
	return rp
}

// asInt coerces a decoded numeric value (int, int64, or float64 -- yaml.v3
// and encoding/json disagree on which they hand back) to int64.
func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// ToJSONCompatible re-encodes v (as decoded by yaml.v3, which may produce
// map[string]interface{} with nested yaml-specific types) through JSON so
// downstream consumers (flowast.Flow.Context, request params, transform
// input literals) see only JSON-shaped Go values.
func ToJSONCompatible(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
