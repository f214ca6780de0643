package stepexec

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// TransformExecutor pipes an input value through an ordered pipeline of
// map/filter/reduce/flatten/sort/unique/group/join operations. Every
// operation consumes a list.
type TransformExecutor struct{}

func (TransformExecutor) CanExecute(step *flowast.Step) bool {
	return step.Type == flowast.StepTransform && step.Transform != nil
}

func (TransformExecutor) Execute(ctx context.Context, step *flowast.Step, ec *Context, scope refresolver.Scope, abort *abortscope.Scope) (*flowast.StepResult, error) {
	t := step.Transform

	var timeoutMs int64
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			timeoutMs = d.Milliseconds()
		}
	}

	var input types.Value
	if s, ok := t.Input.(string); ok {
		v, err := ec.Eval.Eval(s, scope)
		if err != nil {
			return nil, types.NewExecutionError(err, "transform step %q: evaluating input", step.Name)
		}
		input = v
	} else {
		raw := types.ValueFromJSON(t.Input)
		v, err := ec.Eval.Resolve(raw, scope)
		if err != nil {
			return nil, err
		}
		input = v
	}

	cur := input
	opNames := make([]string, 0, len(t.Operations))
	outputs := types.NewOrderedMap()

	for _, op := range t.Operations {
		opNames = append(opNames, string(op.Type))
		if cur.Type() != types.TypeList {
			return nil, types.NewValidationError("transform step %q: operation %q requires a list input, got %s", step.Name, op.Type, cur.Type())
		}
		select {
		case <-abort.Done():
			return nil, types.NewExecutionError(ctx.Err(), "transform %s operation aborted", op.Type)
		default:
		}

		next, err := applyOp(op, cur, scope, ec)
		if err != nil {
			return nil, err
		}
		cur = next
		if op.As != "" {
			outputs.Set(op.As, cur)
		}
	}

	meta := map[string]interface{}{
		"operations": opNames,
		"inputType":  input.Type().String(),
		"resultType": cur.Type().String(),
		"timeout":    timeoutMs,
		"timestamp":  time.Now().UnixMilli(),
	}
	if outputs.Len() > 0 {
		meta["outputs"] = types.NewMap(outputs)
	}
	return &flowast.StepResult{Type: flowast.StepTransform, Result: cur, HasResult: true, Metadata: meta}, nil
}

func applyOp(op flowast.TransformOp, cur types.Value, scope refresolver.Scope, ec *Context) (types.Value, error) {
	items := cur.AsList()
	switch op.Type {
	case flowast.OpMap:
		out := make([]types.Value, len(items))
		for i, item := range items {
			v, err := ec.Eval.Eval(op.Using, childScope(scope, map[string]types.Value{"item": item, "index": types.NewInt(int64(i))}))
			if err != nil {
				return types.Null, wrapOpErr(op.Type, err)
			}
			out[i] = v
		}
		return types.NewList(out), nil

	case flowast.OpFilter:
		var out []types.Value
		for i, item := range items {
			v, err := ec.Eval.Eval(op.Using, childScope(scope, map[string]types.Value{"item": item, "index": types.NewInt(int64(i))}))
			if err != nil {
				return types.Null, wrapOpErr(op.Type, err)
			}
			if v.Truthy() {
				out = append(out, item)
			}
		}
		return types.NewList(out), nil

	case flowast.OpReduce:
		var acc types.Value
		start := 0
		if op.HasInitial {
			acc = types.ValueFromJSON(op.Initial)
		} else if len(items) > 0 {
			acc = items[0]
			start = 1
		} else {
			acc = types.Null
		}
		for i := start; i < len(items); i++ {
			v, err := ec.Eval.Eval(op.Using, childScope(scope, map[string]types.Value{"acc": acc, "item": items[i], "index": types.NewInt(int64(i))}))
			if err != nil {
				return types.Null, wrapOpErr(op.Type, err)
			}
			acc = v
		}
		return acc, nil

	case flowast.OpFlatten:
		var out []types.Value
		for _, item := range items {
			if item.Type() == types.TypeList {
				out = append(out, item.AsList()...)
			} else {
				out = append(out, item)
			}
		}
		return types.NewList(out), nil

	case flowast.OpSort:
		out := append([]types.Value{}, items...)
		var sortErr error
		sort.SliceStable(out, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			v, err := ec.Eval.Eval(op.Using, childScope(scope, map[string]types.Value{"a": out[i], "b": out[j]}))
			if err != nil {
				sortErr = wrapOpErr(op.Type, err)
				return false
			}
			n, ok := v.AsNumber()
			if !ok {
				sortErr = types.NewExpressionError("sort comparator must return a number, got %s", v.Type())
				return false
			}
			return n < 0
		})
		if sortErr != nil {
			return types.Null, sortErr
		}
		return types.NewList(out), nil

	case flowast.OpUnique:
		var out []types.Value
		for _, item := range items {
			dup := false
			for _, seen := range out {
				if seen.Equal(item) {
					dup = true
					break
				}
			}
			if !dup {
				out = append(out, item)
			}
		}
		return types.NewList(out), nil

	case flowast.OpGroup:
		type bucket struct {
			key   types.Value
			items []types.Value
		}
		var buckets []bucket
		pos := map[string]int{}
		for i, item := range items {
			v, err := ec.Eval.Eval(op.Using, childScope(scope, map[string]types.Value{"item": item, "index": types.NewInt(int64(i))}))
			if err != nil {
				return types.Null, wrapOpErr(op.Type, err)
			}
			key := coerceGroupKey(v)
			ks := key.String()
			if p, ok := pos[ks]; ok {
				buckets[p].items = append(buckets[p].items, item)
			} else {
				pos[ks] = len(buckets)
				buckets = append(buckets, bucket{key: key, items: []types.Value{item}})
			}
		}
		out := make([]types.Value, len(buckets))
		for i, b := range buckets {
			m := types.NewOrderedMap()
			m.Set("key", b.key)
			m.Set("items", types.NewList(b.items))
			out[i] = types.NewMap(m)
		}
		return types.NewList(out), nil

	case flowast.OpJoin:
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = item.String()
		}
		return types.NewString(strings.Join(parts, op.Using)), nil

	default:
		return types.Null, types.NewValidationError("unknown transform operation %q", op.Type)
	}
}

// coerceGroupKey coerces a numeric-looking string key to a number, matching
// the group operation's key-normalization rule.
func coerceGroupKey(v types.Value) types.Value {
	if v.Type() != types.TypeString {
		return v
	}
	s := v.AsString()
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return types.NewInt(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return types.NewDouble(f)
	}
	return v
}

func wrapOpErr(op flowast.TransformOpType, err error) error {
	if types.CodeOf(err) != "" {
		return err
	}
	return types.NewExecutionError(err, "transform operation %q failed", op)
}
