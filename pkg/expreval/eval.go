// Evaluator walks a parsed expression AST against a refresolver.Scope,
// resolving "${...}" references through the reference resolver and applying
// this engine's strict, no-coercion type discipline. Grounded on the
// teacher's pkg/expr/eval.go Evaluate-by-type-switch shape; CallNode/
// InNode dispatch is dropped and Ternary/Template/Ref/Object dispatch is
// added.
package expreval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lemonberrylabs/flowengine/pkg/pathaccessor"
	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

// Evaluator evaluates expression source strings against a scope. It is safe
// for sequential reuse across many Evaluate calls within one flow instance;
// it is not meant to be shared across concurrently-executing flow instances
// (construct one Evaluator per flow executor, matching the "every dependency
// injected at construction" design note).
type Evaluator struct {
	resolver *refresolver.Resolver
	ctx      context.Context // set for the duration of the current Evaluate call
}

// New creates an Evaluator wired to its own reference resolver, closing the
// loop so "${a[b[c]]}"-style dynamic indices can themselves be expressions.
func New() *Evaluator {
	e := &Evaluator{ctx: context.Background()}
	e.resolver = refresolver.New(e.evalDynamicIndex)
	return e
}

func (e *Evaluator) evalDynamicIndex(src string, scope refresolver.Scope) (types.Value, error) {
	return e.evalSource(e.ctx, src, scope)
}

// Evaluate parses and evaluates expr against scope, returning the evaluated
// value without boolean coercion. A standalone "${path}" reference returns
// the referenced value verbatim (type preserved). timeout <= 0 means no
// deadline.
func (e *Evaluator) Evaluate(expr string, scope refresolver.Scope, timeout time.Duration) (types.Value, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	prev := e.ctx
	e.ctx = ctx
	defer func() { e.ctx = prev }()

	v, err := e.evalSource(ctx, expr, scope)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return types.Null, types.NewExpressionTimeoutError(expr, timeout.Milliseconds())
		}
		return types.Null, err
	}
	return v, nil
}

// Resolve deep-resolves every "${...}" reference inside v against scope.
// Unlike Evaluate, it never parses a full expression grammar -- only
// reference substitution -- so it carries no evaluation deadline of its
// own; callers needing one should bound the surrounding operation instead.
func (e *Evaluator) Resolve(v types.Value, scope refresolver.Scope) (types.Value, error) {
	return e.resolver.ResolveReferences(v, scope)
}

func (e *Evaluator) evalSource(ctx context.Context, src string, scope refresolver.Scope) (types.Value, error) {
	node, err := Parse(src)
	if err != nil {
		return types.Null, err
	}
	return e.evalNode(ctx, node, scope)
}

func (e *Evaluator) evalNode(ctx context.Context, node Node, scope refresolver.Scope) (types.Value, error) {
	select {
	case <-ctx.Done():
		return types.Null, ctx.Err()
	default:
	}
	switch n := node.(type) {
	case *LiteralNode:
		return evalLiteral(n), nil
	case *RefNode:
		return e.resolver.ResolveReference("${"+n.Path+"}", scope)
	case *TemplateNode:
		return e.evalTemplate(ctx, n, scope)
	case *BinaryNode:
		return e.evalBinary(ctx, n, scope)
	case *UnaryNode:
		return e.evalUnary(ctx, n, scope)
	case *TernaryNode:
		cond, err := e.evalNode(ctx, n.Cond, scope)
		if err != nil {
			return types.Null, err
		}
		if cond.Truthy() {
			return e.evalNode(ctx, n.Then, scope)
		}
		return e.evalNode(ctx, n.Else, scope)
	case *ListNode:
		items := make([]types.Value, len(n.Elements))
		for i, el := range n.Elements {
			v, err := e.evalNode(ctx, el, scope)
			if err != nil {
				return types.Null, err
			}
			items[i] = v
		}
		return types.NewList(items), nil
	case *ObjectNode:
		m := types.NewOrderedMap()
		for i, key := range n.Keys {
			v, err := e.evalNode(ctx, n.Values[i], scope)
			if err != nil {
				return types.Null, err
			}
			m.Set(key, v)
		}
		return types.NewMap(m), nil
	case *PropertyNode:
		obj, err := e.evalNode(ctx, n.Object, scope)
		if err != nil {
			return types.Null, err
		}
		return pathaccessor.AccessProperty(obj, n.Property)
	case *IndexNode:
		obj, err := e.evalNode(ctx, n.Object, scope)
		if err != nil {
			return types.Null, err
		}
		idx, err := e.evalNode(ctx, n.Index, scope)
		if err != nil {
			return types.Null, err
		}
		return pathaccessor.AccessIndex(obj, idx)
	default:
		return types.Null, types.NewExpressionError("unsupported expression node %T", node)
	}
}

func evalLiteral(n *LiteralNode) types.Value {
	switch n.TokenType {
	case TokNull:
		return types.Null
	case TokTrue:
		return types.NewBool(true)
	case TokFalse:
		return types.NewBool(false)
	case TokInt:
		return types.NewInt(n.IntVal)
	case TokFloat:
		return types.NewDouble(n.FloatVal)
	case TokString:
		return types.NewString(n.StrVal)
	default:
		return types.Null
	}
}

func (e *Evaluator) evalTemplate(ctx context.Context, n *TemplateNode, scope refresolver.Scope) (types.Value, error) {
	var sb strings.Builder
	for _, part := range n.Parts {
		if part.Ref == nil {
			sb.WriteString(part.Text)
			continue
		}
		v, err := e.resolver.ResolveReference("${"+part.Ref.Path+"}", scope)
		if err != nil {
			return types.Null, err
		}
		sb.WriteString(stringify(v))
	}
	return types.NewString(sb.String()), nil
}

func stringify(v types.Value) string {
	switch v.Type() {
	case types.TypeString:
		return v.AsString()
	case types.TypeNull, types.TypeBool, types.TypeInt, types.TypeDouble:
		return v.String()
	default:
		b, err := json.Marshal(v.ToGoValue())
		if err != nil {
			return fmt.Sprintf("%v", v.ToGoValue())
		}
		return string(b)
	}
}

func (e *Evaluator) evalUnary(ctx context.Context, n *UnaryNode, scope refresolver.Scope) (types.Value, error) {
	operand, err := e.evalNode(ctx, n.Operand, scope)
	if err != nil {
		return types.Null, err
	}
	switch n.Op {
	case TokBang:
		return types.NewBool(!operand.Truthy()), nil
	case TokMinus:
		switch operand.Type() {
		case types.TypeInt:
			return types.NewInt(-operand.AsInt()), nil
		case types.TypeDouble:
			return types.NewDouble(-operand.AsDouble()), nil
		default:
			return types.Null, types.NewExpressionError("unary '-' requires a number, got %s", operand.Type())
		}
	case TokPlus:
		if _, ok := operand.AsNumber(); !ok {
			return types.Null, types.NewExpressionError("unary '+' requires a number, got %s", operand.Type())
		}
		return operand, nil
	default:
		return types.Null, types.NewExpressionError("unsupported unary operator")
	}
}

func (e *Evaluator) evalBinary(ctx context.Context, n *BinaryNode, scope refresolver.Scope) (types.Value, error) {
	// Logical operators short-circuit and return the deciding operand's
	// actual value, with no boolean coercion.
	if n.Op == TokAndAnd {
		left, err := e.evalNode(ctx, n.Left, scope)
		if err != nil {
			return types.Null, err
		}
		if !left.Truthy() {
			return left, nil
		}
		return e.evalNode(ctx, n.Right, scope)
	}
	if n.Op == TokOrOr {
		left, err := e.evalNode(ctx, n.Left, scope)
		if err != nil {
			return types.Null, err
		}
		if left.Truthy() {
			return left, nil
		}
		return e.evalNode(ctx, n.Right, scope)
	}

	left, err := e.evalNode(ctx, n.Left, scope)
	if err != nil {
		return types.Null, err
	}
	right, err := e.evalNode(ctx, n.Right, scope)
	if err != nil {
		return types.Null, err
	}

	switch n.Op {
	case TokPlus:
		return evalAdd(left, right)
	case TokMinus:
		return evalArith(left, right, "-", func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
	case TokStar:
		return evalArith(left, right, "*", func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
	case TokSlash:
		return evalDivide(left, right)
	case TokPercent:
		return evalModulo(left, right)
	case TokEq, TokEqEq:
		return types.NewBool(left.Equal(right)), nil
	case TokNeq, TokNeqEq:
		return types.NewBool(!left.Equal(right)), nil
	case TokLt:
		return evalCompare(left, right, func(c int) bool { return c < 0 })
	case TokGt:
		return evalCompare(left, right, func(c int) bool { return c > 0 })
	case TokLte:
		return evalCompare(left, right, func(c int) bool { return c <= 0 })
	case TokGte:
		return evalCompare(left, right, func(c int) bool { return c >= 0 })
	default:
		return types.Null, types.NewExpressionError("unsupported binary operator")
	}
}

func evalAdd(left, right types.Value) (types.Value, error) {
	if left.Type() == types.TypeString || right.Type() == types.TypeString {
		return types.NewString(stringify(left) + stringify(right)), nil
	}
	return evalArith(left, right, "+", func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
}

func evalArith(left, right types.Value, op string, intOp func(int64, int64) int64, floatOp func(float64, float64) float64) (types.Value, error) {
	if left.Type() == types.TypeInt && right.Type() == types.TypeInt {
		return types.NewInt(intOp(left.AsInt(), right.AsInt())), nil
	}
	a, aOk := left.AsNumber()
	b, bOk := right.AsNumber()
	if !aOk || !bOk {
		return types.Null, types.NewExpressionError("unsupported operand types for %q: %s and %s", op, left.Type(), right.Type())
	}
	return types.NewDouble(floatOp(a, b)), nil
}

func evalDivide(left, right types.Value) (types.Value, error) {
	a, aOk := left.AsNumber()
	b, bOk := right.AsNumber()
	if !aOk || !bOk {
		return types.Null, types.NewExpressionError("unsupported operand types for '/': %s and %s", left.Type(), right.Type())
	}
	if b == 0 {
		return types.Null, types.NewExpressionError("division by zero")
	}
	return types.NewDouble(a / b), nil
}

func evalModulo(left, right types.Value) (types.Value, error) {
	if left.Type() == types.TypeInt && right.Type() == types.TypeInt {
		if right.AsInt() == 0 {
			return types.Null, types.NewExpressionError("division by zero")
		}
		return types.NewInt(left.AsInt() % right.AsInt()), nil
	}
	a, aOk := left.AsNumber()
	b, bOk := right.AsNumber()
	if !aOk || !bOk {
		return types.Null, types.NewExpressionError("unsupported operand types for '%%': %s and %s", left.Type(), right.Type())
	}
	if b == 0 {
		return types.Null, types.NewExpressionError("division by zero")
	}
	return types.NewDouble(math.Mod(a, b)), nil
}

func evalCompare(left, right types.Value, test func(int) bool) (types.Value, error) {
	cmp, err := compare(left, right)
	if err != nil {
		return types.Null, err
	}
	return types.NewBool(test(cmp)), nil
}

// compare requires both operands to be numbers or both to be strings --
// mixed types otherwise raise an ExpressionError.
func compare(a, b types.Value) (int, error) {
	an, aIsNum := a.AsNumber()
	bn, bIsNum := b.AsNumber()
	if aIsNum && bIsNum {
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.Type() == types.TypeString && b.Type() == types.TypeString {
		return strings.Compare(a.AsString(), b.AsString()), nil
	}
	return 0, types.NewExpressionError("cannot compare %s and %s", a.Type(), b.Type())
}
