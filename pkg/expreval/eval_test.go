package expreval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/flowengine/pkg/refresolver"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

func emptyScope() refresolver.Scope {
	return refresolver.Scope{
		Local:       map[string]types.Value{},
		StepResults: map[string]types.Value{},
		Context:     types.NewMap(types.NewOrderedMap()),
	}
}

func evalExpr(t *testing.T, e *Evaluator, expr string, scope refresolver.Scope) types.Value {
	t.Helper()
	v, err := e.Evaluate(expr, scope, 0)
	require.NoError(t, err, "expr %q", expr)
	return v
}

func TestEvaluateLiterals(t *testing.T) {
	e := New()
	s := emptyScope()
	assert.Equal(t, int64(42), evalExpr(t, e, "42", s).AsInt())
	assert.Equal(t, 3.5, evalExpr(t, e, "3.5", s).AsDouble())
	assert.Equal(t, "hi", evalExpr(t, e, `"hi"`, s).AsString())
	assert.True(t, evalExpr(t, e, "true", s).AsBool())
	assert.True(t, evalExpr(t, e, "null", s).IsNull())
}

func TestEvaluateArithmetic(t *testing.T) {
	e := New()
	s := emptyScope()
	assert.Equal(t, int64(7), evalExpr(t, e, "3 + 4", s).AsInt())
	assert.Equal(t, int64(1), evalExpr(t, e, "3 - 2", s).AsInt())
	assert.Equal(t, int64(12), evalExpr(t, e, "3 * 4", s).AsInt())
	assert.Equal(t, 2.5, evalExpr(t, e, "5 / 2", s).AsDouble())
	assert.Equal(t, int64(1), evalExpr(t, e, "7 % 2", s).AsInt())
	assert.Equal(t, int64(-3), evalExpr(t, e, "-3", s).AsInt())
}

func TestEvaluateStringConcatViaPlus(t *testing.T) {
	e := New()
	s := emptyScope()
	v := evalExpr(t, e, `"a" + "b"`, s)
	assert.Equal(t, "ab", v.AsString())

	v2 := evalExpr(t, e, `"n=" + 3`, s)
	assert.Equal(t, "n=3", v2.AsString())
}

func TestEvaluateDivisionByZero(t *testing.T) {
	e := New()
	_, err := e.Evaluate("1 / 0", emptyScope(), 0)
	require.Error(t, err)
	assert.Equal(t, types.CodeExecutionError, types.CodeOf(err))
}

func TestEvaluateComparisonRequiresSameType(t *testing.T) {
	e := New()
	_, err := e.Evaluate(`1 < "a"`, emptyScope(), 0)
	require.Error(t, err)

	v, err := e.Evaluate("1 < 2", emptyScope(), 0)
	require.NoError(t, err)
	assert.True(t, v.AsBool())

	v2, err := e.Evaluate(`"a" < "b"`, emptyScope(), 0)
	require.NoError(t, err)
	assert.True(t, v2.AsBool())
}

func TestEvaluateEqualityNoCoercion(t *testing.T) {
	e := New()
	s := emptyScope()
	assert.False(t, evalExpr(t, e, `1 == "1"`, s).AsBool())
	assert.True(t, evalExpr(t, e, "1 == 1.0", s).AsBool())
	assert.True(t, evalExpr(t, e, "1 != 2", s).AsBool())
}

func TestEvaluateLogicalShortCircuitReturnsOperand(t *testing.T) {
	e := New()
	s := emptyScope()
	v := evalExpr(t, e, `0 || "fallback"`, s)
	assert.Equal(t, "fallback", v.AsString())

	v2 := evalExpr(t, e, `5 && "second"`, s)
	assert.Equal(t, "second", v2.AsString())

	v3 := evalExpr(t, e, `null && "unreached"`, s)
	assert.True(t, v3.IsNull())
}

func TestEvaluateTernary(t *testing.T) {
	e := New()
	s := emptyScope()
	assert.Equal(t, "yes", evalExpr(t, e, `1 < 2 ? "yes" : "no"`, s).AsString())
	assert.Equal(t, "no", evalExpr(t, e, `1 > 2 ? "yes" : "no"`, s).AsString())
}

func TestEvaluateListAndObjectLiterals(t *testing.T) {
	e := New()
	s := emptyScope()
	v := evalExpr(t, e, "[1, 2, 3]", s)
	require.Equal(t, types.TypeList, v.Type())
	assert.Equal(t, 3, len(v.AsList()))

	obj := evalExpr(t, e, `{"a": 1, "b": 2}`, s)
	require.Equal(t, types.TypeMap, obj.Type())
	av, _ := obj.AsMap().Get("a")
	assert.Equal(t, int64(1), av.AsInt())
}

func TestEvaluatePostfixAccessOnLiterals(t *testing.T) {
	e := New()
	s := emptyScope()
	assert.Equal(t, int64(2), evalExpr(t, e, "[1, 2, 3][1]", s).AsInt())
	assert.Equal(t, int64(5), evalExpr(t, e, `{"x": 5}.x`, s).AsInt())
}

func TestEvaluateReferenceWholeExpression(t *testing.T) {
	e := New()
	s := emptyScope()
	s.Local["item"] = types.NewInt(99)
	v := evalExpr(t, e, "${item}", s)
	assert.Equal(t, int64(99), v.AsInt())
}

func TestEvaluateWrappedResultGuardInsideExpression(t *testing.T) {
	e := New()
	s := emptyScope()
	wrapped := types.NewOrderedMap()
	wrapped.Set("result", types.NewInt(1))
	wrapped.Set("type", types.NewString("request"))
	wrapped.Set("metadata", types.NewMap(types.NewOrderedMap()))
	s.StepResults["step1"] = types.NewMap(wrapped)

	_, err := e.Evaluate("${step1.value}", s, 0)
	require.Error(t, err)

	v, err := e.Evaluate("${step1.result}", s, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.AsInt())
}

func TestEvaluateTemplate(t *testing.T) {
	e := New()
	s := emptyScope()
	s.Local["name"] = types.NewString("Ada")
	v := evalExpr(t, e, "`hello ${name}!`", s)
	assert.Equal(t, "hello Ada!", v.AsString())
}

func TestEvaluateDynamicIndexExpression(t *testing.T) {
	e := New()
	s := emptyScope()
	s.Local["items"] = types.NewList([]types.Value{types.NewString("x"), types.NewString("y"), types.NewString("z")})
	s.Local["i"] = types.NewInt(2)
	v := evalExpr(t, e, "${items[i]}", s)
	assert.Equal(t, "z", v.AsString())
}

func TestEvaluateExpressionTimeout(t *testing.T) {
	e := New()
	s := emptyScope()
	_, err := e.Evaluate("1 + 1", s, 1*time.Nanosecond)
	if err != nil {
		assert.Equal(t, types.CodeTimeoutError, types.CodeOf(err))
	}
}

func TestParseRejectsUnknownIdentifier(t *testing.T) {
	_, err := Parse("foo")
	require.Error(t, err)
}

func TestParseRejectsTrailingTokens(t *testing.T) {
	_, err := Parse("1 1")
	require.Error(t, err)
}

func TestParseMaxExpressionLength(t *testing.T) {
	long := make([]byte, MaxExpressionLength+1)
	for i := range long {
		long[i] = '1'
	}
	_, err := Parse(string(long))
	require.Error(t, err)
}

func TestResolveDeepWalksWithoutExpressionGrammar(t *testing.T) {
	e := New()
	s := emptyScope()
	s.Local["x"] = types.NewInt(3)
	m := types.NewOrderedMap()
	m.Set("val", types.NewString("${x}"))
	v, err := e.Resolve(types.NewMap(m), s)
	require.NoError(t, err)
	got, _ := v.AsMap().Get("val")
	assert.Equal(t, int64(3), got.AsInt())
}
