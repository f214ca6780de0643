package refresolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/flowengine/pkg/types"
)

func basicScope() Scope {
	stepResult := types.NewOrderedMap()
	stepResult.Set("result", types.NewInt(7))
	stepResult.Set("type", types.NewString("request"))
	stepResult.Set("metadata", types.NewMap(types.NewOrderedMap()))

	ctx := types.NewOrderedMap()
	ctx.Set("env", types.NewString("prod"))

	return Scope{
		Local:       map[string]types.Value{"item": types.NewString("elem")},
		StepResults: map[string]types.Value{"step1": types.NewMap(stepResult)},
		Context:     types.NewMap(ctx),
	}
}

func TestResolveReferenceWholeStringPreservesType(t *testing.T) {
	r := New(nil)
	v, err := r.ResolveReference("${step1.result}", basicScope())
	require.NoError(t, err)
	assert.Equal(t, types.TypeInt, v.Type())
	assert.Equal(t, int64(7), v.AsInt())
}

func TestResolveReferenceContextRoot(t *testing.T) {
	r := New(nil)
	v, err := r.ResolveReference("${context.env}", basicScope())
	require.NoError(t, err)
	assert.Equal(t, "prod", v.AsString())
}

func TestResolveReferenceUnknownRoot(t *testing.T) {
	r := New(nil)
	_, err := r.ResolveReference("${nope.x}", basicScope())
	require.Error(t, err)
	assert.Equal(t, types.CodeValidationError, types.CodeOf(err))
}

func TestResolveReferenceNotWrapped(t *testing.T) {
	r := New(nil)
	_, err := r.ResolveReference("item", basicScope())
	require.Error(t, err)
}

func TestResolveReferencesMultiSubstitution(t *testing.T) {
	r := New(nil)
	v, err := r.ResolveReferences(types.NewString("hello ${item}, env=${context.env}"), basicScope())
	require.NoError(t, err)
	assert.Equal(t, "hello elem, env=prod", v.AsString())
}

func TestResolveReferencesNonScalarSubstitutionIsJSONEncoded(t *testing.T) {
	listScope := basicScope()
	listScope.Local["items"] = types.NewList([]types.Value{types.NewInt(1), types.NewInt(2)})
	r := New(nil)
	v, err := r.ResolveReferences(types.NewString("list=${items}"), listScope)
	require.NoError(t, err)
	assert.Equal(t, "list=[1,2]", v.AsString())
}

func TestResolveReferencesDeepWalksListsAndMaps(t *testing.T) {
	r := New(nil)
	m := types.NewOrderedMap()
	m.Set("a", types.NewString("${item}"))
	m.Set("b", types.NewList([]types.Value{types.NewString("${context.env}")}))
	v, err := r.ResolveReferences(types.NewMap(m), basicScope())
	require.NoError(t, err)
	out := v.AsMap()
	av, _ := out.Get("a")
	assert.Equal(t, "elem", av.AsString())
	bv, _ := out.Get("b")
	assert.Equal(t, "prod", bv.AsList()[0].AsString())
}

func TestStackDetectsCycle(t *testing.T) {
	st := newStack()
	require.NoError(t, st.push("${a}"))
	require.NoError(t, st.push("${b}"))
	err := st.push("${a}")
	require.Error(t, err)
	assert.Equal(t, types.CodeValidationError, types.CodeOf(err))
}

func TestStackPushPopAllowsRepeatAfterPop(t *testing.T) {
	st := newStack()
	require.NoError(t, st.push("${a}"))
	st.pop()
	require.NoError(t, st.push("${a}"))
}

func TestIsWholeReference(t *testing.T) {
	path, ok := isWholeReference("${a.b}")
	assert.True(t, ok)
	assert.Equal(t, "a.b", path)

	_, ok = isWholeReference("x${a.b}")
	assert.False(t, ok)

	_, ok = isWholeReference("${a.b}x")
	assert.False(t, ok)

	path, ok = isWholeReference("${a[${b}]}")
	assert.True(t, ok)
	assert.Equal(t, "a[${b}]", path)
}

func TestFindReferences(t *testing.T) {
	refs := findReferences("x=${a} y=${b.c}")
	require.Len(t, refs, 2)
	assert.Equal(t, "a", refs[0].path)
	assert.Equal(t, "b.c", refs[1].path)
}
