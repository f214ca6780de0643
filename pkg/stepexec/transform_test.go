package stepexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/flowengine/pkg/abortscope"
	"github.com/lemonberrylabs/flowengine/pkg/flowast"
	"github.com/lemonberrylabs/flowengine/pkg/types"
)

func intList(vals ...int64) types.Value {
	out := make([]types.Value, len(vals))
	for i, v := range vals {
		out[i] = types.NewInt(v)
	}
	return types.NewList(out)
}

func runTransform(t *testing.T, input types.Value, ops ...flowast.TransformOp) *flowast.StepResult {
	t.Helper()
	ec := newTestContext()
	step := &flowast.Step{
		Name: "t1", Type: flowast.StepTransform,
		Transform: &flowast.TransformStep{Input: input.ToGoValue(), Operations: ops},
	}
	res, err := TransformExecutor{}.Execute(context.Background(), step, ec, newTestScope(nil), abortscope.NewRoot(context.Background()))
	require.NoError(t, err)
	return res
}

func TestTransformExecutorCanExecute(t *testing.T) {
	ex := TransformExecutor{}
	assert.True(t, ex.CanExecute(&flowast.Step{Type: flowast.StepTransform, Transform: &flowast.TransformStep{}}))
	assert.False(t, ex.CanExecute(&flowast.Step{Type: flowast.StepTransform}))
}

func TestTransformExecutorMap(t *testing.T) {
	res := runTransform(t, intList(1, 2, 3), flowast.TransformOp{Type: flowast.OpMap, Using: "${item} * 2"})
	out := res.Result.AsList()
	require.Len(t, out, 3)
	assert.Equal(t, int64(2), out[0].AsInt())
	assert.Equal(t, int64(4), out[1].AsInt())
	assert.Equal(t, int64(6), out[2].AsInt())
}

func TestTransformExecutorFilter(t *testing.T) {
	res := runTransform(t, intList(1, 2, 3, 4), flowast.TransformOp{Type: flowast.OpFilter, Using: "${item} % 2 == 0"})
	out := res.Result.AsList()
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].AsInt())
	assert.Equal(t, int64(4), out[1].AsInt())
}

func TestTransformExecutorReduceWithInitial(t *testing.T) {
	res := runTransform(t, intList(1, 2, 3), flowast.TransformOp{
		Type: flowast.OpReduce, Using: "${acc} + ${item}", Initial: int64(10), HasInitial: true,
	})
	assert.Equal(t, int64(16), res.Result.AsInt())
}

func TestTransformExecutorReduceWithoutInitialUsesFirstElement(t *testing.T) {
	res := runTransform(t, intList(5, 2, 3), flowast.TransformOp{Type: flowast.OpReduce, Using: "${acc} + ${item}"})
	assert.Equal(t, int64(10), res.Result.AsInt())
}

func TestTransformExecutorFlatten(t *testing.T) {
	nested := types.NewList([]types.Value{intList(1, 2), intList(3), types.NewInt(4)})
	ec := newTestContext()
	step := &flowast.Step{
		Name: "t1", Type: flowast.StepTransform,
		Transform: &flowast.TransformStep{Input: nested.ToGoValue(), Operations: []flowast.TransformOp{{Type: flowast.OpFlatten}}},
	}
	res, err := TransformExecutor{}.Execute(context.Background(), step, ec, newTestScope(nil), abortscope.NewRoot(context.Background()))
	require.NoError(t, err)
	out := res.Result.AsList()
	require.Len(t, out, 4)
	assert.Equal(t, int64(1), out[0].AsInt())
	assert.Equal(t, int64(4), out[3].AsInt())
}

func TestTransformExecutorSort(t *testing.T) {
	res := runTransform(t, intList(3, 1, 2), flowast.TransformOp{Type: flowast.OpSort, Using: "${a} - ${b}"})
	out := res.Result.AsList()
	require.Len(t, out, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{out[0].AsInt(), out[1].AsInt(), out[2].AsInt()})
}

func TestTransformExecutorSortNonNumericComparatorErrors(t *testing.T) {
	ec := newTestContext()
	step := &flowast.Step{
		Name: "t1", Type: flowast.StepTransform,
		Transform: &flowast.TransformStep{
			Input:      intList(1, 2).ToGoValue(),
			Operations: []flowast.TransformOp{{Type: flowast.OpSort, Using: `"not-a-number"`}},
		},
	}
	_, err := TransformExecutor{}.Execute(context.Background(), step, ec, newTestScope(nil), abortscope.NewRoot(context.Background()))
	require.Error(t, err)
}

func TestTransformExecutorUnique(t *testing.T) {
	res := runTransform(t, intList(1, 2, 2, 3, 1), flowast.TransformOp{Type: flowast.OpUnique})
	out := res.Result.AsList()
	require.Len(t, out, 3)
}

func TestTransformExecutorGroupCoercesNumericStringKey(t *testing.T) {
	items := intList(1, 2, 3)
	ec := newTestContext()
	step := &flowast.Step{
		Name: "t1", Type: flowast.StepTransform,
		Transform: &flowast.TransformStep{
			Input: items.ToGoValue(),
			// group key is a string built from the item so coerceGroupKey must
			// coerce it back to a number for bucketing to work as expected.
			Operations: []flowast.TransformOp{{Type: flowast.OpGroup, Using: `${item} + ""`}},
		},
	}
	res, err := TransformExecutor{}.Execute(context.Background(), step, ec, newTestScope(nil), abortscope.NewRoot(context.Background()))
	require.NoError(t, err)
	out := res.Result.AsList()
	require.Len(t, out, 3)
	bm := out[0].AsMap()
	key, ok := bm.Get("key")
	require.True(t, ok)
	assert.Equal(t, types.TypeInt, key.Type())
}

func TestTransformExecutorJoin(t *testing.T) {
	items := types.NewList([]types.Value{types.NewString("a"), types.NewString("b"), types.NewString("c")})
	ec := newTestContext()
	step := &flowast.Step{
		Name: "t1", Type: flowast.StepTransform,
		Transform: &flowast.TransformStep{Input: items.ToGoValue(), Operations: []flowast.TransformOp{{Type: flowast.OpJoin, Using: ","}}},
	}
	res, err := TransformExecutor{}.Execute(context.Background(), step, ec, newTestScope(nil), abortscope.NewRoot(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", res.Result.AsString())
}

func TestTransformExecutorNonListInputErrors(t *testing.T) {
	ec := newTestContext()
	step := &flowast.Step{
		Name: "t1", Type: flowast.StepTransform,
		Transform: &flowast.TransformStep{Input: int64(5), Operations: []flowast.TransformOp{{Type: flowast.OpMap, Using: "${item}"}}},
	}
	_, err := TransformExecutor{}.Execute(context.Background(), step, ec, newTestScope(nil), abortscope.NewRoot(context.Background()))
	require.Error(t, err)
	assert.Equal(t, types.CodeValidationError, types.CodeOf(err))
}

func TestTransformExecutorOpAsRecordsOutputsOnly(t *testing.T) {
	res := runTransform(t, intList(1, 2, 3), flowast.TransformOp{Type: flowast.OpMap, Using: "${item} * 2", As: "doubled"})
	outputs, ok := res.Metadata["outputs"]
	require.True(t, ok)
	outMap := outputs.(types.Value).AsMap()
	doubled, ok := outMap.Get("doubled")
	require.True(t, ok)
	assert.Len(t, doubled.AsList(), 3)
}

func TestTransformExecutorAbortStopsBeforeNextOp(t *testing.T) {
	ec := newTestContext()
	abort := abortscope.NewRoot(context.Background())
	abort.Abort(abortscope.ReasonUserAbort, "stop")
	step := &flowast.Step{
		Name: "t1", Type: flowast.StepTransform,
		Transform: &flowast.TransformStep{
			Input:      intList(1, 2).ToGoValue(),
			Operations: []flowast.TransformOp{{Type: flowast.OpMap, Using: "${item}"}},
		},
	}
	_, err := TransformExecutor{}.Execute(context.Background(), step, ec, newTestScope(nil), abort)
	require.Error(t, err)
}
