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

func TestLoopExecutorCanExecute(t *testing.T) {
	ex := LoopExecutor{}
	assert.True(t, ex.CanExecute(&flowast.Step{Type: flowast.StepLoop, Loop: &flowast.LoopStep{}}))
	assert.False(t, ex.CanExecute(&flowast.Step{Type: flowast.StepLoop}))
}

func TestLoopExecutorOverMustBeList(t *testing.T) {
	ec := newTestContext()
	step := &flowast.Step{Name: "l1", Type: flowast.StepLoop, Loop: &flowast.LoopStep{Over: "1", As: "item"}}
	_, err := LoopExecutor{}.Execute(context.Background(), step, ec, newTestScope(nil), abortscope.NewRoot(context.Background()))
	require.Error(t, err)
	assert.Equal(t, types.CodeValidationError, types.CodeOf(err))
}

func TestLoopExecutorIteratesEveryElement(t *testing.T) {
	ec := newTestContext()
	scope := newTestScope(map[string]types.Value{
		"items": types.NewList([]types.Value{types.NewInt(1), types.NewInt(2), types.NewInt(3)}),
	})
	step := &flowast.Step{
		Name: "l1", Type: flowast.StepLoop,
		Loop: &flowast.LoopStep{
			Over: "${items}", As: "item",
			Step: stopStep("body"),
		},
	}
	res, err := LoopExecutor{}.Execute(context.Background(), step, ec, scope, abortscope.NewRoot(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Metadata["iterationCount"])
	assert.Equal(t, 0, res.Metadata["skippedCount"])
	assert.Equal(t, 3, len(res.Result.AsList()))
}

func TestLoopExecutorMaxIterationsCutsOffRemainder(t *testing.T) {
	ec := newTestContext()
	scope := newTestScope(map[string]types.Value{
		"items": types.NewList([]types.Value{types.NewInt(1), types.NewInt(2), types.NewInt(3), types.NewInt(4)}),
	})
	step := &flowast.Step{
		Name: "l1", Type: flowast.StepLoop,
		Loop: &flowast.LoopStep{Over: "${items}", As: "item", MaxIterations: 2, Step: stopStep("body")},
	}
	res, err := LoopExecutor{}.Execute(context.Background(), step, ec, scope, abortscope.NewRoot(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Metadata["iterationCount"])
	assert.Equal(t, 2, res.Metadata["skippedCount"])
}

func TestLoopExecutorConditionSkipsIterations(t *testing.T) {
	ec := newTestContext()
	scope := newTestScope(map[string]types.Value{
		"items": types.NewList([]types.Value{types.NewInt(1), types.NewInt(2), types.NewInt(3), types.NewInt(4)}),
	})
	step := &flowast.Step{
		Name: "l1", Type: flowast.StepLoop,
		Loop: &flowast.LoopStep{
			Over: "${items}", As: "item",
			Condition: "${item} % 2 == 0",
			Step:      stopStep("body"),
		},
	}
	res, err := LoopExecutor{}.Execute(context.Background(), step, ec, scope, abortscope.NewRoot(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Metadata["iterationCount"])
	assert.Equal(t, 2, res.Metadata["skippedCount"])
}

func TestLoopExecutorMultipleStepsWrapResultsInList(t *testing.T) {
	ec := newTestContext()
	scope := newTestScope(map[string]types.Value{
		"items": types.NewList([]types.Value{types.NewInt(1)}),
	})
	step := &flowast.Step{
		Name: "l1", Type: flowast.StepLoop,
		Loop: &flowast.LoopStep{
			Over: "${items}", As: "item",
			Steps: []*flowast.Step{stopStep("s1"), stopStep("s2")},
		},
	}
	res, err := LoopExecutor{}.Execute(context.Background(), step, ec, scope, abortscope.NewRoot(context.Background()))
	require.NoError(t, err)
	require.Equal(t, 1, len(res.Result.AsList()))
	assert.Equal(t, types.TypeList, res.Result.AsList()[0].Type())
}

func TestLoopExecutorAbortedScopeStopsEarly(t *testing.T) {
	ec := newTestContext()
	scope := newTestScope(map[string]types.Value{
		"items": types.NewList([]types.Value{types.NewInt(1), types.NewInt(2)}),
	})
	abort := abortscope.NewRoot(context.Background())
	abort.Abort(abortscope.ReasonUserAbort, "stop")
	step := &flowast.Step{
		Name: "l1", Type: flowast.StepLoop,
		Loop: &flowast.LoopStep{Over: "${items}", As: "item", Step: stopStep("body")},
	}
	res, err := LoopExecutor{}.Execute(context.Background(), step, ec, scope, abort)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Metadata["iterationCount"])
}
