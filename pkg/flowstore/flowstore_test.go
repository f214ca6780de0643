package flowstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonberrylabs/flowengine/pkg/flowast"
)

func testFlow(name string) *flowast.Flow {
	return &flowast.Flow{Name: name, Steps: []*flowast.Step{{Name: "s1", Type: flowast.StepStop, Stop: &flowast.StopStep{}}}}
}

func TestCreateFlowRejectsDuplicateName(t *testing.T) {
	s := New()
	_, err := s.CreateFlow([]byte("a"), testFlow("f1"))
	require.NoError(t, err)

	_, err = s.CreateFlow([]byte("b"), testFlow("f1"))
	require.Error(t, err)
	var exists *ErrAlreadyExists
	require.ErrorAs(t, err, &exists)
}

func TestGetFlowNotFound(t *testing.T) {
	s := New()
	_, err := s.GetFlow("missing")
	require.Error(t, err)
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "flow", nf.Kind)
}

func TestUpsertFlowCreatesThenBumpsRevision(t *testing.T) {
	s := New()
	rec := s.UpsertFlow([]byte("v1"), testFlow("f1"))
	assert.Equal(t, int64(1), rec.Revision)

	rec2 := s.UpsertFlow([]byte("v2"), testFlow("f1"))
	assert.Equal(t, int64(2), rec2.Revision)
	assert.Equal(t, []byte("v2"), rec2.Source)

	got, err := s.GetFlow("f1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
}

func TestListFlowsSortedByName(t *testing.T) {
	s := New()
	s.UpsertFlow(nil, testFlow("zebra"))
	s.UpsertFlow(nil, testFlow("alpha"))
	s.UpsertFlow(nil, testFlow("mango"))

	list := s.ListFlows()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"alpha", "mango", "zebra"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestDeleteFlowRemovesItsRuns(t *testing.T) {
	s := New()
	s.UpsertFlow(nil, testFlow("f1"))
	run := s.CreateRun("f1")

	require.NoError(t, s.DeleteFlow("f1"))
	_, err := s.GetFlow("f1")
	require.Error(t, err)

	_, err = s.GetRun(run.ID)
	require.Error(t, err)

	assert.Empty(t, s.ListRuns("f1"))
}

func TestDeleteFlowNotFound(t *testing.T) {
	s := New()
	err := s.DeleteFlow("missing")
	require.Error(t, err)
}

func TestCreateRunAllocatesMonotonicIDs(t *testing.T) {
	s := New()
	s.UpsertFlow(nil, testFlow("f1"))
	r1 := s.CreateRun("f1")
	r2 := s.CreateRun("f1")
	assert.NotEqual(t, r1.ID, r2.ID)
	assert.Equal(t, RunStatePending, r1.State)
}

func TestUpdateRunMutatesUnderLock(t *testing.T) {
	s := New()
	s.UpsertFlow(nil, testFlow("f1"))
	run := s.CreateRun("f1")

	err := s.UpdateRun(run.ID, func(r *RunRecord) {
		r.State = RunStateRunning
	})
	require.NoError(t, err)

	got, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateRunning, got.State)
	assert.True(t, got.UpdateTime.After(run.CreateTime) || got.UpdateTime.Equal(run.CreateTime))
}

func TestUpdateRunNotFound(t *testing.T) {
	s := New()
	err := s.UpdateRun("nonexistent", func(r *RunRecord) {})
	require.Error(t, err)
}

func TestListRunsMostRecentFirstAndAllFlows(t *testing.T) {
	s := New()
	s.UpsertFlow(nil, testFlow("f1"))
	s.UpsertFlow(nil, testFlow("f2"))
	r1 := s.CreateRun("f1")
	r2 := s.CreateRun("f1")
	r3 := s.CreateRun("f2")

	f1Runs := s.ListRuns("f1")
	require.Len(t, f1Runs, 2)
	assert.Equal(t, r2.ID, f1Runs[0].ID)
	assert.Equal(t, r1.ID, f1Runs[1].ID)

	all := s.ListRuns("")
	assert.Len(t, all, 3)
	ids := map[string]bool{}
	for _, r := range all {
		ids[r.ID] = true
	}
	assert.True(t, ids[r1.ID] && ids[r2.ID] && ids[r3.ID])
}
