package abortscope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reasonOf(s *Scope) Reason {
	r, _ := s.Reason()
	return r
}

func TestNewRootNotAbortedInitially(t *testing.T) {
	s := NewRoot(context.Background())
	assert.False(t, s.Aborted())
	assert.Equal(t, ReasonNone, reasonOf(s))
}

func TestAbortSetsReasonOnce(t *testing.T) {
	s := NewRoot(context.Background())
	s.Abort(ReasonPause, "paused")
	assert.True(t, s.Aborted())
	assert.Equal(t, ReasonPause, reasonOf(s))

	// a second Abort call must not overwrite the first reason
	s.Abort(ReasonUserAbort, "user")
	assert.Equal(t, ReasonPause, reasonOf(s))
}

func TestChildInheritsParentReasonWhenUnset(t *testing.T) {
	parent := NewRoot(context.Background())
	child := parent.Child()
	assert.Equal(t, ReasonNone, reasonOf(child))

	parent.Abort(ReasonReset, "reset")
	assert.Equal(t, ReasonReset, reasonOf(child))
	assert.True(t, child.Aborted())
}

func TestChildOwnReasonTakesPrecedenceOverParent(t *testing.T) {
	parent := NewRoot(context.Background())
	child := parent.Child()
	child.Abort(ReasonStopStep, "stop")
	assert.Equal(t, ReasonStopStep, reasonOf(child))
	// parent remains unaffected by a child's abort
	assert.Equal(t, ReasonNone, reasonOf(parent))
}

func TestWithTimeoutSetsReasonTimeoutOnExpiry(t *testing.T) {
	s := NewRoot(context.Background())
	child := s.WithTimeout(5 * time.Millisecond)
	select {
	case <-child.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected child context to expire")
	}
	// give the watcher goroutine a moment to record the reason
	require.Eventually(t, func() bool {
		return reasonOf(child) == ReasonTimeout
	}, time.Second, time.Millisecond)
}

func TestReleaseCancelsWithoutReason(t *testing.T) {
	s := NewRoot(context.Background())
	child := s.Child()
	child.Release()
	select {
	case <-child.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}
	assert.Equal(t, ReasonNone, reasonOf(child))
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "none", ReasonNone.String())
	assert.Equal(t, "paused", ReasonPause.String())
	assert.Equal(t, "timeout", ReasonTimeout.String())
	assert.Equal(t, "aborted", ReasonUserAbort.String())
	assert.Equal(t, "reset", ReasonReset.String())
	assert.Equal(t, "stopped by stop step", ReasonStopStep.String())
}
