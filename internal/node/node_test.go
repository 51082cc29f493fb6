package node

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecord_PhaseTransitionsAreMonotonic(t *testing.T) {
	t.Parallel()

	r := NewRecord("node-1", time.Unix(0, 0), time.Hour)
	require.Equal(t, PhaseProvisioning, r.Phase())

	require.NoError(t, r.Transition(PhaseInitializing))
	require.NoError(t, r.Transition(PhaseRunning))
	require.NoError(t, r.Transition(PhaseCleaningUp))
	require.NoError(t, r.Transition(PhaseTerminated))

	require.Error(t, r.Transition(PhaseRunning))
	require.Error(t, r.Transition(PhaseCleaningUp))
}

func TestRecord_NoPhaseRevisitedAfterCleanupBegins(t *testing.T) {
	t.Parallel()

	r := NewRecord("node-1", time.Unix(0, 0), time.Hour)
	require.NoError(t, r.Transition(PhaseInitializing))
	require.NoError(t, r.Transition(PhaseRunning))
	require.NoError(t, r.Transition(PhaseCleaningUp))

	require.Error(t, r.Transition(PhaseRunning))
	require.Error(t, r.Transition(PhaseInitializing))
	require.Error(t, r.Transition(PhaseFailed))
	require.Equal(t, PhaseCleaningUp, r.Phase())
}

func TestRecord_FailOnlyBeforeRunning(t *testing.T) {
	t.Parallel()

	r := NewRecord("node-1", time.Unix(0, 0), time.Hour)
	require.NoError(t, r.Transition(PhaseInitializing))
	require.NoError(t, r.Transition(PhaseFailed))
	require.Equal(t, PhaseFailed, r.Phase())

	r2 := NewRecord("node-2", time.Unix(0, 0), time.Hour)
	require.NoError(t, r2.Transition(PhaseInitializing))
	require.NoError(t, r2.Transition(PhaseRunning))
	require.Error(t, r2.Transition(PhaseFailed))
}

func TestRecord_FailRetainsError(t *testing.T) {
	t.Parallel()

	r := NewRecord("node-1", time.Unix(0, 0), time.Hour)
	r.Fail(errors.New("apt unreachable"))
	require.Equal(t, PhaseFailed, r.Phase())
	require.ErrorContains(t, r.BootstrapError(), "apt unreachable")

	// Terminal: a later Fail does not overwrite.
	r.Fail(errors.New("something else"))
	require.ErrorContains(t, r.BootstrapError(), "apt unreachable")
}

func TestRecord_Expired(t *testing.T) {
	t.Parallel()

	created := time.Unix(1000, 0)
	r := NewRecord("node-1", created, time.Hour)

	require.False(t, r.Expired(created.Add(59*time.Minute)))
	require.True(t, r.Expired(created.Add(time.Hour)))
	require.True(t, r.Expired(created.Add(2*time.Hour)))
}

func TestWorkerState_CyclesWhilePhaseUnchanged(t *testing.T) {
	t.Parallel()

	s := NewWorkerState()
	now := time.Unix(100, 0)

	s.MarkActive(now)
	require.True(t, s.View().Active)

	s.MarkCrashed(now.Add(time.Second))
	s.MarkActive(now.Add(2 * time.Second))
	s.MarkCrashed(now.Add(3 * time.Second))

	view := s.View()
	require.Equal(t, 2, view.RestartCount)
	require.False(t, view.Active)
	require.Equal(t, now.Add(3*time.Second), view.LastTransition)

	s.MarkStopped(now.Add(4 * time.Second))
	view = s.View()
	require.False(t, view.Active)
	require.Equal(t, 2, view.RestartCount)
}

func TestWorkerState_ConcurrentReadersAndWriter(t *testing.T) {
	t.Parallel()

	s := NewWorkerState()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s.MarkActive(time.Unix(int64(i), 0))
			s.MarkCrashed(time.Unix(int64(i), 1))
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				view := s.View()
				require.LessOrEqual(t, view.RestartCount, 500)
			}
		}()
	}
	wg.Wait()
	<-done
	require.Equal(t, 500, s.View().RestartCount)
}

func TestHealthPhase(t *testing.T) {
	t.Parallel()

	require.Equal(t, HealthInitializing, HealthPhase(PhaseInitializing, false, false))
	require.Equal(t, HealthError, HealthPhase(PhaseFailed, false, false))
	require.Equal(t, HealthHealthy, HealthPhase(PhaseRunning, true, true))
	require.Equal(t, HealthStopped, HealthPhase(PhaseRunning, true, false))
	require.Equal(t, HealthStopped, HealthPhase(PhaseCleaningUp, true, true))
	require.Equal(t, HealthStopped, HealthPhase(PhaseTerminated, true, false))
}
