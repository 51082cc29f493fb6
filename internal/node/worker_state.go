package node

import (
	"sync"
	"time"
)

// WorkerState tracks the supervised workload process. The supervisor is
// its only writer; the lock is held just long enough to copy or update
// the three fields, so status queries never wait on restart logic.
type WorkerState struct {
	mu             sync.RWMutex
	active         bool
	restartCount   int
	lastTransition time.Time
}

// WorkerStateView is a point-in-time copy safe to hand to readers.
type WorkerStateView struct {
	Active         bool      `json:"active"`
	RestartCount   int       `json:"restart_count"`
	LastTransition time.Time `json:"last_transition"`
}

// NewWorkerState returns an inactive WorkerState.
func NewWorkerState() *WorkerState {
	return &WorkerState{}
}

// MarkActive records the process as running.
func (s *WorkerState) MarkActive(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.lastTransition = now
}

// MarkCrashed records a process exit that will be restarted,
// incrementing the restart counter.
func (s *WorkerState) MarkCrashed(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.restartCount++
	s.lastTransition = now
}

// MarkStopped records a manual, terminal stop.
func (s *WorkerState) MarkStopped(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.lastTransition = now
}

// View returns a consistent copy of the state.
func (s *WorkerState) View() WorkerStateView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return WorkerStateView{
		Active:         s.active,
		RestartCount:   s.restartCount,
		LastTransition: s.lastTransition,
	}
}
