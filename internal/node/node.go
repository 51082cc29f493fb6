// Package node holds the shared lifecycle state for a single agent instance.
package node

import (
	"fmt"
	"sync"
	"time"
)

// Phase is the coarse lifecycle state of the node.
type Phase string

// Lifecycle phases, in transition order. Failed is terminal and only
// reachable while bootstrapping; once cleanup begins no phase is revisited.
const (
	PhaseProvisioning Phase = "provisioning"
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseCleaningUp   Phase = "cleaning_up"
	PhaseTerminated   Phase = "terminated"
	PhaseFailed       Phase = "failed"
)

var phaseRank = map[Phase]int{
	PhaseProvisioning: 0,
	PhaseInitializing: 1,
	PhaseRunning:      2,
	PhaseCleaningUp:   3,
	PhaseTerminated:   4,
	PhaseFailed:       5,
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Record is the identity and lifecycle state of this node instance.
// Phase is the only mutable field; each transition has a single
// designated writer (bootstrap to Running, cleanup from Running onward).
type Record struct {
	ID          string
	CreatedAt   time.Time
	MaxLifetime time.Duration

	mu      sync.RWMutex
	phase   Phase
	bootErr error
}

// NewRecord creates a Record in the Provisioning phase.
func NewRecord(id string, createdAt time.Time, maxLifetime time.Duration) *Record {
	return &Record{
		ID:          id,
		CreatedAt:   createdAt,
		MaxLifetime: maxLifetime,
		phase:       PhaseProvisioning,
	}
}

// Phase returns the current lifecycle phase.
func (r *Record) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Transition moves the record to the given phase. Transitions are
// monotonic: moving backwards or revisiting a phase is rejected.
// Failed is only reachable before Running.
func (r *Record) Transition(to Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.phase
	if from == to {
		return fmt.Errorf("node %s already in phase %s", r.ID, to)
	}
	if from == PhaseTerminated || from == PhaseFailed {
		return fmt.Errorf("node %s is terminal (%s), cannot enter %s", r.ID, from, to)
	}
	if to == PhaseFailed {
		if phaseRank[from] >= phaseRank[PhaseRunning] {
			return fmt.Errorf("node %s cannot fail from phase %s", r.ID, from)
		}
		r.phase = PhaseFailed
		return nil
	}
	if phaseRank[to] <= phaseRank[from] {
		return fmt.Errorf("node %s phase %s -> %s is not monotonic", r.ID, from, to)
	}
	r.phase = to
	return nil
}

// Fail marks the node Failed and retains the triggering error for the
// status reporter. Used exclusively by the bootstrap sequencer.
func (r *Record) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseTerminated || r.phase == PhaseFailed {
		return
	}
	r.phase = PhaseFailed
	r.bootErr = err
}

// BootstrapError returns the fatal bootstrap error, if any.
func (r *Record) BootstrapError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bootErr
}

// Elapsed reports wall-clock time since the record was created.
func (r *Record) Elapsed(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// Expired reports whether the configured lifetime has elapsed.
func (r *Record) Expired(now time.Time) bool {
	return r.Elapsed(now) >= r.MaxLifetime
}
