// Package lifetime enforces the node's hard wall-clock lifetime.
package lifetime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fantine-org/fantine-agent/internal/node"
)

// Enforcer periodically compares elapsed wall-clock time since the node
// was created against its configured maximum lifetime, and fires the
// cleanup trigger exactly once when it is exceeded. The check is a
// coarse ticker rather than a single-shot timer so a suspended and
// resumed node still terminates, and so no long-lived timer has to
// survive a crash elsewhere in the process.
type Enforcer struct {
	record   *node.Record
	interval time.Duration
	clock    node.Clock
	trigger  func()
	logger   *zap.Logger
	fired    bool
}

// New constructs an Enforcer. trigger is invoked at most once, from the
// enforcer's own goroutine.
func New(record *node.Record, interval time.Duration, clock node.Clock, trigger func(), logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		record:   record,
		interval: interval,
		clock:    clock,
		trigger:  trigger,
		logger:   logger,
	}
}

// Run checks on every tick until the trigger fires or the context is
// cancelled. It blocks; callers run it in its own goroutine.
func (e *Enforcer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.check() {
				return
			}
		}
	}
}

// check returns true once the enforcer's job is done, either because it
// fired or because cleanup already started elsewhere.
func (e *Enforcer) check() bool {
	phase := e.record.Phase()
	if phase != node.PhaseRunning {
		// Cleanup already started, node failed, or bootstrap still in
		// progress; in the first two cases there is nothing left to do.
		return phase == node.PhaseCleaningUp || phase == node.PhaseTerminated || phase == node.PhaseFailed
	}
	now := e.clock.Now()
	if !e.record.Expired(now) {
		return false
	}
	if e.fired {
		return true
	}
	e.fired = true
	e.logger.Info("lifetime exceeded, triggering cleanup",
		zap.Duration("elapsed", e.record.Elapsed(now)),
		zap.Duration("max_lifetime", e.record.MaxLifetime),
	)
	e.trigger()
	return true
}
