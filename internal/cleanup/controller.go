// Package cleanup tears the node down: stop the workload, archive and
// discard transient state, and signal completion to the orchestrator.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fantine-org/fantine-agent/internal/archive"
	"github.com/fantine-org/fantine-agent/internal/metrics"
	"github.com/fantine-org/fantine-agent/internal/node"
	"github.com/fantine-org/fantine-agent/internal/notify"
)

// Stopper halts the worker supervisor. Implemented by *supervisor.Supervisor.
type Stopper interface {
	Stop(ctx context.Context) error
}

// NopStopper is used when the supervisor never started (bootstrap failed).
type NopStopper struct{}

// Stop does nothing.
func (NopStopper) Stop(context.Context) error { return nil }

// Config controls the teardown pass.
type Config struct {
	TransientPaths []string
	MarkerPath     string
	EventType      string
	ArchivePrefix  string
	ArchivePaths   []string
}

// Controller performs the single cleanup pass. Every sub-step is
// best-effort: failures are logged and recorded in the outcome, and the
// completion signal is still attempted, because a missed signal is
// worse than an incomplete local cleanup.
type Controller struct {
	cfg      Config
	record   *node.Record
	stopper  Stopper
	uploader archive.Uploader // nil disables the archive step
	notifier notify.Notifier
	clock    node.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	outcome *node.CleanupOutcome
}

// New constructs a Controller.
func New(
	cfg Config,
	record *node.Record,
	stopper Stopper,
	uploader archive.Uploader,
	notifier notify.Notifier,
	clock node.Clock,
	logger *zap.Logger,
) *Controller {
	if stopper == nil {
		stopper = NopStopper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		record:   record,
		stopper:  stopper,
		uploader: uploader,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes the cleanup pass and returns its outcome. Repeat
// invocations return the outcome of the first pass; the completion
// signal is additionally deduplicated across process restarts by a
// durable marker written before the attempt.
func (c *Controller) Run(ctx context.Context) node.CleanupOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome != nil {
		c.logger.Info("cleanup already ran, returning recorded outcome")
		return *c.outcome
	}
	metrics.CleanupAttempt()

	var errs []string
	fail := func(step string, err error) {
		c.logger.Warn("cleanup step failed", zap.String("step", step), zap.Error(err))
		errs = append(errs, fmt.Sprintf("%s: %v", step, err))
	}

	if err := c.record.Transition(node.PhaseCleaningUp); err != nil {
		// Phase already moved on (or the node failed during bootstrap);
		// proceed anyway so the signal still goes out.
		fail("enter_cleaning_up", err)
	}
	metrics.SetNodePhase(string(c.record.Phase()))

	if err := c.stopper.Stop(ctx); err != nil {
		fail("stop_worker", err)
	}

	if c.uploader != nil {
		for _, p := range c.cfg.ArchivePaths {
			prefix := c.cfg.ArchivePrefix
			if info, statErr := os.Stat(p); statErr == nil && info.IsDir() {
				prefix = path.Join(prefix, filepath.Base(p))
			}
			if err := archive.Dir(ctx, c.uploader, prefix, p, c.logger); err != nil {
				fail("archive", err)
			}
		}
	}

	for _, p := range c.cfg.TransientPaths {
		if err := os.RemoveAll(p); err != nil {
			fail("discard_transient", err)
		}
	}

	sent := c.signal(ctx, &errs)

	if err := c.record.Transition(node.PhaseTerminated); err != nil {
		fail("enter_terminated", err)
	}
	metrics.SetNodePhase(string(c.record.Phase()))

	outcome := node.CleanupOutcome{
		CompletedAt: c.clock.Now(),
		Success:     len(errs) == 0,
		SignalSent:  sent,
		Errors:      errs,
	}
	c.outcome = &outcome
	c.logger.Info("cleanup finished",
		zap.Bool("success", outcome.Success),
		zap.Bool("signal_sent", outcome.SignalSent),
		zap.Strings("errors", outcome.Errors),
	)
	return outcome
}

// signal emits the completion event at most once per node lifetime.
// The durable marker is written before the POST: a crash in between
// loses the signal rather than duplicating it, and the orchestrator
// force-terminates unresponsive nodes regardless.
func (c *Controller) signal(ctx context.Context, errs *[]string) bool {
	if _, err := os.Stat(c.cfg.MarkerPath); err == nil {
		c.logger.Info("completion signal already sent, skipping",
			zap.String("marker", c.cfg.MarkerPath))
		return false
	}
	if err := c.writeMarker(); err != nil {
		*errs = append(*errs, fmt.Sprintf("signal_marker: %v", err))
		return false
	}

	event := notify.Event{
		EventType: c.cfg.EventType,
		NodeID:    c.record.ID,
		Phase:     string(node.PhaseTerminated),
		Success:   len(*errs) == 0,
		SentAt:    c.clock.Now(),
	}
	if err := c.notifier.Notify(ctx, event); err != nil {
		*errs = append(*errs, fmt.Sprintf("signal: %v", err))
		c.logger.Warn("completion signal delivery failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Controller) writeMarker() error {
	if err := os.MkdirAll(filepath.Dir(c.cfg.MarkerPath), 0o755); err != nil {
		return fmt.Errorf("mkdir marker dir: %w", err)
	}
	stamp := c.clock.Now().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(c.cfg.MarkerPath, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}
