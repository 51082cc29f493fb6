// Package supervisor owns the lifecycle of the scraping workload
// process: start, restart-on-crash, terminal stop.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fantine-org/fantine-agent/internal/metrics"
	"github.com/fantine-org/fantine-agent/internal/node"
)

// Config controls the supervised workload process.
type Config struct {
	Command      string
	Args         []string
	WorkDir      string
	Env          map[string]string
	RestartDelay time.Duration
	LogPath      string
}

// Supervisor runs exactly one workload process at a time, restarting it
// after a fixed delay whenever it crashes. Crashes are never fatal to
// the node; only Stop ends the loop. All bookkeeping goes through
// node.WorkerState so status queries never wait on restart logic.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	state    *node.WorkerState
	clock    node.Clock
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Supervisor. A nil launcher defaults to ExecLauncher.
func New(cfg Config, launcher Launcher, state *node.WorkerState, clock node.Clock, logger *zap.Logger) *Supervisor {
	if launcher == nil {
		launcher = ExecLauncher
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		state:    state,
		clock:    clock,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run supervises the workload until Stop is called or the context is
// cancelled. It blocks; callers run it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		runCtx, cancel := context.WithCancel(ctx)
		proc, err := s.launcher(runCtx, s.cfg)
		if err != nil {
			cancel()
			s.logger.Error("worker start failed", zap.Error(err))
			s.crashed()
			if !s.backoff(ctx) {
				return
			}
			continue
		}

		s.state.MarkActive(s.clock.Now())
		metrics.SetWorkerActive(true)
		s.logger.Info("worker active", zap.String("command", s.cfg.Command))

		exited := make(chan error, 1)
		go func() { exited <- proc.Wait() }()

		select {
		case <-s.stopCh:
			s.terminate(proc, cancel, exited)
			return
		case <-ctx.Done():
			s.terminate(proc, cancel, exited)
			return
		case err := <-exited:
			cancel()
			s.logger.Warn("worker exited", zap.Error(err))
			s.crashed()
			if !s.backoff(ctx) {
				return
			}
		}
	}
}

// Stop ends supervision: the current process is signalled, no restart
// follows, and the worker state becomes terminally stopped. Safe to
// call more than once. Blocks until the run loop has drained.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) crashed() {
	s.state.MarkCrashed(s.clock.Now())
	metrics.SetWorkerActive(false)
	metrics.WorkerRestarted()
}

// backoff sleeps the fixed restart delay; returns false when the
// supervisor should give up because it was stopped meanwhile.
func (s *Supervisor) backoff(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.RestartDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) terminate(proc Process, cancel context.CancelFunc, exited <-chan error) {
	if err := proc.Stop(); err != nil {
		s.logger.Warn("worker stop signal failed", zap.Error(err))
	}
	select {
	case <-exited:
	case <-time.After(10 * time.Second):
		s.logger.Warn("worker did not exit after signal, killing")
		cancel()
		<-exited
	}
	cancel()
	s.state.MarkStopped(s.clock.Now())
	metrics.SetWorkerActive(false)
	s.logger.Info("worker stopped")
}
