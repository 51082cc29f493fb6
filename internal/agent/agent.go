// Package agent wires the lifecycle components together and owns their
// ordering: bootstrap strictly before supervision and lifetime
// enforcement, cleanup exactly once at the end.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fantine-org/fantine-agent/internal/archive"
	"github.com/fantine-org/fantine-agent/internal/archive/spaces"
	"github.com/fantine-org/fantine-agent/internal/bootstrap"
	"github.com/fantine-org/fantine-agent/internal/cleanup"
	"github.com/fantine-org/fantine-agent/internal/config"
	"github.com/fantine-org/fantine-agent/internal/lifetime"
	"github.com/fantine-org/fantine-agent/internal/metrics"
	"github.com/fantine-org/fantine-agent/internal/node"
	"github.com/fantine-org/fantine-agent/internal/notify"
	"github.com/fantine-org/fantine-agent/internal/status"
	"github.com/fantine-org/fantine-agent/internal/supervisor"
)

// Options let tests substitute the pieces that touch the host. Nil
// fields fall back to the real implementations: ExecRunner,
// ExecLauncher, the webhook notifier, the Spaces uploader (when
// configured), and the gopsutil uptime reader.
type Options struct {
	Runner   bootstrap.Runner
	Launcher supervisor.Launcher
	Notifier notify.Notifier
	Uploader archive.Uploader
	Uptime   func() (time.Duration, error)
}

// Agent is the node-side bootstrap-and-lifecycle process.
type Agent struct {
	cfg    config.Config
	logger *zap.Logger
	clock  node.Clock

	record  *node.Record
	worker  *node.WorkerState
	boot    *bootstrap.Sequencer
	sup     *supervisor.Supervisor
	server  *status.Server
	ctrl    *cleanup.Controller
	enforce *lifetime.Enforcer

	cleanupOnce sync.Once
	cleanupCh   chan struct{}
}

// New builds an Agent from configuration.
func New(cfg config.Config, clock node.Clock, logger *zap.Logger, opts Options) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	id := cfg.Node.ID
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("derive node id: %w", err)
		}
		id = host
	}

	record := node.NewRecord(id, clock.Now(), cfg.Node.MaxLifetime)
	worker := node.NewWorkerState()

	runner := opts.Runner
	if runner == nil {
		runner = bootstrap.ExecRunner{}
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewWebhook(cfg.Cleanup.Webhook.URL, cfg.Cleanup.Webhook.AuthToken, cfg.Cleanup.Webhook.Timeout)
	}

	uploader := opts.Uploader
	if uploader == nil && cfg.Cleanup.ArchiveEnabled() {
		sp := cfg.Cleanup.Spaces
		client, err := spaces.NewClient(sp.Endpoint, sp.Region, sp.AccessKey, sp.SecretKey, sp.Bucket)
		if err != nil {
			return nil, fmt.Errorf("init spaces client: %w", err)
		}
		uploader = client
	}

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		clock:     clock,
		record:    record,
		worker:    worker,
		cleanupCh: make(chan struct{}),
	}

	a.boot = bootstrap.New(cfg.Bootstrap, runner, record, clock, logger.Named("bootstrap"))

	a.sup = supervisor.New(supervisor.Config{
		Command:      cfg.Worker.Command,
		Args:         cfg.Worker.Args,
		WorkDir:      cfg.Worker.WorkDir,
		Env:          cfg.Worker.Env,
		RestartDelay: cfg.Worker.RestartDelay,
		LogPath:      cfg.Worker.LogPath,
	}, opts.Launcher, worker, clock, logger.Named("supervisor"))

	a.server = status.NewServer(record, worker, clock,
		func() bool { return bootstrap.Complete(cfg.Bootstrap.MarkerPath) },
		opts.Uptime, logger.Named("status"))

	a.ctrl = cleanup.New(cleanup.Config{
		TransientPaths: cfg.Cleanup.TransientPaths,
		MarkerPath:     cfg.Cleanup.MarkerPath,
		EventType:      cfg.Cleanup.Webhook.EventType,
		ArchivePrefix:  cfg.Cleanup.Spaces.Prefix + "/" + id,
		ArchivePaths:   archivePaths(cfg),
	}, record, a.sup, uploader, notifier, clock, logger.Named("cleanup"))

	a.enforce = lifetime.New(record, cfg.Lifetime.CheckInterval, clock, a.TriggerCleanup, logger.Named("lifetime"))

	return a, nil
}

func archivePaths(cfg config.Config) []string {
	paths := append([]string(nil), cfg.Cleanup.TransientPaths...)
	if cfg.Worker.LogPath != "" {
		paths = append(paths, cfg.Worker.LogPath)
	}
	return paths
}

// Record exposes the node record for observability.
func (a *Agent) Record() *node.Record {
	return a.record
}

// TriggerCleanup requests teardown. Safe to call from any goroutine and
// any number of times; only the first call has an effect.
func (a *Agent) TriggerCleanup() {
	a.cleanupOnce.Do(func() { close(a.cleanupCh) })
}

// Run executes the full node lifecycle and blocks until teardown
// finishes. The status server starts first so pollers see the
// initializing phase; bootstrap failure keeps the agent alive serving
// the error until the context ends, and never starts the supervisor or
// the enforcer.
func (a *Agent) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Status.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer a.shutdownServer(httpServer)

	if err := a.boot.Run(ctx); err != nil {
		a.logger.Error("bootstrap failed, node requires external replacement", zap.Error(err))
		// Stay up reporting the Failed phase until the orchestrator
		// tears the node down.
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			return fmt.Errorf("status server: %w", err)
		}
		return err
	}

	var wg sync.WaitGroup
	supCtx, supCancel := context.WithCancel(context.Background())
	defer supCancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sup.Run(supCtx)
	}()

	enfCtx, enfCancel := context.WithCancel(context.Background())
	defer enfCancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.enforce.Run(enfCtx)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("external stop requested")
	case <-a.cleanupCh:
	case err := <-serveErr:
		a.logger.Error("status server failed", zap.Error(err))
		// The reporter is an independent failure domain: supervision
		// and lifetime enforcement continue without it.
		select {
		case <-ctx.Done():
		case <-a.cleanupCh:
		}
	}

	enfCancel()

	// Cleanup runs under its own deadline; the triggering context may
	// already be cancelled.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	outcome := a.ctrl.Run(cleanupCtx)

	supCancel()
	wg.Wait()

	if !outcome.Success {
		a.logger.Warn("cleanup finished with errors", zap.Strings("errors", outcome.Errors))
	}
	return nil
}

func (a *Agent) shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("status server shutdown", zap.Error(err))
	}
}
