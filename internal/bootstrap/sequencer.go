// Package bootstrap brings a bare node to a ready state through an
// ordered sequence of idempotent setup steps.
package bootstrap

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fantine-org/fantine-agent/internal/config"
	"github.com/fantine-org/fantine-agent/internal/metrics"
	"github.com/fantine-org/fantine-agent/internal/node"
)

// Sequencer performs node setup. Any step failure is fatal: the node
// enters the Failed phase and no component downstream of bootstrap is
// allowed to start. Retry is the orchestrator's responsibility.
type Sequencer struct {
	cfg    config.BootstrapConfig
	runner Runner
	record *node.Record
	clock  node.Clock
	logger *zap.Logger
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// New constructs a Sequencer.
func New(cfg config.BootstrapConfig, runner Runner, record *node.Record, clock node.Clock, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		cfg:    cfg,
		runner: runner,
		record: record,
		clock:  clock,
		logger: logger,
	}
}

// Run executes every setup step in order. Each step converges to the
// same end state when re-run, so invoking Run on an already-bootstrapped
// node is safe. On success the durable completion marker is written and
// the node enters the Running phase.
func (s *Sequencer) Run(ctx context.Context) error {
	if s.record.Phase() == node.PhaseProvisioning {
		if err := s.record.Transition(node.PhaseInitializing); err != nil {
			return fmt.Errorf("enter initializing: %w", err)
		}
	}
	metrics.SetNodePhase(string(s.record.Phase()))

	for _, st := range s.steps() {
		s.logger.Info("bootstrap step starting", zap.String("step", st.name))
		if err := st.run(ctx); err != nil {
			metrics.BootstrapStep(st.name, "error")
			s.logger.Error("bootstrap step failed", zap.String("step", st.name), zap.Error(err))
			s.record.Fail(fmt.Errorf("bootstrap %s: %w", st.name, err))
			metrics.SetNodePhase(string(node.PhaseFailed))
			return fmt.Errorf("bootstrap %s: %w", st.name, err)
		}
		metrics.BootstrapStep(st.name, "ok")
	}

	if err := s.writeMarker(); err != nil {
		s.record.Fail(fmt.Errorf("bootstrap marker: %w", err))
		metrics.SetNodePhase(string(node.PhaseFailed))
		return fmt.Errorf("bootstrap marker: %w", err)
	}

	if s.record.Phase() != node.PhaseRunning {
		if err := s.record.Transition(node.PhaseRunning); err != nil {
			return fmt.Errorf("enter running: %w", err)
		}
	}
	metrics.SetNodePhase(string(node.PhaseRunning))
	s.logger.Info("bootstrap complete", zap.String("marker", s.cfg.MarkerPath))
	return nil
}

// Complete reports whether the durable bootstrap marker exists.
func Complete(markerPath string) bool {
	_, err := os.Stat(markerPath)
	return err == nil
}

func (s *Sequencer) steps() []step {
	return []step{
		{name: "install_packages", run: s.installPackages},
		{name: "ensure_directories", run: s.ensureDirectories},
		{name: "create_virtualenv", run: s.createVirtualenv},
		{name: "fetch_source", run: s.fetchSource},
		{name: "install_dependencies", run: s.installDependencies},
	}
}

func (s *Sequencer) installPackages(ctx context.Context) error {
	if len(s.cfg.Packages) == 0 {
		return nil
	}
	if err := s.runner.Run(ctx, "apt-get", "update", "-q"); err != nil {
		return err
	}
	args := append([]string{"install", "-y", "-q"}, s.cfg.Packages...)
	return s.runner.Run(ctx, "apt-get", args...)
}

func (s *Sequencer) ensureDirectories(context.Context) error {
	for _, dir := range []string{s.cfg.RuntimeDir, s.cfg.ResultsDir, s.cfg.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

func (s *Sequencer) createVirtualenv(ctx context.Context) error {
	if s.cfg.VenvDir == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Join(s.cfg.VenvDir, "bin", "python")); err == nil {
		return nil
	}
	return s.runner.Run(ctx, "python3", "-m", "venv", s.cfg.VenvDir)
}

func (s *Sequencer) fetchSource(ctx context.Context) error {
	if s.cfg.RepoURL == "" {
		return nil
	}
	cloneURL, err := s.authenticatedURL()
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(filepath.Join(s.cfg.SourceDir, ".git")); statErr == nil {
		if err := s.runner.Run(ctx, "git", "-C", s.cfg.SourceDir, "fetch", "--depth", "1", "origin", s.cfg.RepoRef); err != nil {
			return err
		}
		return s.runner.Run(ctx, "git", "-C", s.cfg.SourceDir, "reset", "--hard", "FETCH_HEAD")
	}
	return s.runner.Run(ctx, "git", "clone", "--depth", "1", "--branch", s.cfg.RepoRef, cloneURL, s.cfg.SourceDir)
}

func (s *Sequencer) installDependencies(ctx context.Context) error {
	if s.cfg.RequirementsFile == "" {
		return nil
	}
	pip := filepath.Join(s.cfg.VenvDir, "bin", "pip")
	reqs := filepath.Join(s.cfg.SourceDir, s.cfg.RequirementsFile)
	return s.runner.Run(ctx, pip, "install", "-q", "-r", reqs)
}

// authenticatedURL embeds the fetch credential into the repository URL.
// The credential is only ever passed on the git command line, never
// logged or written into generated files.
func (s *Sequencer) authenticatedURL() (string, error) {
	if s.cfg.RepoToken == "" {
		return s.cfg.RepoURL, nil
	}
	u, err := url.Parse(s.cfg.RepoURL)
	if err != nil {
		return "", fmt.Errorf("parse repo url: %w", err)
	}
	u.User = url.UserPassword("x-access-token", s.cfg.RepoToken)
	return u.String(), nil
}

func (s *Sequencer) writeMarker() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.MarkerPath), 0o755); err != nil {
		return fmt.Errorf("mkdir marker dir: %w", err)
	}
	stamp := s.clock.Now().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(s.cfg.MarkerPath, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}
