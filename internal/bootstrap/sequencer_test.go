package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fantine-org/fantine-agent/internal/config"
	"github.com/fantine-org/fantine-agent/internal/node"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	failOn   string
	failErr  error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd := name + " " + strings.Join(args, " ")
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && strings.Contains(cmd, r.failOn) {
		return r.failErr
	}
	return nil
}

func (r *fakeRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func testConfig(t *testing.T) config.BootstrapConfig {
	t.Helper()
	root := t.TempDir()
	return config.BootstrapConfig{
		Packages:         []string{"python3", "git"},
		RuntimeDir:       filepath.Join(root, "opt"),
		ResultsDir:       filepath.Join(root, "opt", "results"),
		LogDir:           filepath.Join(root, "log"),
		VenvDir:          filepath.Join(root, "opt", "venv"),
		RepoURL:          "https://github.com/fantine-org/fantine-scraper.git",
		RepoRef:          "main",
		RepoToken:        "secret-token",
		SourceDir:        filepath.Join(root, "opt", "src"),
		RequirementsFile: "requirements.txt",
		MarkerPath:       filepath.Join(root, "opt", ".bootstrap-complete"),
	}
}

func TestSequencer_Run_SuccessWritesMarkerAndEntersRunning(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	runner := &fakeRunner{}
	record := node.NewRecord("node-1", time.Unix(0, 0), time.Hour)
	seq := New(cfg, runner, record, &fakeClock{now: time.Unix(100, 0)}, zap.NewNop())

	require.NoError(t, seq.Run(context.Background()))

	require.Equal(t, node.PhaseRunning, record.Phase())
	require.True(t, Complete(cfg.MarkerPath))

	seen := runner.seen()
	require.Contains(t, seen[0], "apt-get update")
	require.Contains(t, seen[1], "apt-get install -y -q python3 git")
	require.Contains(t, seen[2], "python3 -m venv")
	require.Contains(t, seen[3], "git clone")
	require.Contains(t, seen[3], "x-access-token:secret-token@github.com")
	require.Contains(t, seen[4], "pip install")
}

func TestSequencer_Run_IsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	runner := &fakeRunner{}
	record := node.NewRecord("node-1", time.Unix(0, 0), time.Hour)
	clock := &fakeClock{now: time.Unix(100, 0)}
	seq := New(cfg, runner, record, clock, zap.NewNop())

	require.NoError(t, seq.Run(context.Background()))
	first, err := os.ReadFile(cfg.MarkerPath)
	require.NoError(t, err)

	// Simulate the venv and checkout existing so the second pass skips
	// creation and fetches instead of cloning.
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.VenvDir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.VenvDir, "bin", "python"), []byte("#!"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.SourceDir, ".git"), 0o755))

	require.NoError(t, seq.Run(context.Background()))

	require.Equal(t, node.PhaseRunning, record.Phase())
	second, err := os.ReadFile(cfg.MarkerPath)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))

	seen := runner.seen()
	joined := strings.Join(seen, "\n")
	require.Contains(t, joined, "git -C")
	require.Contains(t, joined, "fetch --depth 1 origin main")
	require.Equal(t, 1, strings.Count(joined, "git clone"))
	require.Equal(t, 1, strings.Count(joined, "-m venv"))
}

func TestSequencer_Run_FetchFailureIsFatal(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	runner := &fakeRunner{failOn: "git clone", failErr: errors.New("authentication failed")}
	record := node.NewRecord("node-1", time.Unix(0, 0), time.Hour)
	seq := New(cfg, runner, record, &fakeClock{now: time.Unix(100, 0)}, zap.NewNop())

	err := seq.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch_source")

	require.Equal(t, node.PhaseFailed, record.Phase())
	require.ErrorContains(t, record.BootstrapError(), "authentication failed")
	require.False(t, Complete(cfg.MarkerPath))
}

func TestSequencer_Run_FurtherStepsSkippedAfterFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	runner := &fakeRunner{failOn: "apt-get update", failErr: errors.New("mirror unreachable")}
	record := node.NewRecord("node-1", time.Unix(0, 0), time.Hour)
	seq := New(cfg, runner, record, &fakeClock{now: time.Unix(100, 0)}, zap.NewNop())

	require.Error(t, seq.Run(context.Background()))
	require.Len(t, runner.seen(), 1)
	require.Equal(t, node.PhaseFailed, record.Phase())
}
