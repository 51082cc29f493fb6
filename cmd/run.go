package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fantine-org/fantine-agent/internal/agent"
	clockSystem "github.com/fantine-org/fantine-agent/internal/clock/system"
	"github.com/fantine-org/fantine-agent/internal/config"
	"github.com/fantine-org/fantine-agent/internal/logging"
	"github.com/fantine-org/fantine-agent/internal/metrics"
)

const defaultConfigPath = "/etc/fantine/config.yaml"

// newRunCmd creates the 'run' subcommand, which executes the full node
// lifecycle: bootstrap, supervision, lifetime enforcement, cleanup.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the node lifecycle until teardown",
		RunE:  runAgent,
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	metrics.Init()

	a, err := agent.New(cfg, clockSystem.New(), logger, agent.Options{})
	if err != nil {
		return fmt.Errorf("init agent: %w", err)
	}

	// SIGTERM/SIGINT is the external stop request: it routes through the
	// cleanup controller rather than killing the process outright.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("agent starting",
		zap.Duration("max_lifetime", cfg.Node.MaxLifetime),
		zap.Int("status_port", cfg.Status.Port),
	)
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run agent: %w", err)
	}
	logger.Info("agent finished")
	return nil
}
