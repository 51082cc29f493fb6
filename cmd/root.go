// Package cmd defines and implements the CLI commands for the
// fantine-agent executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fantine-agent",
		Short: "Node-side bootstrap and lifecycle agent for Fantine scraper droplets.",
		Long: `fantine-agent runs once per ephemeral droplet: it bootstraps the
scraping runtime, supervises the workload process with restart-on-crash,
serves a read-only health endpoint, enforces a hard wall-clock lifetime,
and signals completion back to the orchestrator before teardown.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/fantine/config.yaml)")

	cmd.AddCommand(newRunCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
