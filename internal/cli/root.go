// Package cli implements the sessiond operator CLI: inspecting and
// driving the Agent from a terminal (start/stop/status, an on-demand
// scan, search, aggregate stats, and a live dashboard), alongside the
// Agent itself and the C ABI library that are the actual subject of
// this repository.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/localsession/sessiond/internal/agent"
)

var dataDir string

// NewRootCommand builds the sessiond command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sessiond",
		Short: "Shared session-history service for AI CLI tools",
		Long: `sessiond is the single-writer broker behind a shared session-history
store for Claude Code, Codex, OpenCode, and similar CLI tools: it
collects their transcripts into one searchable database and notifies
subscribers as new messages arrive.`,
		Version: agent.Version,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory (default: ~/.sessiond)")

	rootCmd.AddCommand(
		NewAgentCommand(),
		NewScanCommand(),
		NewSearchCommand(),
		NewStatsCommand(),
		NewTopCommand(),
	)

	return rootCmd
}

// Execute runs the CLI, exiting non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
		os.Exit(1)
	}
}

func agentConfig() agent.Config {
	cfg := agent.DefaultConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg
}
