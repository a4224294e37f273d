package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/localsession/sessiond/internal/agent"
)

// NewAgentCommand groups the subcommands that manage the broker
// process directly; most callers never need these since the client
// library auto-launches the Agent on first connect.
func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage the sessiond broker process",
		Long:  `Start, stop, or check the status of the single-writer Agent broker.`,
	}

	cmd.AddCommand(
		newAgentRunCommand(),
		newAgentStopCommand(),
		newAgentStatusCommand(),
	)

	return cmd
}

func newAgentRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the Agent in the foreground",
		Long:  `Run the broker process in the foreground until interrupted (Ctrl+C).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := agentConfig()

			if agent.IsRunning(cfg) {
				return fmt.Errorf("an agent is already running for %s", cfg.DataDir)
			}

			a, err := agent.New(cfg)
			if err != nil {
				return fmt.Errorf("creating agent: %w", err)
			}

			fmt.Printf("sessiond agent listening on %s (Ctrl+C to stop)\n", cfg.SocketPath())
			return a.Run()
		},
	}
}

func newAgentStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running Agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := agentConfig()

			data, err := os.ReadFile(cfg.PIDPath())
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("agent is not running")
					return nil
				}
				return fmt.Errorf("reading pid file: %w", err)
			}

			var pid int
			if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
				return fmt.Errorf("parsing pid file: %w", err)
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("finding agent process: %w", err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("stopping agent: %w", err)
			}

			time.Sleep(500 * time.Millisecond)
			fmt.Println("agent stopped")
			return nil
		},
	}
}

func newAgentStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether an Agent is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := agentConfig()
			if agent.IsRunning(cfg) {
				fmt.Printf("agent running (data dir: %s, socket: %s)\n", cfg.DataDir, cfg.SocketPath())
				return nil
			}
			fmt.Println("agent not running")
			return nil
		},
	}
}
