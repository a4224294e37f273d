package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localsession/sessiond/internal/agentclient"
	"github.com/localsession/sessiond/internal/storage"
	"github.com/localsession/sessiond/internal/tui"
)

// NewTopCommand connects to the Agent (auto-launching it if needed)
// and opens a live terminal dashboard of incoming events.
func NewTopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Live dashboard of session activity",
		Long:  `Connect to the Agent and show a live feed of incoming messages and hook events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := agentConfig()

			clientCfg := agentclient.DefaultConfig("sessiond-top")
			clientCfg.DataDir = cfg.DataDir
			client, err := agentclient.Connect(clientCfg)
			if err != nil {
				return fmt.Errorf("connecting to agent: %w", err)
			}
			defer client.Close()

			storeCfg := storage.DefaultConfig()
			storeCfg.Path = cfg.DBPath()
			store, err := storage.Connect(storeCfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer store.Close()

			return tui.NewDashboard(client, store).Run()
		},
	}
}
