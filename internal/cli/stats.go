package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/localsession/sessiond/internal/storage"
)

// NewStatsCommand prints the aggregate row counts across the database.
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate counts across the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := agentConfig()
			storeCfg := storage.DefaultConfig()
			storeCfg.Path = cfg.DBPath()

			store, err := storage.Connect(storeCfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer store.Close()

			stats, err := store.GetStats()
			if err != nil {
				return fmt.Errorf("getting stats: %w", err)
			}

			fmt.Println("sessiond statistics")
			fmt.Println("====================")
			fmt.Printf("projects: %d\n", stats.ProjectCount)
			fmt.Printf("sessions: %d\n", stats.SessionCount)
			fmt.Printf("messages: %d\n", stats.MessageCount)
			fmt.Printf("database size: %s\n", humanize.Bytes(uint64(stats.DatabaseSizeBytes)))
			return nil
		},
	}
}
