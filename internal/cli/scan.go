package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localsession/sessiond/internal/collector"
	"github.com/localsession/sessiond/internal/storage"
)

// NewScanCommand runs a one-off collection pass directly against
// storage, without going through a running Agent — useful for an
// initial import or a cron-driven backfill.
func NewScanCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan transcript files into the database",
		Long: `Discover and ingest transcript files from every known CLI's session
directories (or a single file with --path), without requiring the
Agent to be running. Safe to re-run: already-ingested messages are
skipped by UUID.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := agentConfig()
			storeCfg := storage.DefaultConfig()
			storeCfg.Path = cfg.DBPath()

			store, err := storage.Connect(storeCfg)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer store.Close()

			coll := collector.New(store)

			if path != "" {
				validator := NewValidator()
				resolved, err := validator.ResolvePath(path)
				if err != nil {
					return err
				}
				if err := validator.ValidateFile(resolved); err != nil {
					return err
				}

				result, ids, err := coll.CollectByPath(resolved)
				if err != nil {
					return fmt.Errorf("scanning %s: %w", path, err)
				}
				fmt.Printf("inserted %d message(s) (%d ids)\n", result.MessagesInserted, len(ids))
				return nil
			}

			result := coll.CollectAll()
			fmt.Printf("projects scanned: %d\n", result.ProjectsScanned)
			fmt.Printf("sessions scanned: %d\n", result.SessionsScanned)
			fmt.Printf("messages inserted: %d\n", result.MessagesInserted)
			if result.ErrorCount > 0 {
				fmt.Printf("errors: %d (first: %s)\n", result.ErrorCount, result.FirstError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "scan a single transcript file instead of every known root")

	return cmd
}
