package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/localsession/sessiond/internal/session"
	"github.com/localsession/sessiond/internal/storage"
)

// NewSearchCommand runs a full-text search directly against storage.
func NewSearchCommand() *cobra.Command {
	var limit int
	var order string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search message history",
		Long:  `Full-text search over every collected message's content.`,
		Example: `  sessiond search "authentication JWT"
  sessiond search "database migration" --limit 5 --order time`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(query, limit, order)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	cmd.Flags().StringVar(&order, "order", "score", "result order: score, time, time-asc")

	return cmd
}

func runSearch(query string, limit int, order string) error {
	cfg := agentConfig()
	storeCfg := storage.DefaultConfig()
	storeCfg.Path = cfg.DBPath()

	store, err := storage.Connect(storeCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	var sortOrder session.SearchOrder
	switch order {
	case "time":
		sortOrder = session.OrderTimeDesc
	case "time-asc":
		sortOrder = session.OrderTimeAsc
	default:
		sortOrder = session.OrderScore
	}

	results, err := store.SearchFTS(query, limit, nil, sortOrder, nil, nil)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("no results found")
		return nil
	}

	fmt.Printf("found %d result(s) for %q:\n\n", len(results), query)
	for i, r := range results {
		fmt.Printf("%d. [%s] session %s (%s)\n", i+1, r.ProjectName, r.SessionID, r.Role)
		fmt.Printf("   %s\n\n", r.Snippet)
	}

	return nil
}
