package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elevateai/elevate-go/internal/logging"
)

// NewSearchCmd constructs the `elevate search` command, which runs a
// similarity query against the knowledge store.
func NewSearchCmd() *cobra.Command {
	var k int
	var threshold float64
	var filters []string

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the knowledge store by semantic similarity",
		Long: `Embed a natural language query and return the most similar stored
documents, ranked by cosine similarity.

Metadata filters are exact-match and conjunctive: a record must match every
--filter pair to be returned.

Examples:
  elevate search "how do pods share networking?"
  elevate search "container orchestration" -k 5 --threshold 0.6
  elevate search "deployment strategies" --filter source=k8s-docs --filter lang=en`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			store, _, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = store.Close() }()

			filterMap, err := parseFilters(filters)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if threshold < 0 {
				threshold = store.DefaultThreshold()
			}

			results, err := store.Search(ctx, args[0], k, threshold, filterMap)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if len(results) == 0 {
				fmt.Println("No results above the similarity threshold.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%d. [%.4f] id=%d", r.Rank, r.Score, r.ID)
				if r.Metadata != nil && r.Metadata.Source != "" {
					fmt.Printf(" source=%s", r.Metadata.Source)
				}
				fmt.Printf("\n   %s\n", r.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Maximum number of results (default: SEARCH_DEFAULT_K or 10)")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", -1, "Minimum cosine similarity, 0 disables the cutoff (default: SEARCH_DEFAULT_THRESHOLD or 0.7)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Metadata filter as key=value (repeatable, conjunctive)")

	return cmd
}
