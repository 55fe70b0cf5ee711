package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elevateai/elevate-go/internal/logging"
)

// NewRecordsCmd constructs the `elevate records` command, which lists stored
// records by metadata filter without running a similarity query.
func NewRecordsCmd() *cobra.Command {
	var filters []string

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List stored records by metadata filter",
		Long: `List non-deleted records matching metadata filters, ordered by id.

Unlike 'elevate search' this never touches the embedding backend or the
vector index — it is a pure metadata scan, useful for auditing what a given
source contributed.

Examples:
  elevate records
  elevate records --filter source=k8s-docs
  elevate records --filter content_type=document --filter lang=en`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			store, _, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("records: %w", err)
			}
			defer func() { _ = store.Close() }()

			filterMap, err := parseFilters(filters)
			if err != nil {
				return fmt.Errorf("records: %w", err)
			}

			recs := store.SearchMetadata(filterMap)
			if len(recs) == 0 {
				fmt.Println("No records match.")
				return nil
			}
			for _, rec := range recs {
				fmt.Printf("%d  %s  %s  %s\n   %s\n",
					rec.VectorID,
					rec.CreatedAt.Format("2006-01-02 15:04:05"),
					rec.Source, rec.ContentType, rec.TextPreview)
			}
			fmt.Printf("%d record(s)\n", len(recs))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Metadata filter as key=value (repeatable, conjunctive)")

	return cmd
}
