package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elevateai/elevate-go/internal/logging"
)

// NewStatsCmd constructs the `elevate stats` command, which prints store
// statistics as JSON.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print knowledge store statistics",
		Long: `Print statistics about the knowledge store: vector count, embedding
dimension, index type, and the metadata record population including
soft-deleted records.

Examples:
  elevate stats
  VECTOR_DB_PATH=./testdb elevate stats`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			store, _, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = store.Close() }()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(store.Stats()); err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			return nil
		},
	}
}
