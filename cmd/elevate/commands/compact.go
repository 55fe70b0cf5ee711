package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/elevateai/elevate-go/internal/logging"
)

// NewCompactCmd constructs the `elevate compact` command, which rebuilds the
// index to reclaim space held by soft-deleted records.
func NewCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rebuild the index, dropping soft-deleted records",
		Long: `Rebuild the vector index and metadata store, permanently removing
soft-deleted records and reassigning ids to a gap-free sequence.

Compaction invalidates previously returned record ids. It never runs
automatically — this command is the only way to reclaim tombstone space.

Examples:
  elevate compact`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			store, _, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			defer func() { _ = store.Close() }()

			dropped, err := store.Rebuild()
			if err != nil {
				return fmt.Errorf("compact: %w", err)
			}

			log.Info("compaction complete",
				slog.Int("dropped", dropped),
				slog.Int("remaining", store.Size()),
			)
			fmt.Printf("Dropped %d deleted record(s); %d remain\n", dropped, store.Size())
			return nil
		},
	}
}
