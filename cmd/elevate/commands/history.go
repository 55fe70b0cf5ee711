package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elevateai/elevate-go/internal/journal"
	"github.com/elevateai/elevate-go/internal/logging"
)

// NewHistoryCmd constructs the `elevate history` command, which lists recent
// ingestion batches from the journal.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent ingestion batches",
		Long: `List recent ingestion batches recorded in the journal, newest first.

The journal lives at ELEVATE_JOURNAL_DB (default: ~/.elevate/journal.db).

Examples:
  elevate history
  elevate history -n 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			jr, closeJournal := openJournal(log)
			defer closeJournal()
			if jr == nil {
				return fmt.Errorf("history: journal is disabled or unavailable")
			}

			entries, err := jr.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No ingestion batches recorded.")
				return nil
			}

			for _, e := range entries {
				line := fmt.Sprintf("%s  %-6s  %4d items  %6dms  %s",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Status, e.Items, e.Duration.Milliseconds(), e.Source)
				if e.Status == journal.StatusFailed && e.Error != "" {
					line += "  (" + e.Error + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of batches to list")

	return cmd
}
