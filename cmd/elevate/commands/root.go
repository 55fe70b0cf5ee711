// Package commands defines all Cobra CLI commands for the elevate binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/elevateai/elevate-go/internal/audit"
	"github.com/elevateai/elevate-go/internal/config"
	"github.com/elevateai/elevate-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "elevate",
		Short: "Elevate — a persistent semantic knowledge store",
		Long: `Elevate is a local-first semantic knowledge store.

It embeds text through a remote OpenAI-compatible backend (with automatic
fallback to a local Ollama instance), persists vectors and metadata to disk,
and answers cosine-similarity queries with metadata filtering.

The embedding backend is selected via the EMBEDDING_PROVIDER environment
variable or a YAML config file (~/.elevate/config.yaml).
See 'elevate --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.elevate/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewSearchCmd(),
		NewRecordsCmd(),
		NewStatsCmd(),
		NewCompactCmd(),
		NewHistoryCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
