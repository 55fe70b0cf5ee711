package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/elevateai/elevate-go/internal/logging"
	"github.com/elevateai/elevate-go/internal/server"
)

// NewServeCmd constructs the `elevate serve` command, which starts the HTTP
// API server backed by the on-disk knowledge store.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Elevate HTTP API server",
		Long: `Start the Elevate HTTP server on localhost.

The server exposes a REST API for ingestion, similarity search, record
management, and store statistics, plus /api/health, /api/ready, and
Prometheus /metrics endpoints.

Set ELEVATE_API_KEY to require Bearer authentication on data routes.

Examples:
  elevate serve
  elevate serve --port 9090
  EMBEDDING_PROVIDER=ollama elevate serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("EMBEDDING_PROVIDER")))

			store, emb, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("store opened",
				slog.String("path", store.Path()),
				slog.Int("vectors", store.Size()),
			)

			jr, closeJournal := openJournal(log)
			defer closeJournal()

			srv, err := server.New(store, jr, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   []server.Pinger{server.NewEmbedderPinger(emb, "embedder")},
				APIKey:    os.Getenv("ELEVATE_API_KEY"),
				RateLimit: getEnvFloat("SERVER_RATE_LIMIT", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("SERVER_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("SERVER_PORT", 8080), "TCP port to listen on")

	return cmd
}
