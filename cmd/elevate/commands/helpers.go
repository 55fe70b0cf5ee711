package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/elevateai/elevate-go/internal/embedder"
	"github.com/elevateai/elevate-go/internal/journal"
	"github.com/elevateai/elevate-go/internal/knowledge"
)

// getEnvOrDefault returns the value of the environment variable key, or def
// when it is unset or empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the integer value of the environment variable key, or def
// when it is unset or not a valid integer.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getEnvFloat returns the float value of the environment variable key, or def
// when it is unset or not a valid number.
func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// defaultStorePath returns the default on-disk store directory (~/.elevate/db).
func defaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("commands: could not resolve home directory: %w", err)
	}
	return filepath.Join(home, ".elevate", "db"), nil
}

// openStore initialises the embedding backend from the environment and opens
// the knowledge store at VECTOR_DB_PATH (default ~/.elevate/db).
func openStore(ctx context.Context, log *slog.Logger) (*knowledge.Store, knowledge.Embedder, error) {
	emb, err := embedder.New(ctx, log)
	if err != nil {
		return nil, nil, fmt.Errorf("commands: failed to initialise embedder: %w", err)
	}

	path := os.Getenv("VECTOR_DB_PATH")
	if path == "" {
		path, err = defaultStorePath()
		if err != nil {
			return nil, nil, err
		}
	}

	store, err := knowledge.Open(&knowledge.Config{
		Path:             path,
		BatchSize:        getEnvInt("STORE_BATCH_SIZE", 0),
		Workers:          getEnvInt("STORE_WORKERS", 0),
		DefaultK:         getEnvInt("SEARCH_DEFAULT_K", 0),
		DefaultThreshold: getEnvFloat("SEARCH_DEFAULT_THRESHOLD", 0),
		PreviewChars:     getEnvInt("STORE_PREVIEW_CHARS", 0),
		Logger:           log,
	}, emb)
	if err != nil {
		return nil, nil, fmt.Errorf("commands: failed to open store: %w", err)
	}
	return store, emb, nil
}

// openJournal opens the ingestion journal. ELEVATE_JOURNAL_DB overrides the
// default path (~/.elevate/journal.db); set it to "disabled" to turn the
// journal off. Journal failures are non-fatal — a nil store is returned and
// the caller proceeds without batch history.
func openJournal(log *slog.Logger) (*journal.Store, func()) {
	dbPath := os.Getenv("ELEVATE_JOURNAL_DB")
	if dbPath == "disabled" {
		log.Info("journal: disabled via ELEVATE_JOURNAL_DB=disabled")
		return nil, func() {}
	}
	if dbPath == "" {
		p, err := journal.DefaultDBPath()
		if err != nil {
			log.Warn("journal: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, func() {}
		}
		dbPath = p
	}
	jr, err := journal.Open(dbPath)
	if err != nil {
		log.Warn("journal: failed to open, disabling", slog.Any("error", err))
		return nil, func() {}
	}
	log.Info("journal: opened", slog.String("path", dbPath))
	return jr, func() { _ = jr.Close() }
}

// parseFilters converts repeated key=value flags into a metadata filter map.
// Values that parse as numbers are compared numerically; everything else is
// an exact string match.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("commands: invalid filter %q, expected key=value", p)
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			filters[key] = f
		} else {
			filters[key] = val
		}
	}
	return filters, nil
}
