package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/elevateai/elevate-go/internal/knowledge"
)

// probeTimeout bounds the construction-time reachability probe. Kept short
// for the remote backend so a missing network fails over to the local model
// quickly; the local probe gets longer because Ollama may need to load the
// model into memory first.
const (
	remoteProbeTimeout = 15 * time.Second
	localProbeTimeout  = 2 * time.Minute
)

// New selects and constructs the embedding backend from the environment,
// online-first with local fallback:
//
//  1. EMBEDDING_PROVIDER=openai|ollama forces a backend; openai with no
//     API key is a hard error.
//  2. Otherwise the OpenAI backend is used when EMBEDDING_API_KEY or
//     OPENAI_API_KEY is set and the construction-time probe succeeds;
//     a probe failure logs a warning and falls back to Ollama.
//  3. With no credentials at all, Ollama is used directly.
//
// Every construction probes the chosen backend with a one-text embedding
// call: it verifies reachability and fixes the instance's dimension for
// its whole lifetime. When no backend is reachable New fails with an
// EmbeddingError — the store cannot run without one.
//
// Further environment knobs: EMBEDDING_MODEL, EMBEDDING_ENDPOINT (OpenAI
// base URL), OLLAMA_HOST.
func New(ctx context.Context, log *slog.Logger) (knowledge.Embedder, error) {
	provider := os.Getenv("EMBEDDING_PROVIDER")
	model := os.Getenv("EMBEDDING_MODEL")
	apiKey := os.Getenv("EMBEDDING_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model — "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	switch provider {
	case "", "auto", "openai":
		if apiKey == "" {
			if provider == "openai" {
				return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
			}
			break // no credentials — go straight to the local backend
		}
		remote := NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL: os.Getenv("EMBEDDING_ENDPOINT"),
			APIKey:  apiKey,
			Model:   model,
		})
		probeCtx, cancel := context.WithTimeout(ctx, remoteProbeTimeout)
		dim, err := probe(probeCtx, remote)
		cancel()
		if err == nil {
			remote.dimension = dim
			log.Info("embedder: using openai backend",
				slog.String("model", remote.model),
				slog.Int("dimension", dim),
			)
			return remote, nil
		}
		log.Warn("embedder: openai backend unreachable, falling back to local model",
			slog.String("error", err.Error()),
		)

	case "ollama":
		// Explicit local selection — skip the remote path entirely.

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q — valid values: openai, ollama", provider)
	}

	local := NewOllamaEmbedder(&OllamaConfig{
		Host:  os.Getenv("OLLAMA_HOST"),
		Model: model,
	})
	probeCtx, cancel := context.WithTimeout(ctx, localProbeTimeout)
	dim, err := probe(probeCtx, local)
	cancel()
	if err != nil {
		return nil, &knowledge.EmbeddingError{Backend: "none",
			Err: fmt.Errorf("no embedding backend available: %w", err)}
	}
	local.dimension = dim
	log.Info("embedder: using ollama backend",
		slog.String("host", local.host),
		slog.String("model", local.model),
		slog.Int("dimension", dim),
	)
	return local, nil
}
