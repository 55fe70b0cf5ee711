// Package embedder provides the embedding backends for the knowledge store:
// an OpenAI-compatible remote API and a local Ollama server, both speaking
// plain HTTP with no SDK dependency. The backend is selected once at
// construction (see [New]) and never changes for the life of the instance,
// so the reported dimension is stable and can size the vector index.
//
// Both backends unit-normalize every vector they return, so the store's
// inner-product search is cosine similarity regardless of which backend
// produced a given vector.
package embedder

import (
	"context"
	"fmt"
	"math"

	"github.com/elevateai/elevate-go/internal/knowledge"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
)

// maxAttempts is the per-call retry budget for transient backend failures
// (network errors, HTTP 429/5xx). Non-transient failures are returned
// immediately.
const maxAttempts = 3

// normalize scales v to unit length in place. A zero vector is left
// untouched rather than divided by zero.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// checkTexts rejects batches the backends cannot embed: an empty batch or
// any empty text. This runs before any network call.
func checkTexts(backend string, texts []string) error {
	if len(texts) == 0 {
		return &knowledge.EmbeddingError{Backend: backend, Err: fmt.Errorf("no texts to embed")}
	}
	for i, t := range texts {
		if t == "" {
			return &knowledge.EmbeddingError{Backend: backend, Err: fmt.Errorf("text at position %d is empty", i)}
		}
	}
	return nil
}

// probe makes a one-text embedding call and returns the resulting vector
// length. Used at construction both as a reachability check and to learn
// the backend's true dimension instead of trusting a configured value.
func probe(ctx context.Context, e knowledge.Embedder) (int, error) {
	vecs, err := e.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("embedder: probe returned no vector")
	}
	return len(vecs[0]), nil
}
