package server

import (
	"context"
	"fmt"

	"github.com/elevateai/elevate-go/internal/knowledge"
)

// EmbedderPinger probes the embedding backend by sending a minimal one-text
// embed request. It satisfies the Pinger interface and is used by
// GET /api/ready to report whether new content can currently be ingested.
type EmbedderPinger struct {
	// embedder is the backend the knowledge store was constructed with.
	embedder knowledge.Embedder
	// name identifies the backend in readiness responses (e.g. "openai").
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given backend.
func NewEmbedderPinger(e knowledge.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping sends a one-text embedding request to the backend.
// Returns nil if the backend is reachable, or a descriptive error otherwise.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vecs, err := p.embedder.Embed(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embed probe failed: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embed probe returned %d vectors", len(vecs))
	}
	return nil
}
