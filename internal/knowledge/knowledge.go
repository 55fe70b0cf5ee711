// Package knowledge implements the persistent semantic knowledge store:
// a flat vector index and a parallel metadata store kept in lockstep, fed by
// a batched embedding pipeline and queried through similarity search.
//
// The two sides share one invariant above all others: vector ids are a
// gap-free sequence from 0, and every id has exactly one metadata record.
// All structural mutations run behind a single write lock so the stores can
// never diverge mid-operation; searches take the read lock and may run
// concurrently with each other.
package knowledge

import (
	"context"

	"github.com/elevateai/elevate-go/internal/metadata"
)

// Embedder converts text into fixed-dimension unit-normalized vectors.
// Implementations must be safe for concurrent use: the ingestion pipeline
// calls Embed from multiple workers at once.
//
// The backend behind an Embedder is fixed for the instance's lifetime, so
// Dimension is stable and can be used to size the index at construction.
type Embedder interface {
	// Embed converts a batch of texts into their embeddings in one backend
	// call. The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the length of the vectors this embedder produces.
	Dimension() int
}

// Result is one ranked search hit.
type Result struct {
	// ID is the vector id of the matched record.
	ID uint64 `json:"id"`
	// Score is the cosine similarity between query and record.
	Score float32 `json:"score"`
	// Text is the stored text preview of the matched chunk.
	Text string `json:"text"`
	// Metadata is a copy of the full metadata record.
	Metadata *metadata.Record `json:"metadata"`
	// Rank is the 1-based position in the result list.
	Rank int `json:"rank"`
}
