package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/elevateai/elevate-go/internal/knowledge"
)

// OllamaEmbedder implements knowledge.Embedder using the Ollama /api/embed
// endpoint. It is the local fallback backend: no API key is required and
// inference runs on this machine. Safe for concurrent use.
type OllamaEmbedder struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// dimension is the vector length this backend produces, learned by the
	// construction-time probe.
	dimension int
	// client is the shared HTTP client; local inference can be slow on
	// first load, so the timeout is generous.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name. Defaults to nomic-embed-text.
	Model string
	// Timeout bounds each HTTP attempt. Defaults to 60s.
	Timeout time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
// The instance reports dimension 0 until the factory probes it.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		host:   cfg.Host,
		model:  cfg.Model,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Dimension returns the vector length this backend produces.
func (e *OllamaEmbedder) Dimension() int { return e.dimension }

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from /api/embed.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed converts a batch of texts into unit-normalized embeddings in one
// API call. The returned slice is parallel to the input.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkTexts("ollama", texts); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, &knowledge.EmbeddingError{Backend: "ollama", Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, &knowledge.EmbeddingError{Backend: "ollama", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &knowledge.EmbeddingError{Backend: "ollama", Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &knowledge.EmbeddingError{Backend: "ollama", Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, &knowledge.EmbeddingError{Backend: "ollama", Err: fmt.Errorf("%s", msg)}
	}

	if len(result.Embeddings) != len(texts) {
		return nil, &knowledge.EmbeddingError{Backend: "ollama",
			Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))}
	}

	for _, v := range result.Embeddings {
		normalize(v)
	}
	return result.Embeddings, nil
}
