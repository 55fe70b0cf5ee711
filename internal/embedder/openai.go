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

// OpenAIEmbedder implements knowledge.Embedder against the OpenAI (or any
// OpenAI-compatible) embeddings REST API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1").
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// model is the embedding model name (e.g. "text-embedding-3-small").
	model string
	// dimension is the vector length this backend produces, learned by the
	// construction-time probe.
	dimension int
	// client is the shared HTTP client; its timeout bounds each attempt.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. Defaults to "https://api.openai.com/v1".
	BaseURL string
	// APIKey is the authentication key. Required.
	APIKey string
	// Model is the embedding model name. Defaults to text-embedding-3-small.
	Model string
	// Timeout bounds each HTTP attempt. Defaults to 30s.
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
// The instance reports dimension 0 until the factory probes it.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Dimension returns the vector length this backend produces.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed converts a batch of texts into unit-normalized embeddings in one
// API call. The returned slice is parallel to the input. Transient failures
// are retried up to maxAttempts before the call fails with an
// EmbeddingError.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkTexts("openai", texts); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(openaiEmbedRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, &knowledge.EmbeddingError{Backend: "openai", Err: fmt.Errorf("marshal request: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		embeddings, retryable, err := e.embedOnce(ctx, payload, len(texts))
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
		// Linear backoff between attempts.
		select {
		case <-ctx.Done():
			return nil, &knowledge.EmbeddingError{Backend: "openai", Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return nil, &knowledge.EmbeddingError{Backend: "openai", Err: lastErr}
}

// embedOnce performs a single HTTP attempt. The second return value reports
// whether the failure is worth retrying.
func (e *OpenAIEmbedder) embedOnce(ctx context.Context, payload []byte, want int) ([][]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, true, fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("%s", msg)
	}

	if len(result.Data) != want {
		return nil, false, fmt.Errorf("expected %d embeddings, got %d", want, len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, want)
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, false, fmt.Errorf("index %d out of range [0, %d)", d.Index, want)
		}
		normalize(d.Embedding)
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, false, nil
}
