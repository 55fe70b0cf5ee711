package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/elevateai/elevate-go/internal/journal"
	"github.com/elevateai/elevate-go/internal/knowledge"
	"github.com/elevateai/elevate-go/internal/metadata"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Ingestion of a large batch can take a while, so the default is generous.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives all Prometheus metric registrations. Defaults
	// to prometheus.DefaultRegisterer. Tests inject a fresh registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Server exposes the knowledge store over a REST API.
type Server struct {
	// store is the knowledge store all handlers operate on.
	store *knowledge.Store
	// journal records ingestion batch outcomes; nil disables journaling.
	journal *journal.Store
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds all Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the natural language search query.
	Query string `json:"query"`
	// K is the maximum number of results. Zero means the store default.
	K int `json:"k,omitempty"`
	// Threshold is the minimum similarity score. Absent means the store
	// default; an explicit 0 disables the cutoff.
	Threshold *float64 `json:"threshold,omitempty"`
	// Filters is an exact-match metadata filter conjunction.
	Filters map[string]any `json:"filters,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Results is the ranked result list; empty when nothing matched.
	Results []knowledge.Result `json:"results"`
	// Count is len(Results), duplicated for client convenience.
	Count int `json:"count"`
}

// ingestItem is one item in an ingestion request.
type ingestItem struct {
	// Text is the content to embed and store.
	Text string `json:"text"`
	// Metadata is the structured metadata stored alongside the vector.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Items is the batch to ingest. The whole batch commits or none of it.
	Items []ingestItem `json:"items"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	// IDs are the assigned vector ids in item order.
	IDs []uint64 `json:"ids"`
	// Count is len(IDs), duplicated for client convenience.
	Count int `json:"count"`
}

// recordsResponse is the JSON response for GET /api/records.
type recordsResponse struct {
	// Records are the matching non-deleted records, ordered by ascending id.
	Records []*metadata.Record `json:"records"`
	// Count is len(Records), duplicated for client convenience.
	Count int `json:"count"`
}

// updateRecordRequest is the JSON body for PATCH /api/records/{id}.
type updateRecordRequest struct {
	// Metadata is the patch to apply to the record's metadata.
	Metadata map[string]any `json:"metadata"`
}

// errorResponse is the JSON body for all error statuses.
type errorResponse struct {
	// Error is the human-readable failure description.
	Error string `json:"error"`
}
