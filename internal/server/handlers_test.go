package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/elevateai/elevate-go/internal/journal"
	"github.com/elevateai/elevate-go/internal/knowledge"
)

// stubEmbedder returns a fixed vector per known text and a default axis
// vector otherwise, so handler tests are fully deterministic.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (e *stubEmbedder) Dimension() int { return 4 }

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{0, 0, 0, 1}
	}
	return out, nil
}

// newTestServer builds a Server over a fresh store and isolated metrics
// registry. Handlers are exercised through the full mux so routing, auth,
// and instrumentation run exactly as in production.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	emb := &stubEmbedder{vectors: map[string][]float32{
		"alpha doc": {1, 0, 0, 0},
		"beta doc":  {0.9, 0.1, 0, 0},
		"gamma doc": {0, 1, 0, 0},
		"alpha":     {1, 0, 0, 0},
	}}
	store, err := knowledge.Open(&knowledge.Config{Path: t.TempDir()}, emb)
	if err != nil {
		t.Fatalf("knowledge.Open: %v", err)
	}
	jr, err := journal.Open(":memory:")
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { jr.Close() })

	reg := prometheus.NewRegistry()
	s, err := New(store, jr, &Config{
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		RateLimit:       1000,
		RateBurst:       1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

// do sends a request through the server's full handler chain.
func do(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

// ingestDocs loads the three stub documents through the API.
func ingestDocs(t *testing.T, s *Server) []uint64 {
	t.Helper()
	w := do(s, http.MethodPost, "/api/ingest", ingestRequest{Items: []ingestItem{
		{Text: "alpha doc", Metadata: map[string]any{"content_type": "document", "lang": "en"}},
		{Text: "beta doc", Metadata: map[string]any{"content_type": "document", "lang": "de"}},
		{Text: "gamma doc", Metadata: map[string]any{"content_type": "audio", "lang": "en"}},
	}})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest: expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode ingest response: %v", err)
	}
	return resp.IDs
}

func TestHandleIngest(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	ids := ingestDocs(t, s)
	if len(ids) != 3 || ids[0] != 0 || ids[2] != 2 {
		t.Errorf("ingest ids = %v, want [0 1 2]", ids)
	}

	// Journal recorded the batch.
	entries, err := s.journal.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("journal.Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Items != 3 || entries[0].Status != journal.StatusOK {
		t.Errorf("journal entries = %+v, want one ok batch of 3", entries)
	}
}

func TestHandleIngest_Validation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	if w := do(s, http.MethodPost, "/api/ingest", ingestRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty items: expected 400, got %d", w.Code)
	}
	// Blank text fails store validation and is the client's fault.
	w := do(s, http.MethodPost, "/api/ingest", ingestRequest{Items: []ingestItem{{Text: "  "}}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank text: expected 400, got %d — body: %s", w.Code, w.Body.String())
	}
}

func TestHandleSearch(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ingestDocs(t, s)

	w := do(s, http.MethodPost, "/api/search", searchRequest{Query: "alpha", K: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	var resp searchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Default threshold 0.7 keeps alpha and beta, drops the orthogonal gamma.
	if resp.Count != 2 || len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", resp.Count, resp.Results)
	}
	if resp.Results[0].ID != 0 || resp.Results[0].Rank != 1 {
		t.Errorf("top result = %+v, want id 0 rank 1", resp.Results[0])
	}
}

func TestHandleSearch_ExplicitThresholdAndFilters(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ingestDocs(t, s)

	zero := 0.0
	w := do(s, http.MethodPost, "/api/search", searchRequest{
		Query:     "alpha",
		K:         10,
		Threshold: &zero,
		Filters:   map[string]any{"lang": "en"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp searchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Threshold 0 admits everything; the filter keeps only the two "en" docs.
	if resp.Count != 2 {
		t.Fatalf("got %d results, want 2: %+v", resp.Count, resp.Results)
	}
	for _, r := range resp.Results {
		if r.Metadata.Extra["lang"] != "en" {
			t.Errorf("filter leaked: %+v", r.Metadata)
		}
	}
}

func TestHandleSearch_EmptyQuery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := do(s, http.MethodPost, "/api/search", searchRequest{Query: ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty query, got %d", w.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == "" {
		t.Error("expected non-empty error message")
	}
}

func TestHandleSearch_EmptyStoreReturnsEmptyList(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := do(s, http.MethodPost, "/api/search", searchRequest{Query: "anything"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp searchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Results == nil || resp.Count != 0 {
		t.Errorf("expected empty results array, got %+v", resp)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ingestDocs(t, s)

	w := do(s, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats knowledge.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalVectors != 3 || stats.EmbeddingDimension != 4 || stats.IndexType != "flat" {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Metadata.Active != 3 {
		t.Errorf("metadata stats = %+v", stats.Metadata)
	}
}

func TestHandleRecordGet(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ingestDocs(t, s)

	w := do(s, http.MethodGet, "/api/records/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if w := do(s, http.MethodGet, "/api/records/99", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing record: expected 404, got %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/records/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("malformed id: expected 400, got %d", w.Code)
	}
}

func TestHandleRecordUpdate(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ingestDocs(t, s)

	w := do(s, http.MethodPatch, "/api/records/1", updateRecordRequest{
		Metadata: map[string]any{"source": "updated.md", "reviewed": true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	rec, ok := s.store.Metadata(1)
	if !ok || rec.Source != "updated.md" || rec.Extra["reviewed"] != true {
		t.Errorf("record after update = %+v", rec)
	}

	if w := do(s, http.MethodPatch, "/api/records/1", updateRecordRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty patch: expected 400, got %d", w.Code)
	}
	w = do(s, http.MethodPatch, "/api/records/99", updateRecordRequest{
		Metadata: map[string]any{"source": "x"},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing record: expected 404, got %d", w.Code)
	}
}

func TestHandleRecordDelete(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ingestDocs(t, s)

	if w := do(s, http.MethodDelete, "/api/records/0", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	// Deleted record drops out of search but stays readable with the flag set.
	w := do(s, http.MethodPost, "/api/search", searchRequest{Query: "alpha", K: 10})
	var resp searchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, r := range resp.Results {
		if r.ID == 0 {
			t.Error("deleted record still appears in search")
		}
	}
	w = do(s, http.MethodGet, "/api/records/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("record get after delete: expected 200, got %d", w.Code)
	}

	// Second delete is a 404.
	if w := do(s, http.MethodDelete, "/api/records/0", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestHandleRecordList(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ingestDocs(t, s)

	// No filters: every non-deleted record, ascending id.
	w := do(s, http.MethodGet, "/api/records", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp recordsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 || len(resp.Records) != 3 {
		t.Fatalf("count = %d (%d records), want 3", resp.Count, len(resp.Records))
	}
	for i, rec := range resp.Records {
		if rec.VectorID != uint64(i) {
			t.Errorf("record %d has id %d, want ascending ids", i, rec.VectorID)
		}
	}

	// Query params filter conjunctively.
	w = do(s, http.MethodGet, "/api/records?content_type=document&lang=en", nil)
	resp = recordsResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode filtered: %v", err)
	}
	if resp.Count != 1 || resp.Records[0].VectorID != 0 {
		t.Errorf("filtered list = %+v, want only record 0", resp.Records)
	}

	// Deleted records drop out of the listing.
	if w := do(s, http.MethodDelete, "/api/records/0", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	w = do(s, http.MethodGet, "/api/records", nil)
	resp = recordsResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode after delete: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count after delete = %d, want 2", resp.Count)
	}
}

func TestHandleRecordList_EmptyStoreReturnsEmptyList(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := do(s, http.MethodGet, "/api/records", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); strings.Contains(body, `"records":null`) {
		t.Errorf("records should be an empty array, got %s", body)
	}
}

func TestHandleIngest_SaveFailureJournalsCommittedCount(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ingestDocs(t, s)

	// Break the next snapshot save: the index file becomes a directory, so
	// the atomic rename over it must fail after the batch is in memory.
	idxPath := filepath.Join(s.store.Path(), "index.bin")
	if err := os.Remove(idxPath); err != nil {
		t.Fatalf("remove index snapshot: %v", err)
	}
	if err := os.Mkdir(idxPath, 0o755); err != nil {
		t.Fatalf("mkdir over index snapshot: %v", err)
	}

	w := do(s, http.MethodPost, "/api/ingest", ingestRequest{Items: []ingestItem{
		{Text: "delta doc"},
		{Text: "epsilon doc"},
	}})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d — body: %s", w.Code, w.Body.String())
	}

	// The journal must report how many items the batch committed in memory,
	// not zero: the vectors are present and survive a later successful save.
	entries, err := s.journal.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("journal.Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("journal has %d entries, want 2", len(entries))
	}
	failed := entries[0]
	if failed.Status != journal.StatusFailed {
		t.Errorf("newest entry status = %q, want failed", failed.Status)
	}
	if failed.Items != 2 {
		t.Errorf("failed entry items = %d, want 2", failed.Items)
	}
	if failed.Error == "" {
		t.Error("failed entry has no error text")
	}
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := do(s, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected ok, got %q", body["status"])
	}
}

func TestAuthEnforcedOnAPIRoutes(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{}
	store, err := knowledge.Open(&knowledge.Config{Path: t.TempDir()}, emb)
	if err != nil {
		t.Fatalf("knowledge.Open: %v", err)
	}
	reg := prometheus.NewRegistry()
	s, err := New(store, nil, &Config{
		APIKey:          "secret",
		MetricsRegistry: reg,
		MetricsGatherer: reg,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)

	// Protected route without a token.
	if w := do(s, http.MethodGet, "/api/stats", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}

	// Health stays open for liveness probes.
	if w := do(s, http.MethodGet, "/api/health", nil); w.Code != http.StatusOK {
		t.Errorf("health with auth enabled: expected 200, got %d", w.Code)
	}

	// Correct token passes.
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", w.Code)
	}
}
