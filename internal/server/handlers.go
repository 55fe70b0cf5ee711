package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elevateai/elevate-go/internal/journal"
	"github.com/elevateai/elevate-go/internal/knowledge"
	"github.com/elevateai/elevate-go/internal/logging"
	"github.com/elevateai/elevate-go/internal/metadata"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a store error onto an HTTP status and JSON error body.
// Validation failures are the client's fault; embedding failures mean the
// backend dependency is down; everything else is a server error.
func writeError(w http.ResponseWriter, err error) {
	var verr *knowledge.ValidationError
	var eerr *knowledge.EmbeddingError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &eerr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// handleSearch handles POST /api/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	threshold := s.store.DefaultThreshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	start := time.Now()
	results, err := s.store.Search(r.Context(), req.Query, req.K, threshold, req.Filters)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.searchRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.searchDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []knowledge.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

// handleIngest handles POST /api/ingest. The whole batch commits or none of
// it; the outcome is recorded in the ingestion journal either way.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "items is required"})
		return
	}

	texts := make([]string, len(req.Items))
	metas := make([]map[string]any, len(req.Items))
	for i, item := range req.Items {
		texts[i] = item.Text
		metas[i] = item.Metadata
	}

	start := time.Now()
	ids, err := s.store.Add(r.Context(), texts, metas)
	s.recordBatch(r, len(ids), time.Since(start), err)

	if err != nil {
		s.metrics.ingestItemsTotal.WithLabelValues("failed").Add(float64(len(req.Items)))
		writeError(w, err)
		return
	}
	s.metrics.ingestItemsTotal.WithLabelValues("ok").Add(float64(len(ids)))
	writeJSON(w, http.StatusOK, ingestResponse{IDs: ids, Count: len(ids)})
}

// recordBatch writes one ingestion outcome to the journal, if enabled.
// items is the count actually committed — on a failed embed that is 0, but a
// batch that committed in memory and then failed to persist reports its real
// count so the journal matches what a later snapshot save will contain.
func (s *Server) recordBatch(r *http.Request, items int, dur time.Duration, ingestErr error) {
	if s.journal == nil {
		return
	}
	entry := journal.Entry{Source: "api", Items: items, Status: journal.StatusOK, Duration: dur}
	if ingestErr != nil {
		entry.Status = journal.StatusFailed
		entry.Error = ingestErr.Error()
	}
	if err := s.journal.Record(r.Context(), entry); err != nil {
		logging.FromContext(r.Context()).Warn("journal write failed", slog.Any("error", err))
	}
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// handleRecordList handles GET /api/records. Query parameters are treated as
// an exact-match metadata filter conjunction, so /api/records?source=web
// lists every non-deleted record from that source. Values that parse as
// numbers are compared numerically, matching the search filter semantics.
func (s *Server) handleRecordList(w http.ResponseWriter, r *http.Request) {
	var filters map[string]any
	if params := r.URL.Query(); len(params) > 0 {
		filters = make(map[string]any, len(params))
		for key, vals := range params {
			if f, err := strconv.ParseFloat(vals[0], 64); err == nil {
				filters[key] = f
				continue
			}
			filters[key] = vals[0]
		}
	}

	recs := s.store.SearchMetadata(filters)
	if recs == nil {
		recs = []*metadata.Record{}
	}
	writeJSON(w, http.StatusOK, recordsResponse{Records: recs, Count: len(recs)})
}

// recordID parses the {id} path value. The second return value is false when
// the id is malformed, in which case the 400 has already been written.
func recordID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid record id"})
		return 0, false
	}
	return id, true
}

// handleRecordGet handles GET /api/records/{id}. Tombstoned records are
// returned with their deleted flag set, not hidden.
func (s *Server) handleRecordGet(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, ok := s.store.Metadata(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRecordUpdate handles PATCH /api/records/{id}.
func (s *Server) handleRecordUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	var req updateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if len(req.Metadata) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "metadata is required"})
		return
	}

	updated, err := s.store.UpdateMetadata(id, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	if !updated {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "record not found or deleted"})
		return
	}
	rec, _ := s.store.Metadata(id)
	writeJSON(w, http.StatusOK, rec)
}

// handleRecordDelete handles DELETE /api/records/{id}. Deletion is logical:
// the record is tombstoned and disappears from search, but its vector slot
// is kept until an explicit compaction.
func (s *Server) handleRecordDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	deleted, err := s.store.SoftDelete(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "record not found or already deleted"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
