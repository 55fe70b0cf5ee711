// Package metadata implements the structured-record side of the knowledge
// store. Every vector in the index has exactly one metadata record keyed by
// the vector's id; the record carries the searchable fields, free-form extra
// attributes, and the tombstone bit that implements soft deletion.
//
// The store is not safe for concurrent use on its own — the owning knowledge
// store serializes access behind its lock, the same lock that guards the
// vector index, so the two sides can never diverge mid-write.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"time"
)

// Record is the metadata entry paired with one vector.
type Record struct {
	// VectorID is the id of the paired vector in the index.
	VectorID uint64 `json:"vector_id"`
	// Source is the origin of the ingested content (file path, URL, …).
	Source string `json:"source"`
	// ContentType classifies the content (document, audio, video, text).
	ContentType string `json:"content_type"`
	// TextPreview is a truncated copy of the ingested chunk text.
	TextPreview string `json:"text_preview"`
	// CreatedAt is when the record was first written.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is stamped on every update or soft delete; nil until then.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	// Deleted marks the record as logically removed. Deleted records are
	// excluded from search but stay in the store to keep id alignment.
	Deleted bool `json:"deleted"`
	// Extra holds free-form caller attributes (notebook_id, language, …).
	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of the record so callers can hand records across
// the store boundary without aliasing internal state.
func (r *Record) Clone() *Record {
	out := *r
	if r.UpdatedAt != nil {
		ts := *r.UpdatedAt
		out.UpdatedAt = &ts
	}
	if r.Extra != nil {
		out.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// field resolves a filter key against the record: the named core fields
// first, then the Extra map.
func (r *Record) field(key string) (any, bool) {
	switch key {
	case "vector_id":
		return r.VectorID, true
	case "source":
		return r.Source, true
	case "content_type":
		return r.ContentType, true
	}
	v, ok := r.Extra[key]
	return v, ok
}

// Stats summarizes the store's record population.
type Stats struct {
	// Total is the number of records including deleted ones.
	Total int `json:"total"`
	// Active is the number of non-deleted records.
	Active int `json:"active"`
	// Deleted is the number of tombstoned records.
	Deleted int `json:"deleted"`
	// TypeDistribution counts active records per content type.
	TypeDistribution map[string]int `json:"type_distribution"`
}

// Store holds all metadata records keyed by vector id.
type Store struct {
	records map[uint64]*Record
}

// NewStore constructs an empty metadata store.
func NewStore() *Store {
	return &Store{records: make(map[uint64]*Record)}
}

// Len returns the number of records, deleted ones included.
func (s *Store) Len() int { return len(s.records) }

// Put inserts the record for id, overwriting any existing entry. The
// record's VectorID is forced to id and CreatedAt defaults to now when the
// caller left it zero.
func (s *Store) Put(id uint64, rec *Record) {
	rec.VectorID = id
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records[id] = rec
}

// Get returns a copy of the record for id, deleted or not. The second
// return value is false when no record exists.
func (s *Store) Get(id uint64) (*Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// GetMany returns copies of all existing records for the given ids.
// Missing ids are silently absent from the result.
func (s *Store) GetMany(ids []uint64) map[uint64]*Record {
	out := make(map[uint64]*Record, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out[id] = rec.Clone()
		}
	}
	return out
}

// Update applies patch to the record for id and stamps UpdatedAt. Patch keys
// "source", "content_type", and "text_preview" address the core fields; all
// other keys land in Extra. Returns false when no record exists or the
// record is deleted.
func (s *Store) Update(id uint64, patch map[string]any) bool {
	rec, ok := s.records[id]
	if !ok || rec.Deleted {
		return false
	}
	for k, v := range patch {
		switch k {
		case "source":
			if str, ok := v.(string); ok {
				rec.Source = str
			}
		case "content_type":
			if str, ok := v.(string); ok {
				rec.ContentType = str
			}
		case "text_preview":
			if str, ok := v.(string); ok {
				rec.TextPreview = str
			}
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			rec.Extra[k] = v
		}
	}
	now := time.Now().UTC()
	rec.UpdatedAt = &now
	return true
}

// SoftDelete tombstones the record for id. The record stays in the store so
// id alignment with the vector index is preserved. Returns false when no
// record exists or it was already deleted.
func (s *Store) SoftDelete(id uint64) bool {
	rec, ok := s.records[id]
	if !ok || rec.Deleted {
		return false
	}
	rec.Deleted = true
	now := time.Now().UTC()
	rec.UpdatedAt = &now
	return true
}

// Search returns copies of all non-deleted records matching every filter
// key exactly (AND conjunction). Results are ordered by ascending id.
func (s *Store) Search(filters map[string]any) []*Record {
	out := make([]*Record, 0, s.Len())
	for _, rec := range s.records {
		if rec.Deleted {
			continue
		}
		if rec.Matches(filters) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VectorID < out[j].VectorID })
	return out
}

// Matches reports whether the record satisfies every filter key exactly.
// An empty filter set matches everything.
func (r *Record) Matches(filters map[string]any) bool {
	for k, want := range filters {
		got, ok := r.field(k)
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

// Stats computes the record population summary.
func (s *Store) Stats() Stats {
	st := Stats{TypeDistribution: make(map[string]int)}
	for _, rec := range s.records {
		st.Total++
		if rec.Deleted {
			st.Deleted++
			continue
		}
		st.Active++
		if rec.ContentType != "" {
			st.TypeDistribution[rec.ContentType]++
		}
	}
	return st
}

// Save writes all records to path as a JSON array sorted by id, via a temp
// file and rename so a crash mid-write never clobbers the previous snapshot.
func (s *Store) Save(path string) error {
	ids := make([]uint64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	recs := make([]*Record, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, s.records[id])
	}

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshal records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("metadata: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("metadata: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("metadata: sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metadata: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("metadata: rename into %s: %w", path, err)
	}
	return nil
}

// Load replaces the store's contents with the records read from path.
// indexSize is the size of the paired vector index: the file must contain
// exactly one record per id in [0, indexSize) — anything else means the two
// snapshots have diverged and the load is rejected as corruption.
func (s *Store) Load(path string, indexSize int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("metadata: read %s: %w", path, err)
	}

	var recs []*Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("metadata: parse %s: %w", path, err)
	}

	if len(recs) != indexSize {
		return fmt.Errorf("metadata: %s holds %d records but the index holds %d vectors", path, len(recs), indexSize)
	}

	records := make(map[uint64]*Record, len(recs))
	for _, rec := range recs {
		if rec.VectorID >= uint64(indexSize) {
			return fmt.Errorf("metadata: record id %d outside index range [0, %d)", rec.VectorID, indexSize)
		}
		if _, dup := records[rec.VectorID]; dup {
			return fmt.Errorf("metadata: duplicate record id %d", rec.VectorID)
		}
		records[rec.VectorID] = rec
	}

	s.records = records
	return nil
}

// valueEqual compares a stored field value against a filter value. Numeric
// values are compared as float64 so ints survive a JSON round trip; all
// other types must match exactly.
func valueEqual(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		wf, ok := toFloat(want)
		return ok && gf == wf
	}
	switch w := want.(type) {
	case string:
		g, ok := got.(string)
		return ok && g == w
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	}
	return reflect.DeepEqual(got, want)
}

// toFloat widens any numeric type to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
