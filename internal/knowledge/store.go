package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elevateai/elevate-go/internal/metadata"
	"github.com/elevateai/elevate-go/internal/vectorindex"
)

// Snapshot file names inside the store directory. db_info.json is written
// last on every save and read first on every load: it is the commit marker
// that makes a snapshot valid. A crash before it is written leaves the
// previous snapshot intact.
const (
	indexFile    = "index.bin"
	metadataFile = "metadata.json"
	infoFile     = "db_info.json"
)

// overFetchFactor is how many extra candidates per requested result the
// index is asked for, so that post-filtering by tombstones, threshold, and
// metadata filters can still fill k slots when enough survivors exist.
const overFetchFactor = 4

// Config holds the knowledge store settings. All fields except Path are
// optional and default to the values noted on each field.
type Config struct {
	// Path is the store directory. Created if missing.
	Path string
	// BatchSize is the maximum sub-batch size sent per embedding call
	// (default 32).
	BatchSize int
	// Workers bounds the number of concurrent embedding calls during
	// ingestion (default 4).
	Workers int
	// DefaultK is the result count used when a search passes k <= 0
	// (default 10).
	DefaultK int
	// DefaultThreshold is the similarity cutoff suggested to callers that
	// have no explicit threshold (default 0.7). Search itself always takes
	// an explicit threshold.
	DefaultThreshold float64
	// PreviewChars is the maximum length of the stored text preview
	// (default 500).
	PreviewChars int
	// Logger is the structured logger. Defaults to slog.Default.
	Logger *slog.Logger
}

// dbInfo is the content of db_info.json.
type dbInfo struct {
	EmbeddingDim int       `json:"embedding_dim"`
	TotalVectors int       `json:"total_vectors"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the process-wide knowledge store instance. Construct one at
// startup with Open, call Save (or Close) on graceful shutdown; Add saves
// after every successful batch on its own.
//
// All methods are safe for concurrent use. Mutations of the index and the
// metadata store happen under one shared write lock so the two sides always
// move together; searches take the read lock.
type Store struct {
	mu sync.RWMutex

	embedder  Embedder
	index     *vectorindex.Flat
	meta      *metadata.Store
	cfg       *Config
	createdAt time.Time
	log       *slog.Logger
}

// Open constructs a Store at cfg.Path, loading the previous snapshot when
// one exists. The absence of db_info.json means an empty store; a snapshot
// whose dimension or counts disagree with each other or with the embedder
// is rejected as corruption.
func Open(cfg *Config, emb Embedder) (*Store, error) {
	if emb == nil {
		return nil, fmt.Errorf("knowledge: embedder must not be nil")
	}
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("knowledge: store path must not be empty")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 10
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = 0.7
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, &PersistenceError{Op: "open", Path: cfg.Path, Err: err}
	}

	s := &Store{
		embedder:  emb,
		meta:      metadata.NewStore(),
		cfg:       cfg,
		createdAt: time.Now().UTC(),
		log:       cfg.Logger,
	}

	infoPath := filepath.Join(cfg.Path, infoFile)
	data, err := os.ReadFile(infoPath)
	if os.IsNotExist(err) {
		// Fresh store.
		idx, err := vectorindex.New(emb.Dimension())
		if err != nil {
			return nil, err
		}
		s.index = idx
		s.log.Info("knowledge: initialized empty store",
			slog.String("path", cfg.Path),
			slog.Int("dimension", emb.Dimension()),
		)
		return s, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: infoPath, Err: err}
	}

	var info dbInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &PersistenceError{Op: "load", Path: infoPath, Err: err}
	}
	if info.EmbeddingDim != emb.Dimension() {
		return nil, &PersistenceError{Op: "load", Path: cfg.Path,
			Err: fmt.Errorf("snapshot dimension %d does not match embedder dimension %d", info.EmbeddingDim, emb.Dimension())}
	}

	idx, err := vectorindex.LoadFromFile(filepath.Join(cfg.Path, indexFile))
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: cfg.Path, Err: err}
	}
	if idx.Dimension() != info.EmbeddingDim || idx.Size() != info.TotalVectors {
		return nil, &PersistenceError{Op: "load", Path: cfg.Path,
			Err: fmt.Errorf("index snapshot (%d vectors, dim %d) disagrees with db info (%d vectors, dim %d)",
				idx.Size(), idx.Dimension(), info.TotalVectors, info.EmbeddingDim)}
	}

	if err := s.meta.Load(filepath.Join(cfg.Path, metadataFile), idx.Size()); err != nil {
		return nil, &PersistenceError{Op: "load", Path: cfg.Path, Err: err}
	}

	s.index = idx
	if !info.CreatedAt.IsZero() {
		s.createdAt = info.CreatedAt
	}
	s.log.Info("knowledge: loaded store snapshot",
		slog.String("path", cfg.Path),
		slog.Int("vectors", idx.Size()),
		slog.Int("dimension", idx.Dimension()),
	)
	return s, nil
}

// DefaultThreshold returns the configured similarity cutoff for callers
// that take no explicit threshold.
func (s *Store) DefaultThreshold() float64 { return s.cfg.DefaultThreshold }

// Path returns the store directory.
func (s *Store) Path() string { return s.cfg.Path }

// Size returns the number of vectors in the index, tombstoned ones included.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Size()
}

// Add embeds texts and writes vector and metadata records for every item,
// returning the assigned ids in input order. texts and metas must be equal
// length and every text non-empty.
//
// Embedding runs on a bounded worker pool, one backend call per sub-batch,
// with results gathered by input position. Any sub-batch failure fails the
// whole call with nothing written — callers that want partial success must
// pre-filter and retry themselves. On success the snapshot is saved before
// Add returns.
func (s *Store) Add(ctx context.Context, texts []string, metas []map[string]any) ([]uint64, error) {
	if len(texts) == 0 {
		return nil, &ValidationError{Msg: "no texts to ingest"}
	}
	if len(metas) != len(texts) {
		return nil, &ValidationError{Msg: fmt.Sprintf("got %d texts but %d metadata entries", len(texts), len(metas))}
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, &ValidationError{Msg: fmt.Sprintf("text at position %d is empty", i)}
		}
	}

	start := time.Now()
	vectors, err := s.embedBatches(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if len(v) != s.embedder.Dimension() {
			return nil, &EmbeddingError{Backend: "embedder",
				Err: fmt.Errorf("vector %d has dimension %d, store requires %d", i, len(v), s.embedder.Dimension())}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.index.Append(vectors)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i, id := range ids {
		s.meta.Put(id, newRecord(texts[i], metas[i], s.cfg.PreviewChars, now))
	}

	if err := s.saveLocked(); err != nil {
		// The batch is committed in memory; report the ids together with
		// the persistence failure so the caller knows what was added.
		return ids, err
	}

	s.log.Info("knowledge: ingested batch",
		slog.Int("items", len(ids)),
		slog.Uint64("first_id", ids[0]),
		slog.Duration("duration", time.Since(start)),
	)
	return ids, nil
}

// embedBatches fans texts out to the embedding backend in sub-batches of
// cfg.BatchSize, at most cfg.Workers calls in flight. Results land in their
// original positions regardless of completion order. A failed sub-batch
// cancels the group; calls already dispatched run to completion and their
// results are discarded with everything else.
func (s *Store) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for lo := 0; lo < len(texts); lo += s.cfg.BatchSize {
		hi := min(lo+s.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := s.embedder.Embed(gctx, texts[lo:hi])
			if err != nil {
				return err
			}
			if len(vecs) != hi-lo {
				return &EmbeddingError{Backend: "embedder",
					Err: fmt.Errorf("sub-batch returned %d vectors for %d texts", len(vecs), hi-lo)}
			}
			copy(out[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// newRecord builds the metadata record for one ingested item. The reserved
// keys "source" and "content_type" populate the core fields; every other
// key is carried in Extra.
func newRecord(text string, meta map[string]any, previewChars int, now time.Time) *metadata.Record {
	rec := &metadata.Record{
		TextPreview: truncate(text, previewChars),
		CreatedAt:   now,
	}
	for k, v := range meta {
		switch k {
		case "source":
			if str, ok := v.(string); ok {
				rec.Source = str
			}
		case "content_type":
			if str, ok := v.(string); ok {
				rec.ContentType = str
			}
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			rec.Extra[k] = v
		}
	}
	return rec
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Search embeds the query, runs an over-fetched similarity search, and
// returns up to k ranked results after dropping tombstoned records, scores
// below threshold, and records failing the exact-match filter conjunction.
// An empty result is valid and means no matches — a failed search always
// returns a non-nil error instead.
func (s *Store) Search(ctx context.Context, query string, k int, threshold float64, filters map[string]any) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Msg: "empty search query"}
	}
	if k <= 0 {
		k = s.cfg.DefaultK
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, &EmbeddingError{Backend: "embedder",
			Err: fmt.Errorf("query embedding returned %d vectors", len(vecs))}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.index.Size()
	if size == 0 {
		return nil, nil
	}

	// Over-fetch so filtering can still fill k slots: a fixed factor for
	// threshold/filter losses plus one slot per tombstone.
	fetch := k*overFetchFactor + s.meta.Stats().Deleted
	if fetch > size {
		fetch = size
	}

	candidates, err := s.index.Search(vecs[0], fetch)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	records := s.meta.GetMany(ids)

	results := make([]Result, 0, k)
	for _, c := range candidates {
		if float64(c.Score) < threshold {
			continue
		}
		rec, ok := records[c.ID]
		if !ok || rec.Deleted {
			continue
		}
		if !rec.Matches(filters) {
			continue
		}
		results = append(results, Result{
			ID:       c.ID,
			Score:    c.Score,
			Text:     rec.TextPreview,
			Metadata: rec,
			Rank:     len(results) + 1,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Metadata returns a copy of the metadata record for id, deleted or not.
func (s *Store) Metadata(id uint64) (*metadata.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Get(id)
}

// SearchMetadata returns all non-deleted records matching every filter key
// exactly, without touching the vector index.
func (s *Store) SearchMetadata(filters map[string]any) []*metadata.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Search(filters)
}

// UpdateMetadata applies patch to the record for id and persists the
// snapshot. Returns false when the record does not exist or is deleted.
func (s *Store) UpdateMetadata(id uint64, patch map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.meta.Update(id, patch) {
		return false, nil
	}
	return true, s.saveLocked()
}

// SoftDelete tombstones the record for id and persists the snapshot. The
// vector stays in the index; only search visibility changes. Returns false
// when the record does not exist or was already deleted.
func (s *Store) SoftDelete(id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.meta.SoftDelete(id) {
		return false, nil
	}
	return true, s.saveLocked()
}

// Rebuild compacts the store: it constructs a fresh index holding only the
// non-deleted vectors with remapped gap-free ids, rewrites the metadata to
// match, and saves. Returns the number of tombstoned records dropped.
// Rebuild never runs automatically — it is an explicit maintenance
// operation exposed by the CLI.
func (s *Store) Rebuild() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.index.Size()
	newIndex, err := vectorindex.New(s.index.Dimension())
	if err != nil {
		return 0, err
	}
	newMeta := metadata.NewStore()

	var (
		vectors [][]float32
		keep    []*metadata.Record
		dropped int
	)
	for id := uint64(0); id < uint64(size); id++ {
		rec, ok := s.meta.Get(id)
		if !ok || rec.Deleted {
			dropped++
			continue
		}
		vec, ok := s.index.Vector(id)
		if !ok {
			return 0, &PersistenceError{Op: "rebuild", Path: s.cfg.Path,
				Err: fmt.Errorf("vector %d missing from index", id)}
		}
		vectors = append(vectors, vec)
		keep = append(keep, rec)
	}

	if len(vectors) > 0 {
		ids, err := newIndex.Append(vectors)
		if err != nil {
			return 0, err
		}
		for i, id := range ids {
			newMeta.Put(id, keep[i])
		}
	}

	s.index = newIndex
	s.meta = newMeta
	if err := s.saveLocked(); err != nil {
		return dropped, err
	}

	s.log.Info("knowledge: rebuilt store",
		slog.Int("kept", len(vectors)),
		slog.Int("dropped", dropped),
	)
	return dropped, nil
}

// Stats describes the store for operators and the stats API.
type Stats struct {
	// TotalVectors is the index size, tombstoned vectors included.
	TotalVectors int `json:"total_vectors"`
	// EmbeddingDimension is the fixed vector dimensionality.
	EmbeddingDimension int `json:"embedding_dimension"`
	// IndexType names the index implementation.
	IndexType string `json:"index_type"`
	// DatabasePath is the on-disk store directory.
	DatabasePath string `json:"database_path"`
	// Metadata summarizes the record population.
	Metadata metadata.Stats `json:"metadata"`
}

// Stats returns a snapshot of the store's population and configuration.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		TotalVectors:       s.index.Size(),
		EmbeddingDimension: s.index.Dimension(),
		IndexType:          "flat",
		DatabasePath:       s.cfg.Path,
		Metadata:           s.meta.Stats(),
	}
}

// Save persists the current snapshot. Add, UpdateMetadata, SoftDelete, and
// Rebuild save on their own; Save exists for graceful shutdown.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Close saves the snapshot. The store has no other resources to release.
func (s *Store) Close() error { return s.Save() }

// saveLocked writes index.bin, then metadata.json, then db_info.json. The
// info file goes last: until it lands the snapshot is not considered
// committed, so a crash at any earlier point leaves the previous snapshot
// valid. Caller must hold mu.
func (s *Store) saveLocked() error {
	if err := s.index.SaveToFile(filepath.Join(s.cfg.Path, indexFile)); err != nil {
		return &PersistenceError{Op: "save", Path: s.cfg.Path, Err: err}
	}
	if err := s.meta.Save(filepath.Join(s.cfg.Path, metadataFile)); err != nil {
		return &PersistenceError{Op: "save", Path: s.cfg.Path, Err: err}
	}

	info := dbInfo{
		EmbeddingDim: s.index.Dimension(),
		TotalVectors: s.index.Size(),
		CreatedAt:    s.createdAt,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.cfg.Path, Err: err}
	}
	if err := writeFileAtomic(filepath.Join(s.cfg.Path, infoFile), data); err != nil {
		return &PersistenceError{Op: "save", Path: s.cfg.Path, Err: err}
	}
	return nil
}

// writeFileAtomic writes data to path via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".info-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
