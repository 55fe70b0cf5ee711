// Package vectorindex implements the append-only flat inner-product index
// that backs the knowledge store. Vectors are stored in a single contiguous
// arena addressed by position, so a vector's id is exactly its slot number
// and ids are monotonically increasing with no gaps.
//
// The index never updates or removes a vector in place. Logical deletion is
// handled one level up by the metadata store's tombstone bit; reclaiming
// space requires an explicit rebuild into a fresh index.
//
// The type is not safe for concurrent mutation — the owning store serializes
// writers behind its own lock.
package vectorindex

import (
	"container/heap"
	"fmt"
)

// Candidate is a single search hit: a vector id and its inner-product score
// against the query. For unit-normalized vectors the score equals cosine
// similarity.
type Candidate struct {
	// ID is the vector's slot number in the arena.
	ID uint64
	// Score is the inner product of the stored vector and the query.
	Score float32
}

// Flat is an exact (brute-force) inner-product index over a fixed-dimension
// vector arena.
type Flat struct {
	// dimension is the fixed vector dimensionality, set at construction.
	dimension int
	// data holds all vectors back to back; vector i occupies
	// data[i*dimension : (i+1)*dimension].
	data []float32
}

// New constructs an empty Flat index for vectors of the given dimension.
func New(dimension int) (*Flat, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: dimension must be positive, got %d", dimension)
	}
	return &Flat{dimension: dimension}, nil
}

// Dimension returns the fixed vector dimensionality of this index.
func (f *Flat) Dimension() int { return f.dimension }

// Size returns the number of vectors currently stored.
func (f *Flat) Size() int { return len(f.data) / f.dimension }

// Append adds vectors to the end of the arena and returns their assigned ids.
// The returned ids are exactly [oldSize, oldSize+len(vectors)) in order.
// A dimension mismatch on any input vector fails the whole call before any
// vector is written.
func (f *Flat) Append(vectors [][]float32) ([]uint64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("vectorindex: no vectors to append")
	}
	for i, v := range vectors {
		if len(v) != f.dimension {
			return nil, fmt.Errorf("vectorindex: vector %d has dimension %d, index requires %d", i, len(v), f.dimension)
		}
	}

	start := uint64(f.Size())
	ids := make([]uint64, len(vectors))
	for i, v := range vectors {
		f.data = append(f.data, v...)
		ids[i] = start + uint64(i)
	}
	return ids, nil
}

// Vector returns a copy of the stored vector for id, or false if id is out
// of range. Used by the rebuild path to carry live vectors into a new index.
func (f *Flat) Vector(id uint64) ([]float32, bool) {
	if id >= uint64(f.Size()) {
		return nil, false
	}
	out := make([]float32, f.dimension)
	copy(out, f.data[int(id)*f.dimension:])
	return out, true
}

// Search returns up to k candidates ordered by descending score. Equal
// scores are broken by lower id so results are deterministic across runs
// and across save/load round trips.
func (f *Flat) Search(query []float32, k int) ([]Candidate, error) {
	if len(query) != f.dimension {
		return nil, fmt.Errorf("vectorindex: query has dimension %d, index requires %d", len(query), f.dimension)
	}
	if k <= 0 {
		return nil, fmt.Errorf("vectorindex: k must be positive, got %d", k)
	}

	size := f.Size()
	if size == 0 {
		return nil, nil
	}
	if k > size {
		k = size
	}

	// Bounded min-heap keyed by (score asc, id desc): the root is always the
	// weakest candidate seen so far, so a full scan costs O(n log k).
	h := &candidateHeap{}
	heap.Init(h)
	for id := 0; id < size; id++ {
		score := dot(f.data[id*f.dimension:(id+1)*f.dimension], query)
		c := Candidate{ID: uint64(id), Score: score}
		if h.Len() < k {
			heap.Push(h, c)
			continue
		}
		if worse((*h)[0], c) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}

	// Pop order is weakest-first; filling the slice back to front yields
	// (score desc, id asc).
	out := make([]Candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Candidate)
	}
	return out, nil
}

// dot computes the inner product of two equal-length vectors.
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// worse reports whether candidate a ranks below candidate b, i.e. a has a
// lower score, or an equal score with a higher id.
func worse(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// candidateHeap is a min-heap of candidates ordered weakest-first.
type candidateHeap []Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
