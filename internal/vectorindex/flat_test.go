package vectorindex

import (
	"math"
	"testing"
)

func TestNewRejectsBadDimension(t *testing.T) {
	t.Parallel()
	for _, dim := range []int{0, -1} {
		if _, err := New(dim); err == nil {
			t.Errorf("New(%d) succeeded, want error", dim)
		}
	}
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	t.Parallel()
	idx, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ids, err := idx.Append([][]float32{{1, 0, 0}, {0, 1, 0}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("first Append ids = %v, want [0 1]", ids)
	}

	ids, err = idx.Append([][]float32{{0, 0, 1}})
	if err != nil {
		t.Fatalf("second Append: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("second Append ids = %v, want [2]", ids)
	}
	if got := idx.Size(); got != 3 {
		t.Errorf("Size = %d, want 3", got)
	}
}

func TestAppendDimensionMismatchIsAtomic(t *testing.T) {
	t.Parallel()
	idx, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Second vector is wrong; nothing from the batch must land.
	if _, err := idx.Append([][]float32{{1, 0}, {1, 2, 3}}); err == nil {
		t.Fatal("Append with mismatched vector succeeded, want error")
	}
	if got := idx.Size(); got != 0 {
		t.Errorf("Size after failed Append = %d, want 0", got)
	}
}

func TestAppendEmpty(t *testing.T) {
	t.Parallel()
	idx, _ := New(2)
	if _, err := idx.Append(nil); err == nil {
		t.Error("Append(nil) succeeded, want error")
	}
}

func TestVector(t *testing.T) {
	t.Parallel()
	idx, _ := New(2)
	if _, err := idx.Append([][]float32{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	v, ok := idx.Vector(1)
	if !ok {
		t.Fatal("Vector(1) not found")
	}
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("Vector(1) = %v, want [3 4]", v)
	}

	// Returned slice must be a copy, not a view into the arena.
	v[0] = 99
	again, _ := idx.Vector(1)
	if again[0] != 3 {
		t.Error("mutating returned vector changed the stored one")
	}

	if _, ok := idx.Vector(2); ok {
		t.Error("Vector(2) found, want out of range")
	}
}

func TestSearchOrdering(t *testing.T) {
	t.Parallel()
	idx, _ := New(2)
	// Unit vectors at varying angles to the query (1,0).
	if _, err := idx.Append([][]float32{
		{0, 1},                          // id 0, score 0
		{1, 0},                          // id 1, score 1
		{0.7071068, 0.7071068},          // id 2, score ~0.707
		{float32(math.Sqrt(0.75)), 0.5}, // id 3, score ~0.866
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := idx.Search([]float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Search returned %d candidates, want 3", len(got))
	}
	wantIDs := []uint64{1, 3, 2}
	for i, w := range wantIDs {
		if got[i].ID != w {
			t.Errorf("result[%d].ID = %d, want %d (scores %v)", i, got[i].ID, w, got)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending: %v", got)
		}
	}
}

func TestSearchTieBrokenByLowerID(t *testing.T) {
	t.Parallel()
	idx, _ := New(2)
	// Three identical vectors all score 1 against the query.
	if _, err := idx.Append([][]float32{{1, 0}, {1, 0}, {1, 0}}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := idx.Search([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].ID != 0 || got[1].ID != 1 {
		t.Errorf("tie break = %v, want ids 0,1", got)
	}
}

func TestSearchKLargerThanSize(t *testing.T) {
	t.Parallel()
	idx, _ := New(2)
	if _, err := idx.Append([][]float32{{1, 0}, {0, 1}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := idx.Search([]float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Search k=10 over 2 vectors returned %d candidates", len(got))
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	t.Parallel()
	idx, _ := New(2)
	got, err := idx.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search on empty index: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Search on empty index returned %v", got)
	}
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()
	idx, _ := New(2)
	if _, err := idx.Search([]float32{1, 0, 0}, 5); err == nil {
		t.Error("Search with wrong query dimension succeeded")
	}
	if _, err := idx.Search([]float32{1, 0}, 0); err == nil {
		t.Error("Search with k=0 succeeded")
	}
}
