package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	batches := []Entry{
		{Source: "docs/a.jsonl", Items: 12, Status: StatusOK, Duration: 800 * time.Millisecond, CreatedAt: base},
		{Source: "docs/b.jsonl", Items: 0, Status: StatusFailed, Error: "embedding backend unreachable", Duration: 2 * time.Second, CreatedAt: base.Add(time.Minute)},
		{Source: "api", Items: 3, Status: StatusOK, Duration: 150 * time.Millisecond, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range batches {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record(%q): %v", e.Source, err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d entries, want 3", len(got))
	}
	// Newest first.
	if got[0].Source != "api" || got[2].Source != "docs/a.jsonl" {
		t.Errorf("unexpected order: %q, %q, %q", got[0].Source, got[1].Source, got[2].Source)
	}
	if got[1].Status != StatusFailed || got[1].Error == "" {
		t.Errorf("failed batch not preserved: %+v", got[1])
	}
	if got[0].Duration != 150*time.Millisecond {
		t.Errorf("Duration = %v, want 150ms", got[0].Duration)
	}
}

func TestRecentLimit(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := Entry{
			Source:    "api",
			Items:     i,
			Status:    StatusOK,
			CreatedAt: time.Date(2026, 3, 1, 0, i, 0, 0, time.UTC),
		}
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(got))
	}
	if got[0].Items != 4 || got[1].Items != 3 {
		t.Errorf("Recent(2) = items %d,%d; want 4,3", got[0].Items, got[1].Items)
	}
}

func TestRecordDefaultsCreatedAt(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	before := time.Now().Add(-time.Second)
	if err := s.Record(context.Background(), Entry{Source: "api", Items: 1, Status: StatusOK}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent returned %d entries, want 1", len(got))
	}
	if got[0].CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, want >= %v", got[0].CreatedAt, before)
	}
}

func TestOpenCreatesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	if err := s.Record(context.Background(), Entry{Source: "x", Items: 1, Status: StatusOK}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and confirm the row survived.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent after reopen: %v", err)
	}
	if len(got) != 1 || got[0].Source != "x" {
		t.Errorf("entry did not survive reopen: %+v", got)
	}
}
