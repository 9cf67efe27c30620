package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecentEmpty(t *testing.T) {
	s := testStore(t)

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Recent() = %v, want empty non-nil slice", got)
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []Entry{
		{Path: "/garage/WVW1234/doors/commands/lock-unlock", Topic: "cc/x_writetopic", Raw: "lock", Value: "lock"},
		{Path: "/garage/WVW1234/climatization/commands/start-stop", Raw: "auto", Value: "start"},
		{Path: "/garage/WVW1234/odometer", Raw: "5", Error: "not changeable"},
	}
	for _, e := range entries {
		if _, err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recent(2)) = %d, want 2", len(got))
	}
	if got[0].Path != "/garage/WVW1234/odometer" || got[0].OK() {
		t.Errorf("newest = %+v, want failed odometer write", got[0])
	}
	if got[1].Value != "start" || got[1].Raw != "auto" || !got[1].OK() {
		t.Errorf("second = %+v", got[1])
	}
	if got[1].Time.IsZero() {
		t.Error("Time not defaulted")
	}
	if got[0].ID <= got[1].ID {
		t.Errorf("ids not descending: %d, %d", got[0].ID, got[1].ID)
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for range DefaultLimit + 5 {
		if _, err := s.Record(ctx, Entry{Path: "/p", Raw: "x"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultLimit {
		t.Errorf("len = %d, want %d", len(got), DefaultLimit)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	old := Entry{Time: now.Add(-48 * time.Hour), Path: "/old", Raw: "x"}
	fresh := Entry{Time: now, Path: "/fresh", Raw: "y"}
	for _, e := range []Entry{old, fresh} {
		if _, err := s.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d, want 1", n)
	}
	count, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s1, err := NewStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s1.Record(ctx, Entry{Path: "/p", Raw: "x"}); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := NewStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	if n, err := s2.Count(ctx); err != nil || n != 1 {
		t.Errorf("Count() after reopen = %d, %v; want 1", n, err)
	}
}
