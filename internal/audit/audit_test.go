package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RecordAndPurge(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	now := time.Now().UTC()
	entries := []Entry{
		{Model: "gemini-1.5-flash", Status: 200, Kind: "OK", PromptSHA256: "a", CreatedAt: now.Add(-48 * time.Hour)},
		{Model: "gemini-1.5-flash", Status: 429, Kind: "UpstreamRejected", PromptSHA256: "b", CreatedAt: now},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	n, err := store.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 entries, got %d (err=%v)", n, err)
	}

	deleted, err := store.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}

	n, _ = store.Count(ctx)
	if n != 1 {
		t.Errorf("Expected 1 remaining, got %d", n)
	}
}

func TestPurger_PurgeOnceUsesRetention(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	fixed := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store.Record(ctx, Entry{Model: "m", Kind: "OK", CreatedAt: fixed.AddDate(0, 0, -31)})
	store.Record(ctx, Entry{Model: "m", Kind: "OK", CreatedAt: fixed.AddDate(0, 0, -1)})

	p, err := NewPurger(store, 30*24*time.Hour, "@daily")
	if err != nil {
		t.Fatalf("NewPurger failed: %v", err)
	}
	p.now = func() time.Time { return fixed }

	deleted, err := p.PurgeOnce(ctx)
	if err != nil {
		t.Fatalf("PurgeOnce failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
}

func TestNewPurger_InvalidSchedule(t *testing.T) {
	if _, err := NewPurger(NopStore{}, time.Hour, "not a schedule"); err == nil {
		t.Error("Expected error for invalid schedule")
	}
}

func TestOpen(t *testing.T) {
	t.Run("empty dsn disables audit", func(t *testing.T) {
		store, err := Open("")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if _, ok := store.(NopStore); !ok {
			t.Errorf("Expected NopStore, got %T", store)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := Open("sqlite://" + filepath.Join(t.TempDir(), "a.db"))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer store.Close()
		if _, ok := store.(*SQLiteStore); !ok {
			t.Errorf("Expected *SQLiteStore, got %T", store)
		}
	})

	t.Run("unknown scheme", func(t *testing.T) {
		if _, err := Open("mysql://x"); err == nil {
			t.Error("Expected error for unsupported scheme")
		}
	})
}
