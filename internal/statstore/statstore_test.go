package statstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kvmpipe/kvmpipe/internal/stats"
)

func TestPersistAndRecent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "stats.db")
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	now := time.Unix(1700000000, 0)
	snap := stats.Snapshot{InputFrames: 600, InputBytes: 60_000_000, VideoFrames: 600, VideoBytes: 6_000_000, Ratio: 10}
	if err := store.Persist(snap, now); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := store.Persist(snap, now.Add(20*time.Second)); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	rows, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Ratio != 10 {
		t.Fatalf("Ratio = %v, want 10", rows[0].Ratio)
	}
}

func TestOpenDialectSelection(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "dialect.db")
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open sqlite dsn: %v", err)
	}
	defer store.Close()
}
