package artifact

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore(filepath.Join(t.TempDir(), "state", "last-run.json"),
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { return "run-1" }))

	if _, err := store.Load(); !errors.Is(err, ErrNoManifest) {
		t.Fatalf("expected ErrNoManifest, got %v", err)
	}

	m := store.Begin("assembleRelease", "cli", "Trip-")
	if m.RunID != "run-1" || !m.StartedAt.Equal(fixed) {
		t.Fatalf("unexpected manifest header %+v", m)
	}
	m.Entries = append(m.Entries,
		Entry{Source: "a.apk", Destination: "Trip-a.apk", Status: EntryCopied},
		Entry{Source: "b.apk", Destination: "Trip-b.apk", Status: EntryFailed, Error: "permission denied"},
	)
	saved, err := store.Save(m)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !saved.FinishedAt.Equal(fixed) {
		t.Fatalf("FinishedAt not stamped: %v", saved.FinishedAt)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Stage != "assembleRelease" || len(loaded.Entries) != 2 {
		t.Fatalf("unexpected manifest %+v", loaded)
	}
	copied, failed := loaded.Counts()
	if copied != 1 || failed != 1 {
		t.Fatalf("Counts = %d/%d", copied, failed)
	}
}
