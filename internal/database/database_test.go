package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/iabetor/voicehub/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestOpen_CreatesDirectoryAndMigratesTwice(t *testing.T) {
	db := openTestDB(t)
	if filepath.Base(db.Path()) != "test.db" {
		t.Errorf("Path = %s", db.Path())
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate should be idempotent: %v", err)
	}

	for _, table := range []string{"transcription_tasks", "model_events"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestEventLog_RecordAndRecent(t *testing.T) {
	db := openTestDB(t)
	log := NewEventLog(db)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	log.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var _ models.Observer = log
	log.ModelLoaded("kokoro", 1500*time.Millisecond)
	log.ModelRemoved("kokoro", models.EventEvicted)
	log.ModelLoaded("whisper", 200*time.Millisecond)

	events, err := log.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Name != "whisper" || events[0].Event != "load" || events[0].DurationMs != 200 {
		t.Errorf("newest event = %+v", events[0])
	}
	if events[1].Event != "evict" || !events[1].CreatedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("second event = %+v", events[1])
	}

	n, err := log.Prune(base.Add(2500 * time.Millisecond))
	if err != nil || n != 2 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	events, _ = log.Recent(0)
	if len(events) != 1 {
		t.Errorf("after prune got %d events", len(events))
	}
}
