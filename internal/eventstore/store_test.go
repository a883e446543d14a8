package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/handsfree-audio/handsynth/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralWritesNothing(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.AppendNote(ctx, NoteRecord{SessionID: "s", Pitch: 60, Kind: "on"}); err != nil {
		t.Fatalf("ephemeral append must be a no-op: %v", err)
	}
	records, err := es.ListSessionNotes(ctx, "s", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected nothing stored in ephemeral mode, got %d", len(records))
	}
}

func TestAppendAndQueryNotes(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "run-123"
	if err := es.BeginSession(context.Background(), sessionID, "handsynth"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.AppendNote(context.Background(), NoteRecord{SessionID: sessionID, Pitch: 60, Velocity: 64, Kind: "on", Program: 1}); err != nil {
		t.Fatalf("append note-on: %v", err)
	}
	if err := es.AppendNote(context.Background(), NoteRecord{SessionID: sessionID, Pitch: 60, Velocity: 94, Kind: "off", Program: 1}); err != nil {
		t.Fatalf("append note-off: %v", err)
	}

	records, err := es.ListSessionNotes(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != "on" || records[0].Velocity != 64 {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Kind != "off" || records[1].Velocity != 94 {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginSession(context.Background(), "old-run", "handsynth"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.AppendNote(context.Background(), NoteRecord{SessionID: "old-run", Pitch: 72, Kind: "on"}); err != nil {
		t.Fatalf("append note: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginSession(context.Background(), "new-run", "handsynth"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := es.ListSessionNotes(context.Background(), "old-run", 10)
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected old run pruned, got %d records", len(records))
	}
}
