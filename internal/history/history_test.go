package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "history.db"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := sandbox.NewEnvelope()
	env.Text = "4\n"
	env.Duration = 0.02
	if err := s.Record(ctx, "run-1", "alice", "print(2+2)", env); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "alice" || got.Text != "4\n" {
		t.Errorf("unexpected row: %+v", got)
	}
	if got.ErrorKind != "" {
		t.Errorf("success run should have empty error kind, got %q", got.ErrorKind)
	}
	if got.SourceSHA256 == "" || len(got.SourceSHA256) != 64 {
		t.Errorf("source hash = %q, want 64 hex chars", got.SourceSHA256)
	}
	if got.SourceBytes != len("print(2+2)") {
		t.Errorf("source bytes = %d", got.SourceBytes)
	}
}

func TestStore_RecordsFailureKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := sandbox.NewEnvelope()
	env.Error = sandbox.Errorf(sandbox.KindTimeout, "run exceeded 5s")
	env.Duration = 5
	if err := s.Record(ctx, "run-t", "bob", "while true do end", env); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Get(ctx, "run-t")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ErrorKind != string(sandbox.KindTimeout) {
		t.Errorf("error kind = %q, want %q", got.ErrorKind, sandbox.KindTimeout)
	}
}

func TestStore_ListRecentFiltersByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, user := range []string{"alice", "bob", "alice"} {
		env := sandbox.NewEnvelope()
		if err := s.Record(ctx, string(rune('a'+i)), user, "x = 1", env); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	runs, err := s.ListRecent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs for alice, want 2", len(runs))
	}

	all, err := s.ListRecent(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d runs total, want 3", len(all))
	}
}

func TestStore_DeleteOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := sandbox.NewEnvelope()
	if err := s.Record(ctx, "old", "alice", "x = 1", env); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Backdate the row to make it eligible for pruning.
	cutoff := time.Now().UTC().Add(-time.Hour)
	if err := s.db.Model(&Run{}).Where("run_id = ?", "old").
		Update("created_at", cutoff.Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdating: %v", err)
	}
	if err := s.Record(ctx, "new", "alice", "x = 2", env); err != nil {
		t.Fatalf("Record: %v", err)
	}

	n, err := s.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}
	if _, err := s.Get(ctx, "old"); err == nil {
		t.Error("old run should be gone")
	}
	if _, err := s.Get(ctx, "new"); err != nil {
		t.Errorf("new run should survive: %v", err)
	}
}
