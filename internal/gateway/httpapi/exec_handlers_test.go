package httpapi

import (
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/scriptbox/internal/history"
	"github.com/jkaninda/scriptbox/internal/sandbox"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	return NewGateway(Config{
		ListenAddr: ":0",
		WorkDir:    t.TempDir(),
		APIKeys:    map[string]string{"sk-test": "alice"},
	}, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConsumeMedia_InlinesAndDeletes(t *testing.T) {
	g := newTestGateway(t)
	path := filepath.Join(g.config.WorkDir, sandbox.ImageFile("r1"))
	payload := []byte{0x89, 'P', 'N', 'G'}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("writing media: %v", err)
	}

	got := g.consumeMedia("r1", sandbox.ImageFile("r1"))
	if want := base64.StdEncoding.EncodeToString(payload); got != want {
		t.Errorf("payload = %q, want %q", got, want)
	}
	// The side-channel file must not outlive the response.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("media file should be deleted after consumption")
	}
}

func TestConsumeMedia_MissingFileYieldsEmpty(t *testing.T) {
	g := newTestGateway(t)
	if got := g.consumeMedia("r2", sandbox.ImageFile("r2")); got != "" {
		t.Errorf("missing file should yield empty payload, got %q", got)
	}
}

func TestToRunRecord(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := toRunRecord(&history.Run{
		RunID:        "r3",
		SourceSHA256: "abc",
		SourceBytes:  10,
		Text:         "4\n",
		ErrorKind:    "timeout",
		ErrorMessage: "run exceeded 5s",
		Duration:     5,
		CreatedAt:    created,
	})
	if rec.RunID != "r3" || rec.ErrorKind != "timeout" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.CreatedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("created_at = %q", rec.CreatedAt)
	}
}
