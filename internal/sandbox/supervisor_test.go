package sandbox

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// newTestEngine builds an engine that spawns the given fake worker argv
// instead of re-executing the binary.
func newTestEngine(t *testing.T, argv []string, cfg Config) *Engine {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process-group supervision requires a POSIX platform")
	}
	cfg.WorkerCommand = argv
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	return New(cfg, testLogger())
}

func TestRun_CompletedWorker(t *testing.T) {
	// The fake worker consumes the source from stdin and emits one envelope,
	// exactly as the real worker mode does.
	e := newTestEngine(t, []string{
		"/bin/sh", "-c", `cat >/dev/null; printf '{"text":"4\\n","duration":0.01}'`,
	}, Config{})

	env, err := e.Run(context.Background(), Request{Source: "print(2+2)", RunID: "t1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Error != nil {
		t.Fatalf("error = %v, want nil", env.Error)
	}
	if env.Text != "4\n" {
		t.Errorf("text = %q, want %q", env.Text, "4\n")
	}
	if env.Duration <= 0 {
		t.Errorf("duration = %v, want > 0", env.Duration)
	}
}

func TestRun_Timeout(t *testing.T) {
	e := newTestEngine(t, []string{"sleep", "60"}, Config{})

	start := time.Now()
	env, err := e.Run(context.Background(), Request{
		Source:  "while true do end",
		RunID:   "t2",
		Timeout: 200 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Error == nil || env.Error.Kind != KindTimeout {
		t.Fatalf("error = %v, want kind %s", env.Error, KindTimeout)
	}
	// Must return within timeout plus a few polling intervals.
	if elapsed > time.Second {
		t.Errorf("run took %v, want < 1s for a 200ms timeout", elapsed)
	}
}

func TestRun_MemoryExceeded(t *testing.T) {
	// tail on /dev/zero grows its buffer without bound.
	e := newTestEngine(t, []string{"tail", "/dev/zero"}, Config{})

	env, err := e.Run(context.Background(), Request{
		Source:    "x = {}",
		RunID:     "t3",
		Timeout:   30 * time.Second,
		MaxMemory: 32 << 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Error == nil || env.Error.Kind != KindMemoryExceeded {
		t.Fatalf("error = %v, want kind %s", env.Error, KindMemoryExceeded)
	}
}

func TestRun_WorkerExitsWithoutPayload(t *testing.T) {
	e := newTestEngine(t, []string{"true"}, Config{})

	env, err := e.Run(context.Background(), Request{Source: "print(1)", RunID: "t4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Error == nil || env.Error.Kind != KindInternal {
		t.Fatalf("error = %v, want kind %s", env.Error, KindInternal)
	}
}

func TestRun_PrecheckSkipsSpawn(t *testing.T) {
	// The fake worker would report a clean run; a pre-check hit must win,
	// proving no worker was spawned.
	e := newTestEngine(t, []string{
		"/bin/sh", "-c", `cat >/dev/null; printf '{"text":"","duration":0.01}'`,
	}, Config{})

	env, err := e.Run(context.Background(), Request{Source: `print(getmetatable(""))`, RunID: "t5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Error == nil || env.Error.Kind != KindSuspiciousPattern {
		t.Fatalf("error = %v, want kind %s", env.Error, KindSuspiciousPattern)
	}
	if env.Duration != -1 {
		t.Errorf("duration = %v, want -1 (not measured)", env.Duration)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	e := newTestEngine(t, []string{"sleep", "60"}, Config{})
	reg := prometheus.NewRegistry()
	e.WithMetrics(NewMetrics(reg))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	env, err := e.Run(ctx, Request{Source: "while true do end", RunID: "t6", Timeout: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Error == nil || env.Error.Kind != KindTimeout {
		t.Fatalf("error = %v, want kind %s (cancel takes the timeout path)", env.Error, KindTimeout)
	}
	if got := gatherCounter(t, reg, "scriptbox_sandbox_worker_kills_total", "canceled"); got != 1 {
		t.Errorf("worker_kills_total{canceled} = %v, want 1", got)
	}
}
