// Package janitor periodically sweeps the engine work dir for orphaned
// side-channel media files and prunes expired rows from the run history.
//
// Media files are normally deleted by the caller as soon as a run's envelope
// has been consumed. Orphans appear when a caller crashes between Run
// returning and the file being read, so the sweep only removes files older
// than the retention window.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/scriptbox/internal/history"
)

// mediaPatterns match the side-channel files the worker writes.
var mediaPatterns = []string{"run-*.png", "run-*.gif"}

// Janitor owns the cron runner and the sweep targets.
type Janitor struct {
	workDir   string
	retention time.Duration
	store     *history.Store // nil = history pruning disabled
	logger    *slog.Logger
	runner    *cron.Cron
}

// New creates a janitor sweeping workDir. A nil store disables history pruning.
func New(workDir string, retention time.Duration, store *history.Store, logger *slog.Logger) *Janitor {
	return &Janitor{
		workDir:   workDir,
		retention: retention,
		store:     store,
		logger:    logger,
		runner:    cron.New(),
	}
}

// Start schedules the sweep with the given cron expression and begins running.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.runner.AddFunc(schedule, func() {
		j.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	j.runner.Start()
	j.logger.Info("janitor started",
		slog.String("schedule", schedule),
		slog.Duration("retention", j.retention),
	)
	return nil
}

// Stop halts the cron runner and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.runner.Stop().Done()
}

// Sweep runs one pass immediately: orphaned media first, then history rows.
func (j *Janitor) Sweep(ctx context.Context) {
	files := j.sweepMedia()
	rows := j.sweepHistory(ctx)
	j.logger.Info("janitor sweep complete",
		slog.Int("files_removed", files),
		slog.Int64("rows_removed", rows),
	)
}

func (j *Janitor) sweepMedia() int {
	cutoff := time.Now().Add(-j.retention)
	removed := 0
	for _, pattern := range mediaPatterns {
		matches, err := filepath.Glob(filepath.Join(j.workDir, pattern))
		if err != nil {
			continue // only happens on a malformed pattern
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				j.logger.Warn("janitor could not remove orphan",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			removed++
		}
	}
	return removed
}

func (j *Janitor) sweepHistory(ctx context.Context) int64 {
	if j.store == nil {
		return 0
	}
	n, err := j.store.DeleteOlderThan(ctx, time.Now().UTC().Add(-j.retention))
	if err != nil {
		j.logger.Error("janitor history prune failed", slog.String("error", err.Error()))
		return 0
	}
	return n
}
