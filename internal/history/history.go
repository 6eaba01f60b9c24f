// Package history persists a record of every sandboxed run.
// Two backends are provided via GORM: SQLite (default, zero-config, pure Go
// through glebarez/sqlite) and PostgreSQL (production).
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/scriptbox/internal/sandbox"
)

// Run is one recorded sandbox execution.
type Run struct {
	ID           uint      `gorm:"primaryKey"`
	RunID        string    `gorm:"uniqueIndex;size:64"`
	UserID       string    `gorm:"index;size:64"`
	SourceSHA256 string    `gorm:"size:64"`
	SourceBytes  int       ``
	Text         string    ``
	ErrorKind    string    `gorm:"index;size:32"` // empty = success
	ErrorMessage string    ``
	HasImage     bool      ``
	HasAnimation bool      ``
	Duration     float64   `` // seconds; -1 when the script never ran
	CreatedAt    time.Time `gorm:"index"`
}

// TableName keeps the table name stable across GORM naming strategy changes.
func (Run) TableName() string { return "runs" }

// Config selects and configures the history backend.
type Config struct {
	Driver string // "sqlite" (default) or "postgres"
	Path   string // SQLite database file path.
	DSN    string // PostgreSQL connection string.
}

// Store records and queries run history.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	driver string
}

// Open connects the configured backend and migrates the schema.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	gormCfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	var db *gorm.DB
	var err error
	switch driver {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if mkErr := os.MkdirAll(filepath.Dir(cfg.Path), 0750); mkErr != nil {
			return nil, fmt.Errorf("creating database directory: %w", mkErr)
		}
		dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", cfg.Path)
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres DSN is required")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s history database: %w", driver, err)
	}

	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	slogger.Info("history store opened", slog.String("driver", driver))
	return &Store{db: db, logger: slogger, driver: driver}, nil
}

// Record persists the envelope produced for a run. The script source itself
// is never stored, only its SHA-256 and size.
func (s *Store) Record(ctx context.Context, runID, userID, source string, env *sandbox.Envelope) error {
	sum := sha256.Sum256([]byte(source))
	run := Run{
		RunID:        runID,
		UserID:       userID,
		SourceSHA256: hex.EncodeToString(sum[:]),
		SourceBytes:  len(source),
		Text:         env.Text,
		HasImage:     env.HasImage,
		HasAnimation: env.HasAnimation,
		Duration:     env.Duration,
		CreatedAt:    time.Now().UTC(),
	}
	if env.Error != nil {
		run.ErrorKind = string(env.Error.Kind)
		run.ErrorMessage = env.Error.Message
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("recording run %s: %w", runID, err)
	}
	return nil
}

// Get returns the recorded run with the given run ID.
func (s *Store) Get(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return &run, nil
}

// ListRecent returns up to limit runs for a user, newest first.
// An empty userID lists across all users.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// DeleteOlderThan removes runs recorded before the cutoff and reports how
// many rows were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Run{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Driver returns the backend driver name.
func (s *Store) Driver() string { return s.driver }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
