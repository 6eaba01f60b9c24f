// Package config handles loading and validating Scriptbox configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Scriptbox.
type Config struct {
	// WorkDir is where per-run media side-channel files are written.
	// Default: ~/.scriptbox/media. Override: SCRIPTBOX_WORKDIR env var.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Gateway       GatewayConfig        `json:"gateway" yaml:"gateway"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = run history disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Janitor       *JanitorConfig       `json:"janitor,omitempty" yaml:"janitor,omitempty"`             // nil = janitor disabled
}

// SandboxConfig bounds what a single sandboxed run may consume.
type SandboxConfig struct {
	TimeoutSeconds float64 `json:"timeout_seconds" yaml:"timeout_seconds"`   // Wall-clock limit per run. Default: 5.
	MaxMemoryBytes int64   `json:"max_memory_bytes" yaml:"max_memory_bytes"` // Worker RSS ceiling. Default: 268435456 (256 MiB).
	PollIntervalMS int     `json:"poll_interval_ms" yaml:"poll_interval_ms"` // Supervisor poll cadence. Default: 50.
	MaxSourceBytes int     `json:"max_source_bytes" yaml:"max_source_bytes"` // Largest accepted script. Default: 65536.
}

// Timeout returns the per-run wall-clock limit with a default of 5s.
func (s SandboxConfig) Timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds * float64(time.Second))
	}
	return 5 * time.Second
}

// MaxMemory returns the worker RSS ceiling with a default of 256 MiB.
func (s SandboxConfig) MaxMemory() int64 {
	if s.MaxMemoryBytes > 0 {
		return s.MaxMemoryBytes
	}
	return 1 << 28
}

// PollInterval returns the supervisor poll cadence with a default of 50ms.
func (s SandboxConfig) PollInterval() time.Duration {
	if s.PollIntervalMS > 0 {
		return time.Duration(s.PollIntervalMS) * time.Millisecond
	}
	return 50 * time.Millisecond
}

// SourceLimit returns the max accepted script size with a default of 64 KiB.
func (s SandboxConfig) SourceLimit() int {
	if s.MaxSourceBytes > 0 {
		return s.MaxSourceBytes
	}
	return 64 << 10
}

// GatewayConfig configures the HTTP API gateway.
type GatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"`                       // Default: ":8080".
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MiB.
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"`     // API key → user ID.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (g GatewayConfig) Addr() string {
	if g.ListenAddr != "" {
		return g.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body cap with a default of 1 MiB.
func (g GatewayConfig) MaxRequestSize() int64 {
	if g.MaxRequestSizeBytes > 0 {
		return g.MaxRequestSizeBytes
	}
	return 1 << 20
}

// RateLimitConfig configures per-user rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// StorageConfig configures the run-history backend.
// When nil, runs are not recorded.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from work dir.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN string `json:"dsn" yaml:"dsn"` // Override: SCRIPTBOX_DB_DSN env var.
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "scriptbox"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// JanitorConfig configures the periodic sweep of orphaned media files
// and expired history rows. When nil, nothing is swept.
type JanitorConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Schedule       string `json:"schedule" yaml:"schedule"`               // Cron expression. Default: "*/10 * * * *".
	RetentionHours int    `json:"retention_hours" yaml:"retention_hours"` // Default: 24.
}

// CronSchedule returns the sweep schedule with a default of every 10 minutes.
func (j *JanitorConfig) CronSchedule() string {
	if j != nil && j.Schedule != "" {
		return j.Schedule
	}
	return "*/10 * * * *"
}

// Retention returns the retention window with a default of 24h.
func (j *JanitorConfig) Retention() time.Duration {
	if j != nil && j.RetentionHours > 0 {
		return time.Duration(j.RetentionHours) * time.Hour
	}
	return 24 * time.Hour
}

// DefaultConfigPath returns the default config file path (~/.scriptbox/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/scriptbox.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".scriptbox", "config.yaml")
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. A missing file is not an error — environment variables and
// defaults carry a bare deployment. Environment variables take precedence
// over config file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	var cfg Config
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	case os.IsNotExist(err):
		// Proceed with env + defaults.
	default:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	// Environment variable overrides — env vars take precedence over config values.
	if envWD := os.Getenv("SCRIPTBOX_WORKDIR"); envWD != "" {
		cfg.WorkDir = envWD
	}
	if envAddr := os.Getenv("SCRIPTBOX_LISTEN_ADDR"); envAddr != "" {
		cfg.Gateway.ListenAddr = envAddr
	}
	if envKey := os.Getenv("SCRIPTBOX_API_KEY"); envKey != "" {
		// Single-key convenience for small deployments.
		if cfg.Gateway.APIKeyUserMapping == nil {
			cfg.Gateway.APIKeyUserMapping = map[string]string{}
		}
		cfg.Gateway.APIKeyUserMapping[envKey] = "default"
	}
	if envDSN := os.Getenv("SCRIPTBOX_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Driver = "postgres"
		cfg.Storage.Postgres = &PostgresStorageConfig{DSN: envDSN}
	}

	// Resolve WorkDir default.
	if cfg.WorkDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.WorkDir = filepath.Join(home, ".scriptbox", "media")
		} else {
			cfg.WorkDir = "scriptbox-media"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedWorkDir returns the work dir, resolving ~ if needed.
func (c *Config) ResolvedWorkDir() string {
	resolved, err := resolvePath(c.WorkDir)
	if err != nil {
		return c.WorkDir
	}
	return resolved
}

// DatabasePath returns the effective SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedWorkDir(), "scriptbox.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Sandbox.TimeoutSeconds < 0 {
		return fmt.Errorf("sandbox.timeout_seconds must not be negative")
	}
	if c.Sandbox.TimeoutSeconds > 300 {
		return fmt.Errorf("sandbox.timeout_seconds %g exceeds the 300s ceiling", c.Sandbox.TimeoutSeconds)
	}
	if c.Sandbox.MaxMemoryBytes < 0 {
		return fmt.Errorf("sandbox.max_memory_bytes must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite":
			// valid
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required (set SCRIPTBOX_DB_DSN env var)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch t.Protocol {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
	}
	if c.Gateway.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("gateway.rate_limit.requests_per_minute must not be negative")
	}
	return nil
}
