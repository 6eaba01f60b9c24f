package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "scriptbox.yaml", `
sandbox:
  timeout_seconds: 2.5
gateway:
  enabled: true
  api_key_user_mapping:
    sk-test: alice
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Sandbox.Timeout().Seconds(); got != 2.5 {
		t.Errorf("timeout = %gs, want 2.5s", got)
	}
	// Unset knobs fall back to defaults.
	if got := cfg.Sandbox.MaxMemory(); got != 1<<28 {
		t.Errorf("max memory = %d, want %d", got, 1<<28)
	}
	if got := cfg.Sandbox.PollInterval().Milliseconds(); got != 50 {
		t.Errorf("poll interval = %dms, want 50ms", got)
	}
	if got := cfg.Gateway.Addr(); got != ":8080" {
		t.Errorf("listen addr = %q, want :8080", got)
	}
	if got := cfg.Gateway.APIKeyUserMapping["sk-test"]; got != "alice" {
		t.Errorf("api key mapping = %q, want alice", got)
	}
	if cfg.WorkDir == "" {
		t.Error("work dir should default to a non-empty path")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Sandbox.Timeout().Seconds(); got != 5 {
		t.Errorf("timeout = %gs, want 5s", got)
	}
	if got := cfg.StorageDriverName(); got != "sqlite" {
		t.Errorf("driver = %q, want sqlite", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "scriptbox.yaml", `
work_dir: /tmp/from-file
gateway:
  listen_addr: ":9999"
`)
	t.Setenv("SCRIPTBOX_WORKDIR", "/tmp/from-env")
	t.Setenv("SCRIPTBOX_LISTEN_ADDR", ":7777")
	t.Setenv("SCRIPTBOX_API_KEY", "sk-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkDir != "/tmp/from-env" {
		t.Errorf("work dir = %q, want env override", cfg.WorkDir)
	}
	if cfg.Gateway.ListenAddr != ":7777" {
		t.Errorf("listen addr = %q, want env override", cfg.Gateway.ListenAddr)
	}
	if got := cfg.Gateway.APIKeyUserMapping["sk-env"]; got != "default" {
		t.Errorf("env api key mapped to %q, want default", got)
	}
}

func TestLoad_PostgresDSNFromEnv(t *testing.T) {
	t.Setenv("SCRIPTBOX_DB_DSN", "postgres://u:p@localhost/scriptbox")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.StorageDriverName(); got != "postgres" {
		t.Errorf("driver = %q, want postgres", got)
	}
	if cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN == "" {
		t.Error("postgres DSN should be populated from env")
	}
}

func TestLoad_RejectsBadConfig(t *testing.T) {
	cases := []struct {
		name, yaml string
	}{
		{"timeout over ceiling", "sandbox:\n  timeout_seconds: 9000\n"},
		{"unknown driver", "storage:\n  driver: dynamodb\n"},
		{"postgres without dsn", "storage:\n  driver: postgres\n"},
		{"tracing without endpoint", "observability:\n  tracing:\n    enabled: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "bad.yaml", tc.yaml)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestDatabasePath_DerivedFromWorkDir(t *testing.T) {
	path := writeConfig(t, "scriptbox.yaml", `
work_dir: /var/lib/scriptbox
storage:
  driver: sqlite
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join("/var/lib/scriptbox", "scriptbox.db")
	if got := cfg.DatabasePath(); got != want {
		t.Errorf("db path = %q, want %q", got, want)
	}
}
