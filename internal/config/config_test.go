package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"video-compiler-service/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileThenEnvOverlay(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[postgres]
dsn = "postgres://file@localhost/db"

[backend]
base_url = "https://render.example/"
api_key = "file-key"

[poller]
interval_seconds = 2
max_attempts = 10
`)
	t.Setenv("POSTGRES_DSN", "postgres://env@localhost/db")
	t.Setenv("RENDER_BACKEND_STATUS_PATHS", "/v2/status/{id}, /v2/jobs/{id}")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Postgres.DSN != "postgres://env@localhost/db" {
		t.Fatalf("env must override file, got %q", cfg.Postgres.DSN)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug, got %q", cfg.LogLevel)
	}
	if cfg.Backend.BaseURL != "https://render.example" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if !cfg.BackendConfigured() {
		t.Fatal("expected backend configured")
	}
	if cfg.Poller.Interval() != 2*time.Second || cfg.Poller.MaxAttempts != 10 {
		t.Fatalf("unexpected poller config: %+v", cfg.Poller)
	}
	if len(cfg.Backend.StatusPaths) != 2 || cfg.Backend.StatusPaths[1] != "/v2/jobs/{id}" {
		t.Fatalf("unexpected status paths: %#v", cfg.Backend.StatusPaths)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/db")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Poller.IntervalSeconds != 5 || cfg.Poller.MaxAttempts != 180 {
		t.Fatalf("unexpected poller defaults: %+v", cfg.Poller)
	}
	if cfg.Backend.APIKeyHeader != "X-API-KEY" {
		t.Fatalf("unexpected api key header %q", cfg.Backend.APIKeyHeader)
	}
	if len(cfg.Backend.CancelPaths) != 3 {
		t.Fatalf("expected 3 default cancel paths, got %d", len(cfg.Backend.CancelPaths))
	}
	if cfg.Backend.TransferDeadline() != 15*time.Minute || cfg.Backend.TransferDeadline() <= cfg.Backend.Timeout() {
		t.Fatalf("transfers need a longer deadline than API calls, got %v", cfg.Backend.TransferDeadline())
	}
	if cfg.Local.FrameDeadline() != time.Minute {
		t.Fatalf("unexpected frame deadline %v", cfg.Local.FrameDeadline())
	}
}

func TestLoad_RequiresDSN(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POSTGRES_DSN", "")

	_, err := config.Load("")
	if err == nil || !strings.Contains(err.Error(), "POSTGRES_DSN") {
		t.Fatalf("expected POSTGRES_DSN error, got %v", err)
	}
}

func TestLoad_RejectsEndpointWithoutPlaceholder(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/db")
	t.Setenv("RENDER_BACKEND_CANCEL_PATHS", "/v1/cancel")

	if _, err := config.Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}
