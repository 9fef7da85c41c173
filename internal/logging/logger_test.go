package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"video-compiler-service/internal/logging"
)

func TestRedactDSN(t *testing.T) {
	got := logging.RedactDSN("postgres://app:s3cret@db:5432/art?sslmode=disable")
	if got != "postgres://app:****@db:5432/art?sslmode=disable" {
		t.Fatalf("unexpected redaction: %s", got)
	}
	if got := logging.RedactDSN("postgres://db:5432/art"); got != "postgres://db:5432/art" {
		t.Fatalf("dsn without password must be unchanged, got %s", got)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("kept", "job_id", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got["msg"] != "kept" || got["job_id"] != "abc" {
		t.Fatalf("unexpected record: %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	if logging.ParseLevel("DEBUG") != slog.LevelDebug {
		t.Fatal("expected debug")
	}
	if logging.ParseLevel("nonsense") != slog.LevelInfo {
		t.Fatal("expected info fallback")
	}
}
