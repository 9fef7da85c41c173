package postgresql

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate_KeepsUTF8Valid(t *testing.T) {
	in := "x" + strings.Repeat("é", 600)
	got := truncate(in, 1024)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated error text is not valid UTF-8: %q", got[len(got)-4:])
	}
	if len(got) > 1024 || len(got) < 1023 {
		t.Fatalf("expected 1023 or 1024 bytes, got %d", len(got))
	}
	if truncate("short", 1024) != "short" {
		t.Fatal("short strings must pass through")
	}
}
