package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "json", "info")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.With("job_id", "j1").Info("job started", "key", "a.zip")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["job_id"] != "j1" || rec["msg"] != "job started" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"", "text", "tint", "JSON"} {
		var buf bytes.Buffer
		logger, err := New(&buf, format, "debug")
		if err != nil {
			t.Fatalf("format %q: %v", format, err)
		}
		logger.Debug("visible")
		if !strings.Contains(buf.String(), "visible") {
			t.Fatalf("format %q: debug line missing: %q", format, buf.String())
		}
	}

	if _, err := New(&bytes.Buffer{}, "xml", "info"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
