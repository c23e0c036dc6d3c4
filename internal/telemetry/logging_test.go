package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lastEntry(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("unmarshal log json: %v", err)
	}
	return entry
}

func TestNewLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trustroom.jsonl")
	logger, closer, err := NewLogger("debug", path, true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("case woken", "case_id", "c1", "previous_status", "dormant")

	entry := lastEntry(t, path)
	for _, key := range []string{"timestamp", "level", "msg", "component"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing key %q in %#v", key, entry)
		}
	}
	if entry["case_id"] != "c1" || entry["component"] != "trustroom" {
		t.Fatalf("unexpected entry %#v", entry)
	}
}

func TestNewLoggerRedacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustroom.jsonl")
	logger, closer, err := NewLogger("info", path, true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closer.Close()

	logger.Info("request",
		"guest_token", "abc123",
		"header", "Authorization: Bearer xyz",
		"detail", "buyer 0912345678 signed in with eyJhbGciOi.eyJzdWIiOi.sig",
	)
	entry := lastEntry(t, path)
	if entry["guest_token"] != "[REDACTED]" || entry["header"] != "[REDACTED]" {
		t.Fatalf("expected redaction, got %#v", entry)
	}
	detail, _ := entry["detail"].(string)
	if strings.Contains(detail, "0912345678") || strings.Contains(detail, "eyJhbGciOi") {
		t.Fatalf("detail not redacted: %q", detail)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
