package obslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestJSONConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", Console: true, Stdout: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("session_swept", zap.String("session_id", "s-1"))
	_ = logger.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["msg"] != "session_swept" || entry["session_id"] != "s-1" || entry["level"] != "warn" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestFileCoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "arena.log")
	logger, err := New(Options{Format: "legacy", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("started")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), " | INFO | ") || !strings.Contains(string(data), "started") {
		t.Fatalf("log file = %q", data)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_TO_FILE", "")
	opts := OptionsFromEnv()
	if opts.Level != "debug" || opts.Format != "json" || opts.File != "" || !opts.Console {
		t.Fatalf("opts = %+v", opts)
	}

	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", "")
	if got := OptionsFromEnv().File; got != filepath.Join("logs", "arena.log") {
		t.Fatalf("default file = %q", got)
	}
}
