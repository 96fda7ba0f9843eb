package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"llmgate/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer cleanup()

	logger.Debug("hidden")
	logger.Info("provider drained", "provider", "groq", "awaited", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "provider drained" || entry["provider"] != "groq" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNew_PrettyConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New(config.LoggingConfig{Level: "debug", Format: "pretty"}, &buf)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer cleanup()

	logger.Debug("started collecting system metrics", "interval", "5s")

	out := buf.String()
	if !strings.Contains(out, "started collecting system metrics") {
		t.Errorf("message missing from output: %q", out)
	}
	if !strings.Contains(out, "interval") {
		t.Errorf("attribute missing from output: %q", out)
	}
}

func TestNew_FileFanout(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, cleanup, err := New(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		Dir:        dir,
		MaxSizeMB:  1,
		MaxBackups: 10,
	}, &buf)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.With("service", "llmgate").Info("shutdown complete")
	cleanup()

	if !strings.Contains(buf.String(), "shutdown complete") {
		t.Errorf("console missing record: %q", buf.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"service":"llmgate"`) {
		t.Errorf("file missing record attrs: %q", string(data))
	}
}
