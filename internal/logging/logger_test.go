package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamkeeper/internal/config"
	"streamkeeper/internal/logging"
)

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	logger, err := logging.NewFromConfig(&cfg, "")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("CLI logger should default to warn")
	}
	debug, err := logging.NewFromConfig(nil, "debug")
	if err != nil {
		t.Fatalf("NewFromConfig(debug): %v", err)
	}
	if !debug.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug level to be honoured")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerRendersComponentAndStream(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "supervisor")
	logger.Info("stream verified", logging.Stream("rode_ai_micro"), logging.PID(42))
	logger.Debug("hidden")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "INFO supervisor [rode_ai_micro]: stream verified") {
		t.Fatalf("unexpected console line: %q", text)
	}
	if !strings.Contains(text, "pid=42") {
		t.Fatalf("expected pid attribute, got %q", text)
	}
	if strings.Contains(text, "hidden") {
		t.Fatalf("debug line leaked at info level: %q", text)
	}
	if strings.Contains(text, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", text)
	}
}

func TestJSONLoggerCarriesRunID(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, RunID: "run-1"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("relay down", logging.EventType("relay_down"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode json line %q: %v", content, err)
	}
	if record[logging.FieldRunID] != "run-1" {
		t.Fatalf("expected run_id, got %v", record)
	}
	if record["level"] != "warn" || record["msg"] != "relay down" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WarnWithContext(logger, "probe failed", "probe_failed",
		logging.String(logging.FieldImpact, "device skipped"),
	)

	out := buf.String()
	for _, want := range []string{`"event_type":"probe_failed"`, `"error_hint":"check logs for details"`, `"impact":"device skipped"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
	logging.WarnWithContext(nil, "ignored", "noop")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := logging.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "streamkeeper-old.log")
	fresh := filepath.Join(dir, "streamkeeper-new.log")
	current := filepath.Join(dir, "streamkeeper-current.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, current, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	pointer := filepath.Join(dir, "streamkeeper-pointer.log")
	if err := os.Symlink(old, pointer); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 7, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "streamkeeper-*.log",
		Exclude: []string{current},
	})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Lstat(pointer); err != nil {
		t.Fatalf("expected symlink to be left alone: %v", err)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log pruned, stat err=%v", err)
	}
	for _, path := range []string{fresh, current, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}
