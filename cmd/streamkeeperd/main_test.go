package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"streamkeeper/internal/lock"
	"streamkeeper/internal/orchestrator"
	"streamkeeper/internal/testsupport"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"--config", "/etc/streamkeeper.toml", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if opts.configPath != "/etc/streamkeeper.toml" || opts.logLevel != "debug" {
		t.Fatalf("unexpected flags: %#v", opts)
	}
	if _, err := parseFlags([]string{"extra"}); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}

func TestLoadConfig(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	testsupport.WriteFile(t, path, fmt.Sprintf("[paths]\nstate_dir = %q\nlog_dir = %q\n",
		filepath.Join(base, "state"), filepath.Join(base, "logs")))

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Paths.StateDir != filepath.Join(base, "state") {
		t.Fatalf("state dir = %q", cfg.Paths.StateDir)
	}

	testsupport.WriteFile(t, path, "[paths\n")
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected malformed config to fail")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitFailure},
		{fmt.Errorf("start: %w", orchestrator.ErrPrerequisiteMissing), exitPrerequisite},
		{fmt.Errorf("acquire: %w", &lock.HeldError{PID: 7}), exitLocked},
		{orchestrator.ErrRelayUnavailable, exitRelay},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
