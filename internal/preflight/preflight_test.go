package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"streamkeeper/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(nil); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestVerifyPassesWithStubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyNamesMissingBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	cfg.Relay.Binary = "streamkeeper-missing-relay"

	err := Verify(cfg)
	if !errors.Is(err, ErrPrerequisiteMissing) {
		t.Fatalf("err = %v, want ErrPrerequisiteMissing", err)
	}
	if !strings.Contains(err.Error(), "streamkeeper-missing-relay") {
		t.Fatalf("error does not name the binary: %v", err)
	}
	missing := MissingBinaries(cfg)
	if len(missing) != 1 || missing[0].Name != "Relay" {
		t.Fatalf("missing = %#v", missing)
	}
}

func TestProbeBinaryOptionalWhenProbingDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffmpeg", "mediamtx"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	cfg.Discovery.ProbeBinary = "streamkeeper-missing-probe"
	cfg.Discovery.Probe = false
	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify with probing disabled: %v", err)
	}

	cfg.Discovery.Probe = true
	if err := Verify(cfg); !errors.Is(err, ErrPrerequisiteMissing) {
		t.Fatalf("err = %v, want ErrPrerequisiteMissing", err)
	}
}
