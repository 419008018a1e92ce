package proc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamkeeper/internal/proc"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestSpawnWritesLogAndReaps(t *testing.T) {
	script := writeScript(t, "echo hello from child\nexit 3")
	logPath := filepath.Join(t.TempDir(), "logs", "child.log")

	h, err := proc.Spawn(proc.Spec{Path: script, LogPath: logPath})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.PID <= 0 || h.PGID != h.PID {
		t.Fatalf("expected own process group, pid=%d pgid=%d", h.PID, h.PGID)
	}
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child was not reaped")
	}
	if !h.Exited() || h.Running() {
		t.Fatal("expected exited handle")
	}
	if h.ExitErr() == nil {
		t.Fatal("expected non-nil exit error for status 3")
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello from child") {
		t.Fatalf("log missing child output: %q", data)
	}
}

func TestTerminateGraceful(t *testing.T) {
	script := writeScript(t, "sleep 30 &\nwait")
	h, err := proc.Spawn(proc.Spec{Path: script})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !proc.Alive(h.PID) {
		t.Fatal("expected spawned process alive")
	}

	forced, err := h.Terminate(context.Background(), 3*time.Second)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if forced {
		t.Fatal("expected graceful termination")
	}
	if proc.GroupAlive(h.PGID) {
		t.Fatal("expected whole process group gone")
	}

	forced, err = h.Terminate(context.Background(), time.Second)
	if err != nil || forced {
		t.Fatalf("second Terminate should be a no-op, got forced=%v err=%v", forced, err)
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	script := writeScript(t, "trap '' TERM\nsleep 30 &\nwait\nsleep 30")
	h, err := proc.Spawn(proc.Spec{Path: script})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	forced, err := h.Terminate(context.Background(), 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !forced {
		t.Fatal("expected escalation to SIGKILL")
	}
	if h.Running() {
		t.Fatal("expected process gone after SIGKILL")
	}
}

func TestAdoptTracksForeignProcess(t *testing.T) {
	script := writeScript(t, "sleep 30")
	h, err := proc.Spawn(proc.Spec{Path: script})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() { _, _ = h.Terminate(context.Background(), time.Second) })

	adopted, err := proc.Adopt(h.PID, "")
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if adopted.PGID != h.PGID {
		t.Fatalf("expected pgid %d, got %d", h.PGID, adopted.PGID)
	}
	if !adopted.Running() {
		t.Fatal("expected adopted process running")
	}

	if _, err := adopted.Terminate(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Terminate adopted: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return !adopted.Running() }) {
		t.Fatal("adopted process still running")
	}

	if _, err := proc.Adopt(0, ""); err == nil {
		t.Fatal("expected error adopting pid 0")
	}
}

func TestAliveRejectsMissingPID(t *testing.T) {
	if proc.Alive(-1) || proc.Alive(0) {
		t.Fatal("non-positive pids are never alive")
	}
	if !proc.Alive(os.Getpid()) {
		t.Fatal("expected current process alive")
	}
	if proc.AliveAs(os.Getpid(), "definitely-not-this-binary") {
		t.Fatal("expected name mismatch to be rejected")
	}
}
