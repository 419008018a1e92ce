package encoder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newProbe(timeout time.Duration) LogMarkerProbe {
	return LogMarkerProbe{
		SuccessMarkers: []string{"Output #0"},
		ErrorMarkers:   []string{"Device or resource busy"},
		Timeout:        timeout,
		PollInterval:   5 * time.Millisecond,
	}
}

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestLogMarkerProbeSuccess(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "s.log")
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(logPath, []byte("Input #0...\nOutput #0, rtsp\n"), 0o644)
	}()

	got := newProbe(2*time.Second).Verify(context.Background(), VerifyTarget{LogPath: logPath})
	if got.Verdict != VerdictHealthy || got.Marker != "Output #0" {
		t.Fatalf("unexpected verification %+v", got)
	}
}

func TestLogMarkerProbeErrorMarkerWins(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "s.log")
	writeLog(t, logPath, "Output #0\n[alsa] cannot open audio device: Device or resource busy\n")

	got := newProbe(time.Second).Verify(context.Background(), VerifyTarget{LogPath: logPath})
	if got.Verdict != VerdictFailed {
		t.Fatalf("expected failure, got %+v", got)
	}
}

func TestLogMarkerProbeSilentTimeoutAssumesHealthy(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "s.log")
	writeLog(t, logPath, "starting\n")

	start := time.Now()
	got := newProbe(40*time.Millisecond).Verify(context.Background(), VerifyTarget{LogPath: logPath})
	if got.Verdict != VerdictAssumedHealthy || !got.Verdict.Healthy() {
		t.Fatalf("expected assumed healthy, got %+v", got)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("expected probe to wait for the timeout")
	}
}

func TestLogMarkerProbeExitFailsImmediately(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "s.log")
	writeLog(t, logPath, "Output #0\n")
	exited := make(chan struct{})
	close(exited)

	start := time.Now()
	got := newProbe(5*time.Second).Verify(context.Background(), VerifyTarget{LogPath: logPath, Exited: exited})
	if got.Verdict != VerdictFailed {
		t.Fatalf("expected failure for exited process, got %+v", got)
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected immediate failure")
	}
}

func TestLogMarkerProbeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := newProbe(5*time.Second).Verify(ctx, VerifyTarget{LogPath: filepath.Join(t.TempDir(), "none.log")})
	if got.Verdict != VerdictFailed {
		t.Fatalf("expected failure on cancellation, got %+v", got)
	}
}

func TestVerdictString(t *testing.T) {
	if VerdictAssumedHealthy.String() != "assumed_healthy" || VerdictFailed.Healthy() {
		t.Fatal("unexpected verdict helpers")
	}
}
