package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"streamkeeper/internal/logging"
	"streamkeeper/internal/orchestrator"
	"streamkeeper/internal/testsupport"
)

type fakeOrchestrator struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	restarts int
	snap     orchestrator.Snapshot
	done     chan struct{}
	fatal    error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		done: make(chan struct{}),
		snap: orchestrator.Snapshot{
			Relay: orchestrator.RelayStatus{Running: true, Owned: true},
			Streams: []orchestrator.StreamStatus{
				{Name: "rode_ai_micro", State: "running", URLs: []string{"rtsp://127.0.0.1:8554/rode_ai_micro"}},
				{Name: "usb_audio_1", State: "cooldown"},
			},
			RecentEvents: []orchestrator.EventRecord{
				{Source: "stream", Stream: "rode_ai_micro", Kind: "verified"},
				{Source: "relay", Kind: "relay_restarted"},
			},
		},
	}
}

func (f *fakeOrchestrator) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeOrchestrator) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeOrchestrator) Restart(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeOrchestrator) Status(context.Context) (orchestrator.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeOrchestrator) Done() <-chan struct{} { return f.done }
func (f *fakeOrchestrator) Err() error            { return f.fatal }

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	orch := newFakeOrchestrator()
	d, err := New(cfg, orch, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.Snapshot == nil {
		t.Fatalf("expected running status with snapshot, got %+v", status)
	}
	if len(status.Snapshot.Streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(status.Snapshot.Streams))
	}
	if status.LockPath != cfg.LockPath() || status.SocketPath != cfg.SocketPath() {
		t.Fatalf("unexpected paths: %+v", status)
	}

	if err := d.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start err = %v, want ErrAlreadyStarted", err)
	}

	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if orch.stops != 1 {
		t.Fatalf("orchestrator stops = %d, want 1", orch.stops)
	}
	if status := d.Status(ctx); status.Running || status.Snapshot != nil {
		t.Fatalf("expected stopped status, got %+v", status)
	}
}

func TestDaemonStartPropagatesOrchestratorError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	orch := newFakeOrchestrator()
	orch.startErr = fmt.Errorf("%w: held by pid 42", orchestrator.ErrAlreadyRunning)
	d, err := New(cfg, orch, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, orchestrator.ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	if d.Running() {
		t.Fatal("daemon reports running after failed start")
	}
}

func TestDaemonAPIBindFailureStopsOrchestrator(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	t.Cleanup(func() { _ = busy.Close() })

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = busy.Addr().String()
	orch := newFakeOrchestrator()
	d, err := New(cfg, orch, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail on a busy api address")
	}
	if orch.stops != 1 {
		t.Fatalf("orchestrator stops = %d, want 1", orch.stops)
	}
}

func TestDaemonServesHealthOverHTTP(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	d, err := New(cfg, newFakeOrchestrator(), logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop(ctx) })

	addr := d.Status(ctx).APIAddress
	if addr == "" {
		t.Fatal("expected api address in status")
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDaemonWait(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	t.Run("stop request", func(t *testing.T) {
		d, _ := New(cfg, newFakeOrchestrator(), logging.NewNop())
		d.RequestStop()
		d.RequestStop()
		if err := d.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	})

	t.Run("orchestrator failure", func(t *testing.T) {
		orch := newFakeOrchestrator()
		orch.fatal = fmt.Errorf("%w: relay gone", orchestrator.ErrRelayUnavailable)
		close(orch.done)
		d, _ := New(cfg, orch, logging.NewNop())
		if err := d.Wait(context.Background()); !errors.Is(err, orchestrator.ErrRelayUnavailable) {
			t.Fatalf("Wait err = %v, want ErrRelayUnavailable", err)
		}
	})
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := New(cfg, newFakeOrchestrator(), logging.NewNop())
	sent, message, err := d.TestNotification(context.Background())
	if err != nil || sent {
		t.Fatalf("sent=%v err=%v", sent, err)
	}
	if message != "ntfy topic not configured" {
		t.Fatalf("message = %q", message)
	}
}
