package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"streamkeeper/internal/encoder"
	"streamkeeper/internal/logging"
)

type fakeProcess struct {
	pid     int
	started time.Time
	alive   bool
	exited  chan struct{}
	stops   int
}

func (p *fakeProcess) PID() int                { return p.pid }
func (p *fakeProcess) StartedAt() time.Time    { return p.started }
func (p *fakeProcess) Running() bool           { return p.alive }
func (p *fakeProcess) Exited() <-chan struct{} { return p.exited }
func (p *fakeProcess) ExitErr() error          { return nil }

func (p *fakeProcess) Terminate(context.Context, time.Duration) (bool, error) {
	p.stops++
	p.die()
	return false, nil
}

func (p *fakeProcess) die() {
	if p.alive {
		p.alive = false
		close(p.exited)
	}
}

type fakeLauncher struct {
	clock     *clock
	nextPID   int
	launched  []*fakeProcess
	specs     []LaunchSpec
	launchErr error
	adoptable map[int]bool
}

func (l *fakeLauncher) Launch(spec LaunchSpec) (Process, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.nextPID++
	p := &fakeProcess{pid: 1000 + l.nextPID, started: l.clock.now, alive: true, exited: make(chan struct{})}
	l.launched = append(l.launched, p)
	l.specs = append(l.specs, spec)
	return p, nil
}

func (l *fakeLauncher) Adopt(pid int, _ string) (Process, error) {
	if !l.adoptable[pid] {
		return nil, ErrNotAdoptable
	}
	p := &fakeProcess{pid: pid, started: l.clock.now.Add(-time.Hour), alive: true}
	l.launched = append(l.launched, p)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	return l.launched[len(l.launched)-1]
}

type clock struct{ now time.Time }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fixedProbe struct{ verdict encoder.Verdict }

func (p fixedProbe) Verify(context.Context, encoder.VerifyTarget) encoder.Verification {
	return encoder.Verification{Verdict: p.verdict, Reason: "scripted"}
}

type eventLog struct{ kinds []EventKind }

func (e *eventLog) Record(ev Event) { e.kinds = append(e.kinds, ev.Kind) }

func (e *eventLog) has(kind EventKind) bool {
	for _, k := range e.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type harness struct {
	sup      *Supervisor
	launcher *fakeLauncher
	clock    *clock
	events   *eventLog
	runDir   string
}

func testPolicy() Policy {
	return Policy{
		MaxRestarts:      3,
		StabilityWindow:  5 * time.Minute,
		MinRuntime:       30 * time.Second,
		CooldownBase:     5 * time.Second,
		FlapCooldownBase: 15 * time.Second,
		CooldownMax:      2 * time.Minute,
		VerifyTimeout:    time.Second,
		StopGrace:        time.Second,
	}
}

func newHarness(t *testing.T, verdict encoder.Verdict) *harness {
	t.Helper()
	runDir := t.TempDir()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	launcher := &fakeLauncher{clock: clk}
	events := &eventLog{}
	sup := New(Options{
		Stream:     "rode_ai_micro",
		DeviceUUID: "uuid-1",
		RunDir:     runDir,
		LogPath:    filepath.Join(runDir, "rode_ai_micro.log"),
		Policy:     testPolicy(),
		Launcher:   launcher,
		Probe:      fixedProbe{verdict: verdict},
		Sink:       events,
		Logger:     logging.NewNop(),
		Now:        func() time.Time { return clk.now },
	})
	return &harness{sup: sup, launcher: launcher, clock: clk, events: events, runDir: runDir}
}

func (h *harness) startVerified(t *testing.T) {
	t.Helper()
	if err := h.sup.Start("hw:CARD=Micro,DEV=0", encoder.StreamConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.sup.Verify(context.Background())
}

func TestStartVerifiesAndRecordsLiveness(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)

	if h.sup.State() != StateRunning {
		t.Fatalf("expected running, got %s", h.sup.State())
	}
	data, err := os.ReadFile(h.sup.PIDPath())
	if err != nil {
		t.Fatalf("read liveness: %v", err)
	}
	if got := string(data); got != strconv.Itoa(h.launcher.last().pid)+"\n" {
		t.Fatalf("unexpected liveness content %q", got)
	}
	if !h.events.has(EventStarted) || !h.events.has(EventVerified) {
		t.Fatalf("missing events: %v", h.events.kinds)
	}
}

func TestStartIsNoOpWhileRunning(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)
	if err := h.sup.Start("hw:CARD=Micro,DEV=0", encoder.StreamConfig{}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if len(h.launcher.launched) != 1 {
		t.Fatalf("expected a single launch, got %d", len(h.launcher.launched))
	}
}

func TestFailedVerificationTerminatesAndFails(t *testing.T) {
	h := newHarness(t, encoder.VerdictFailed)
	h.startVerified(t)

	if h.sup.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.sup.State())
	}
	if h.launcher.last().stops != 1 {
		t.Fatal("expected the failed pipeline to be terminated")
	}
	if _, err := os.Stat(h.sup.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected liveness removed, stat err=%v", err)
	}
}

func TestStaleVerificationResultIgnored(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	if err := h.sup.Start("hw:0", encoder.StreamConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := h.sup.VerifyJob()
	if job == nil {
		t.Fatal("expected a verify job")
	}
	res := VerifyResult{Stream: job.Stream, Generation: job.Generation - 1,
		Verification: encoder.Verification{Verdict: encoder.VerdictHealthy}}
	h.sup.CompleteVerification(context.Background(), res)
	if h.sup.State() != StateVerifying {
		t.Fatalf("stale result changed state to %s", h.sup.State())
	}
}

func TestFlappingGrowsCooldownAndExhaustsBudget(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)

	var cooldowns []time.Duration
	for i := 0; i < 3; i++ {
		h.clock.advance(2 * time.Second)
		h.launcher.last().die()
		h.sup.Monitor(context.Background())
		if h.sup.State() != StateFailed {
			t.Fatalf("round %d: expected failed, got %s", i, h.sup.State())
		}
		if got := h.sup.Recover(); got != ActionScheduled {
			t.Fatalf("round %d: expected scheduled, got %v", i, got)
		}
		st := h.sup.Status()
		cooldowns = append(cooldowns, st.CooldownUntil.Sub(h.clock.now))
		if h.sup.Recover() != ActionNone {
			t.Fatalf("round %d: restart due before cooldown elapsed", i)
		}
		h.clock.advance(cooldowns[i])
		if got := h.sup.Recover(); got != ActionRestartDue {
			t.Fatalf("round %d: expected restart due, got %v", i, got)
		}
		if err := h.sup.Restart(); err != nil {
			t.Fatalf("round %d: Restart: %v", i, err)
		}
		h.sup.Verify(context.Background())
	}

	want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second}
	for i := range want {
		if cooldowns[i] != want[i] {
			t.Fatalf("cooldowns = %v, want %v", cooldowns, want)
		}
	}

	h.clock.advance(time.Second)
	h.launcher.last().die()
	h.sup.Monitor(context.Background())
	if got := h.sup.Recover(); got != ActionGaveUp {
		t.Fatalf("expected give up, got %v", got)
	}
	st := h.sup.Status()
	if st.State != StateStopped || !st.Unrecoverable {
		t.Fatalf("expected terminal stopped, got %+v", st)
	}
	if err := h.sup.Start("hw:0", encoder.StreamConfig{}); !errors.Is(err, ErrUnrecoverable) {
		t.Fatalf("expected ErrUnrecoverable, got %v", err)
	}

	h.sup.Reset()
	if err := h.sup.Start("hw:0", encoder.StreamConfig{}); err != nil {
		t.Fatalf("Start after Reset: %v", err)
	}
}

func TestLongRunExitUsesBaseCooldown(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)
	h.clock.advance(time.Minute)
	h.launcher.last().die()
	h.sup.Monitor(context.Background())
	h.sup.Recover()
	if got := h.sup.Status().CooldownUntil.Sub(h.clock.now); got != 5*time.Second {
		t.Fatalf("expected base cooldown, got %s", got)
	}
}

func TestStabilityWindowResetsCounters(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)
	h.launcher.last().die()
	h.sup.Monitor(context.Background())
	h.sup.Recover()
	h.clock.advance(time.Minute)
	h.sup.Recover()
	if err := h.sup.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	h.sup.Verify(context.Background())
	if h.sup.Status().RestartCount != 1 {
		t.Fatalf("expected one restart, got %d", h.sup.Status().RestartCount)
	}

	h.clock.advance(6 * time.Minute)
	h.sup.Monitor(context.Background())
	st := h.sup.Status()
	if st.RestartCount != 0 || st.Flaps != 0 {
		t.Fatalf("expected counters reset, got %+v", st)
	}
	if !h.events.has(EventCountersReset) {
		t.Fatal("expected counters_reset event")
	}
}

func TestHeldFailureDoesNotSpendBudget(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)

	h.sup.Hold(HoldRelayDown)
	h.launcher.last().die()
	h.sup.Monitor(context.Background())
	if got := h.sup.Recover(); got != ActionNone {
		t.Fatalf("expected no action while held, got %v", got)
	}
	if h.sup.Recover() != ActionNone {
		t.Fatal("restart due while held")
	}
	if err := h.sup.Start("hw:0", encoder.StreamConfig{}); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	h.sup.Release(HoldRelayDown)
	if got := h.sup.Recover(); got != ActionNone {
		t.Fatalf("expected base cooldown after release, got %v", got)
	}
	h.clock.advance(5 * time.Second)
	if got := h.sup.Recover(); got != ActionRestartDue {
		t.Fatalf("expected restart due after release, got %v", got)
	}
	if err := h.sup.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	st := h.sup.Status()
	if st.RestartCount != 0 || st.Flaps != 0 {
		t.Fatalf("held failure was counted: %+v", st)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)
	proc := h.launcher.last()

	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if proc.stops != 1 {
		t.Fatalf("expected one terminate, got %d", proc.stops)
	}
	if h.sup.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", h.sup.State())
	}
	if _, err := os.Stat(h.sup.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected liveness removed, stat err=%v", err)
	}
}

func TestStartAdoptsLiveRecordedPipeline(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	if err := os.WriteFile(h.sup.PIDPath(), []byte("4321\n"), 0o644); err != nil {
		t.Fatalf("write liveness: %v", err)
	}
	h.launcher.adoptable = map[int]bool{4321: true}

	if err := h.sup.Start("hw:0", encoder.StreamConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := h.sup.Status()
	if st.State != StateRunning || !st.Adopted || st.PID != 4321 {
		t.Fatalf("expected adopted running pipeline, got %+v", st)
	}
	if len(h.launcher.specs) != 0 {
		t.Fatal("expected no new launch")
	}
}

func TestStartReplacesStaleLiveness(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	if err := os.WriteFile(h.sup.PIDPath(), []byte("4321\n"), 0o644); err != nil {
		t.Fatalf("write liveness: %v", err)
	}
	if err := h.sup.Start("hw:0", encoder.StreamConfig{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(h.launcher.specs) != 1 {
		t.Fatalf("expected a fresh launch, got %d", len(h.launcher.specs))
	}
	data, _ := os.ReadFile(h.sup.PIDPath())
	if string(data) == "4321\n" {
		t.Fatal("stale pid was not replaced")
	}
}

func TestLaunchFailureSchedulesRestart(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.launcher.launchErr = errors.New("exec: not found")
	if err := h.sup.Start("hw:0", encoder.StreamConfig{}); err == nil {
		t.Fatal("expected launch error")
	}
	if h.sup.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.sup.State())
	}
	if got := h.sup.Recover(); got != ActionScheduled {
		t.Fatalf("expected scheduled, got %v", got)
	}
}

func TestRestartRecordSurvivesNewSupervisor(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)
	h.launcher.last().die()
	h.sup.Monitor(context.Background())
	h.sup.Recover()

	again := New(Options{
		Stream:   "rode_ai_micro",
		RunDir:   h.runDir,
		Policy:   testPolicy(),
		Launcher: h.launcher,
		Logger:   logging.NewNop(),
	})
	st := again.Status()
	if st.RestartCount != 1 || st.Flaps != 1 {
		t.Fatalf("expected persisted counters, got %+v", st)
	}
}

func TestExitWhileHeldStaysFreeAfterRelease(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)

	h.sup.Hold(HoldRelayDown)
	h.launcher.last().die()
	h.sup.Monitor(context.Background())
	h.sup.Release(HoldRelayDown)

	if got := h.sup.Recover(); got != ActionNone {
		t.Fatalf("expected free cooldown, got %v", got)
	}
	if st := h.sup.Status(); st.RestartCount != 0 || st.State != StateCooldown {
		t.Fatalf("held exit consumed budget: %+v", st)
	}
}

func TestLaunchFailureAfterHeldExitSpendsBudget(t *testing.T) {
	h := newHarness(t, encoder.VerdictHealthy)
	h.startVerified(t)

	h.sup.Hold(HoldRelayDown)
	h.launcher.last().die()
	h.sup.Monitor(context.Background())
	h.sup.Release(HoldRelayDown)
	h.launcher.launchErr = errors.New("exec: not found")

	gaveUp := false
	for i := 0; i < 30 && !gaveUp; i++ {
		switch h.sup.Recover() {
		case ActionGaveUp:
			gaveUp = true
		case ActionRestartDue:
			if err := h.sup.Restart(); err == nil {
				t.Fatal("expected launch error")
			}
		default:
			h.clock.advance(2 * time.Minute)
		}
	}
	if !gaveUp {
		t.Fatalf("failing launches never exhausted the budget: %+v", h.sup.Status())
	}
	st := h.sup.Status()
	if st.RestartCount != testPolicy().MaxRestarts || st.State != StateStopped {
		t.Fatalf("unexpected final status: %+v", st)
	}
	if !h.events.has(EventUnrecoverable) {
		t.Fatal("expected unrecoverable event")
	}
}
