package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"streamkeeper/internal/encoder"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/statestore"
)

var (
	// ErrUnrecoverable is returned by Start after the restart budget ran out.
	ErrUnrecoverable = errors.New("pipeline exhausted its restart budget")
	// ErrHeld is returned by Start while a hold is in place.
	ErrHeld = errors.New("pipeline restarts are on hold")
)

// Action tells the control loop what Recover decided.
type Action int

const (
	ActionNone Action = iota
	// ActionScheduled means a restart was scheduled after a cooldown.
	ActionScheduled
	// ActionRestartDue means the cooldown elapsed and Start should be called.
	ActionRestartDue
	// ActionGaveUp means the budget is spent and the pipeline is now stopped.
	ActionGaveUp
)

// Options configures a Supervisor.
type Options struct {
	Stream     string
	DeviceUUID string
	RunDir     string
	LogPath    string
	Policy     Policy
	Launcher   Launcher
	Probe      encoder.VerificationProbe
	Sink       EventSink
	Logger     *slog.Logger
	Now        func() time.Time
}

// Supervisor manages one pipeline. It is not safe for concurrent use; the
// control loop is its only caller.
type Supervisor struct {
	stream     string
	deviceUUID string
	pidPath    string
	recordPath string
	logPath    string
	policy     Policy
	launcher   Launcher
	probe      encoder.VerificationProbe
	sink       EventSink
	logger     *slog.Logger
	now        func() time.Time

	state         State
	proc          Process
	adopted       bool
	input         string
	cfg           encoder.StreamConfig
	record        restartRecord
	runningSince  time.Time
	cooldownUntil time.Time
	freeRestart   bool
	holds         map[HoldReason]struct{}
	unrecoverable bool
	lastErr       string
	generation    int
}

// New builds a supervisor and loads its persisted restart record.
func New(opts Options) *Supervisor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Supervisor{
		stream:     opts.Stream,
		deviceUUID: opts.DeviceUUID,
		pidPath:    LivenessPath(opts.RunDir, opts.Stream),
		recordPath: filepath.Join(opts.RunDir, opts.Stream+".state"),
		logPath:    opts.LogPath,
		policy:     opts.Policy,
		launcher:   opts.Launcher,
		probe:      opts.Probe,
		sink:       opts.Sink,
		logger:     logging.NewComponentLogger(opts.Logger, "supervisor").With(logging.Stream(opts.Stream)),
		now:        now,
		holds:      make(map[HoldReason]struct{}),
	}
	rec, err := loadRecord(s.recordPath)
	if err != nil {
		logging.WarnWithContext(s.logger, "restart record unreadable; starting from zero", "restart_record_unreadable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+s.recordPath+" if it is corrupt"),
			logging.String(logging.FieldImpact, "restart budget resets"),
		)
	}
	s.record = rec
	return s
}

// Stream returns the stream name.
func (s *Supervisor) Stream() string { return s.stream }

// DeviceUUID returns the device the stream captures from.
func (s *Supervisor) DeviceUUID() string { return s.deviceUUID }

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return s.state }

// LivenessPath returns the file recording the pid of stream's pipeline.
func LivenessPath(runDir, stream string) string {
	return filepath.Join(runDir, stream+".pid")
}

// PIDPath returns the liveness record path.
func (s *Supervisor) PIDPath() string { return s.pidPath }

// Start launches the pipeline on input. It is a no-op while a pipeline is
// already running. A live process recorded in the liveness file is adopted
// instead of launching a duplicate.
func (s *Supervisor) Start(input string, cfg encoder.StreamConfig) error {
	if s.proc != nil && s.proc.Running() {
		return nil
	}
	if s.unrecoverable {
		return ErrUnrecoverable
	}
	if len(s.holds) > 0 {
		return ErrHeld
	}
	s.input = input
	s.cfg = cfg

	if s.tryAdopt() {
		return nil
	}

	// The attempt spends the free restart owed for a held exit, whether or
	// not the launch succeeds.
	s.freeRestart = false
	s.setState(StateStarting)
	proc, err := s.launcher.Launch(LaunchSpec{Stream: s.stream, Input: input, Config: cfg, LogPath: s.logPath})
	if err != nil {
		s.lastErr = err.Error()
		s.setState(StateFailed)
		s.emit(EventLaunchFailed, err.Error())
		s.logger.Warn("pipeline launch failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "pipeline_launch_failed"),
			logging.String(logging.FieldErrorHint, "check the encoder binary and device"),
			logging.String(logging.FieldImpact, "restart will be scheduled"),
		)
		return err
	}
	s.proc = proc
	s.adopted = false
	if err := statestore.WritePID(s.pidPath, proc.PID()); err != nil {
		s.logger.Warn("failed to record pipeline pid",
			logging.Error(err),
			logging.String(logging.FieldEventType, "liveness_write_failed"),
			logging.String(logging.FieldErrorHint, "check run directory permissions"),
			logging.String(logging.FieldImpact, "pipeline cannot be adopted after a daemon restart"),
		)
	}
	s.record.LastStartedAt = proc.StartedAt()
	s.persist()
	s.generation++
	s.setState(StateVerifying)
	s.emit(EventStarted, input)
	s.logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_started"),
		logging.PID(proc.PID()),
		logging.String("input", input),
		logging.Int("restart_count", s.record.RestartCount),
	)
	return nil
}

func (s *Supervisor) tryAdopt() bool {
	pid, err := statestore.ReadPID(s.pidPath)
	if err != nil || pid <= 0 {
		if err != nil {
			_ = statestore.Remove(s.pidPath)
		}
		return false
	}
	proc, err := s.launcher.Adopt(pid, s.logPath)
	if err != nil {
		s.logger.Info("removing stale liveness record",
			logging.String(logging.FieldEventType, "liveness_stale"),
			logging.PID(pid),
		)
		_ = statestore.Remove(s.pidPath)
		return false
	}
	s.proc = proc
	s.adopted = true
	s.runningSince = proc.StartedAt()
	s.setState(StateRunning)
	s.emit(EventAdopted, "")
	s.logger.Info("adopted running pipeline",
		logging.String(logging.FieldEventType, "pipeline_adopted"),
		logging.PID(pid),
	)
	return true
}

// VerifyJob returns the pending verification for a freshly started
// pipeline, or nil when there is nothing to verify.
func (s *Supervisor) VerifyJob() *VerifyJob {
	if s.state != StateVerifying || s.proc == nil || s.probe == nil {
		return nil
	}
	return &VerifyJob{
		Stream:     s.stream,
		Generation: s.generation,
		probe:      s.probe,
		timeout:    s.policy.VerifyTimeout,
		target: encoder.VerifyTarget{
			Stream:  s.stream,
			LogPath: s.logPath,
			Exited:  s.proc.Exited(),
		},
	}
}

// Verify runs verification synchronously and applies the result.
func (s *Supervisor) Verify(ctx context.Context) encoder.Verification {
	job := s.VerifyJob()
	if job == nil {
		return encoder.Verification{Verdict: encoder.VerdictAssumedHealthy, Reason: "nothing to verify"}
	}
	res := job.Run(ctx)
	s.CompleteVerification(ctx, res)
	return res.Verification
}

// CompleteVerification applies a verification result produced by a job.
// Results for an earlier start are ignored.
func (s *Supervisor) CompleteVerification(ctx context.Context, res VerifyResult) {
	if res.Generation != s.generation || s.state != StateVerifying {
		return
	}
	v := res.Verification
	if v.Verdict.Healthy() {
		s.runningSince = s.now()
		s.setState(StateRunning)
		s.emit(EventVerified, v.Verdict.String())
		s.logger.Info("pipeline verified",
			logging.String(logging.FieldEventType, "pipeline_verified"),
			logging.String("verdict", v.Verdict.String()),
			logging.String("marker", v.Marker),
		)
		return
	}

	s.lastErr = v.Reason
	s.terminate(ctx)
	s.countExit(0)
	s.setState(StateFailed)
	s.emit(EventVerifyFailed, v.Reason)
	s.logger.Warn("pipeline verification failed",
		logging.String(logging.FieldEventType, "pipeline_verify_failed"),
		logging.String("reason", v.Reason),
		logging.String(logging.FieldErrorHint, "inspect the stream log at "+s.logPath),
		logging.String(logging.FieldImpact, "restart will be scheduled"),
	)
}

// Monitor observes the pipeline process and the stability window. It never
// restarts anything; see Recover.
func (s *Supervisor) Monitor(ctx context.Context) {
	now := s.now()
	if (s.state == StateVerifying || s.state == StateRunning) && s.proc != nil && !s.proc.Running() {
		runtime := now.Sub(s.proc.StartedAt())
		detail := "process exited"
		if err := s.proc.ExitErr(); err != nil {
			detail = err.Error()
		}
		pid := s.proc.PID()
		s.lastErr = detail
		s.proc = nil
		s.adopted = false
		_ = statestore.Remove(s.pidPath)
		s.countExit(runtime)
		s.setState(StateFailed)
		s.emit(EventExited, detail)
		s.logger.Warn("pipeline exited",
			logging.String(logging.FieldEventType, "pipeline_exited"),
			logging.PID(pid),
			logging.Duration("runtime", runtime),
			logging.String("detail", detail),
			logging.Int("flaps", s.record.Flaps),
			logging.String(logging.FieldErrorHint, "inspect the stream log at "+s.logPath),
			logging.String(logging.FieldImpact, "stream is offline until restarted"),
		)
		return
	}

	if s.state == StateRunning && s.policy.StabilityWindow > 0 &&
		(s.record.RestartCount > 0 || s.record.Flaps > 0) &&
		now.Sub(s.runningSince) >= s.policy.StabilityWindow {
		s.record.RestartCount = 0
		s.record.Flaps = 0
		s.persist()
		s.emit(EventCountersReset, "")
		s.logger.Info("pipeline stable; restart counters reset",
			logging.String(logging.FieldEventType, "pipeline_stable"),
		)
	}
}

// countExit updates the flap counter for a run that lasted runtime. Exits
// while held are not counted, and the restart that follows is free.
func (s *Supervisor) countExit(runtime time.Duration) {
	if len(s.holds) > 0 {
		s.freeRestart = true
		return
	}
	if runtime < s.policy.MinRuntime {
		s.record.Flaps++
	} else {
		s.record.Flaps = 0
	}
	s.persist()
}

// Recover advances a failed pipeline towards its next start.
func (s *Supervisor) Recover() Action {
	now := s.now()
	switch s.state {
	case StateFailed:
		if len(s.holds) > 0 || s.freeRestart {
			s.freeRestart = true
			s.cooldownUntil = now.Add(s.policy.Cooldown(0))
			s.setState(StateCooldown)
			return ActionNone
		}
		if s.record.RestartCount >= s.policy.MaxRestarts {
			s.unrecoverable = true
			s.cooldownUntil = time.Time{}
			s.setState(StateStopped)
			s.emit(EventUnrecoverable, s.lastErr)
			s.logger.Error("pipeline exhausted restart budget",
				logging.String(logging.FieldEventType, "pipeline_unrecoverable"),
				logging.Int("restart_count", s.record.RestartCount),
				logging.String("last_error", s.lastErr),
				logging.String(logging.FieldErrorHint, "fix the cause, then run restart"),
				logging.String(logging.FieldImpact, "stream stays offline"),
			)
			return ActionGaveUp
		}
		s.record.RestartCount++
		s.persist()
		delay := s.policy.Cooldown(s.record.Flaps)
		s.cooldownUntil = now.Add(delay)
		s.setState(StateCooldown)
		s.emit(EventRestartScheduled, delay.String())
		s.logger.Info("pipeline restart scheduled",
			logging.String(logging.FieldEventType, "pipeline_restart_scheduled"),
			logging.Duration("cooldown", delay),
			logging.Int("restart_count", s.record.RestartCount),
			logging.Int("max_restarts", s.policy.MaxRestarts),
		)
		return ActionScheduled
	case StateCooldown:
		if len(s.holds) > 0 || now.Before(s.cooldownUntil) {
			return ActionNone
		}
		return ActionRestartDue
	default:
		return ActionNone
	}
}

// Restart starts the pipeline again with the last known input and config.
func (s *Supervisor) Restart() error {
	return s.Start(s.input, s.cfg)
}

// Hold pauses restarts for reason. A running pipeline is left alone.
func (s *Supervisor) Hold(reason HoldReason) {
	if _, ok := s.holds[reason]; ok {
		return
	}
	s.holds[reason] = struct{}{}
	s.emit(EventHeld, string(reason))
	s.logger.Info("pipeline restarts held",
		logging.String(logging.FieldEventType, "pipeline_held"),
		logging.String("reason", string(reason)),
	)
}

// Release removes a hold.
func (s *Supervisor) Release(reason HoldReason) {
	if _, ok := s.holds[reason]; !ok {
		return
	}
	delete(s.holds, reason)
	s.emit(EventReleased, string(reason))
	s.logger.Info("pipeline hold released",
		logging.String(logging.FieldEventType, "pipeline_released"),
		logging.String("reason", string(reason)),
	)
}

// Held reports whether reason is in place.
func (s *Supervisor) Held(reason HoldReason) bool {
	_, ok := s.holds[reason]
	return ok
}

// Stop terminates the pipeline and removes its liveness record. Stopping a
// stopped pipeline is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.state == StateStopped && s.proc == nil {
		return nil
	}
	err := s.terminate(ctx)
	s.cooldownUntil = time.Time{}
	s.setState(StateStopped)
	s.emit(EventStopped, "")
	s.logger.Info("pipeline stopped", logging.String(logging.FieldEventType, "pipeline_stopped"))
	return err
}

func (s *Supervisor) terminate(ctx context.Context) error {
	var err error
	if s.proc != nil {
		var forced bool
		forced, err = s.proc.Terminate(ctx, s.policy.StopGrace)
		if forced {
			s.logger.Warn("pipeline ignored SIGTERM; killed",
				logging.String(logging.FieldEventType, "pipeline_killed"),
				logging.PID(s.proc.PID()),
				logging.String(logging.FieldErrorHint, "encoder did not exit within the stop grace"),
				logging.String(logging.FieldImpact, "none"),
			)
		}
		if err != nil {
			err = fmt.Errorf("stop %s: %w", s.stream, err)
		}
		s.proc = nil
		s.adopted = false
	}
	_ = statestore.Remove(s.pidPath)
	return err
}

// Reset clears the unrecoverable mark and the persisted counters.
func (s *Supervisor) Reset() {
	s.unrecoverable = false
	s.record = restartRecord{LastStartedAt: s.record.LastStartedAt}
	s.freeRestart = false
	s.lastErr = ""
	s.persist()
}

// Status returns a snapshot.
func (s *Supervisor) Status() Status {
	st := Status{
		Stream:        s.stream,
		DeviceUUID:    s.deviceUUID,
		State:         s.state,
		RestartCount:  s.record.RestartCount,
		MaxRestarts:   s.policy.MaxRestarts,
		Flaps:         s.record.Flaps,
		LastStartedAt: s.record.LastStartedAt,
		LastError:     s.lastErr,
		Unrecoverable: s.unrecoverable,
		Adopted:       s.adopted,
		PublishPaths:  s.cfg.PublishPaths(s.stream),
	}
	if s.proc != nil {
		st.PID = s.proc.PID()
	}
	if s.state == StateRunning {
		st.RunningSince = s.runningSince
	}
	if s.state == StateCooldown {
		st.CooldownUntil = s.cooldownUntil
	}
	for reason := range s.holds {
		st.Holds = append(st.Holds, reason)
	}
	sort.Slice(st.Holds, func(i, j int) bool { return st.Holds[i] < st.Holds[j] })
	return st
}

func (s *Supervisor) setState(state State) {
	s.state = state
}

func (s *Supervisor) persist() {
	if err := saveRecord(s.recordPath, s.record); err != nil {
		s.logger.Warn("failed to persist restart record",
			logging.Error(err),
			logging.String(logging.FieldEventType, "restart_record_write_failed"),
			logging.String(logging.FieldErrorHint, "check run directory permissions"),
			logging.String(logging.FieldImpact, "restart budget resets after a daemon restart"),
		)
	}
}

func (s *Supervisor) emit(kind EventKind, detail string) {
	if s.sink == nil {
		return
	}
	ev := Event{
		Kind:         kind,
		Stream:       s.stream,
		DeviceUUID:   s.deviceUUID,
		State:        s.state,
		RestartCount: s.record.RestartCount,
		Detail:       detail,
		At:           s.now(),
	}
	if s.proc != nil {
		ev.PID = s.proc.PID()
	}
	s.sink.Record(ev)
}
