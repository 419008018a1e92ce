package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"streamkeeper/internal/config"
	"streamkeeper/internal/devices"
	"streamkeeper/internal/encoder"
	"streamkeeper/internal/journal"
	"streamkeeper/internal/lock"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/metrics"
	"streamkeeper/internal/notifications"
	"streamkeeper/internal/preflight"
	"streamkeeper/internal/relay"
	"streamkeeper/internal/supervisor"
)

const (
	hotplugDebounce = 2 * time.Second
	notifyTimeout   = 15 * time.Second
	recentEvents    = 10
)

// Options wires an Orchestrator. Config, Relay, Discoverer and Launcher are
// required; the rest are optional. Preflight runs before the lock is taken.
type Options struct {
	Config     *config.Config
	Relay      Relay
	Discoverer Discoverer
	Launcher   supervisor.Launcher
	Probe      encoder.VerificationProbe
	Recorder   *journal.Recorder
	History    *journal.Store
	Metrics    *metrics.Metrics
	Notifier   notifications.Service
	Logger     *slog.Logger
	Now        func() time.Time
	Preflight  func() error
}

// DefaultOptions builds the production collaborators from cfg.
func DefaultOptions(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Config:     cfg,
		Relay:      relay.NewServer(relay.OptionsFromConfig(cfg), logger),
		Discoverer: devices.NewResolver(devices.OptionsFromConfig(cfg), logger),
		Launcher:   supervisor.EncoderLauncher{Options: encoder.CommandOptionsFromConfig(cfg)},
		Probe: encoder.LogMarkerProbe{
			SuccessMarkers: cfg.Encoder.SuccessMarkers,
			ErrorMarkers:   cfg.Encoder.ErrorMarkers,
			Timeout:        time.Duration(cfg.Supervisor.VerifyTimeout) * time.Second,
		},
		Notifier:  notifications.NewService(cfg),
		Logger:    logger,
		Preflight: func() error { return preflight.Verify(cfg) },
	}
}

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// stream is the loop-owned record of one device's pipeline.
type stream struct {
	sup     *supervisor.Supervisor
	device  devices.AudioDevice
	cfg     encoder.StreamConfig
	absent  bool
	alerted bool
}

// Orchestrator is the control loop.
type Orchestrator struct {
	cfg         *config.Config
	relay       Relay
	discoverer  Discoverer
	launcher    supervisor.Launcher
	probe       encoder.VerificationProbe
	recorder    *journal.Recorder
	history     *journal.Store
	metrics     *metrics.Metrics
	notifier    notifications.Service
	logger      *slog.Logger
	now         func() time.Time
	preflight   func() error
	lockMgr     *lock.Manager
	policy      supervisor.Policy
	defaults    encoder.StreamConfig
	publishBase string

	// Owned by the loop goroutine.
	streams          map[string]*stream
	relayDown        bool
	relayRestarts    int
	relayUpSince     time.Time
	deviceCount      int
	lastDiscovery    time.Time
	lastDiscoveryErr string

	commands      chan command
	verifyResults chan supervisor.VerifyResult
	discoverNow   chan struct{}
	workers       sync.WaitGroup

	mu         sync.Mutex
	running    bool
	startedAt  time.Time
	lockHandle *lock.Handle
	cancel     context.CancelFunc
	loopDone   chan struct{}
	fatalErr   error
	hotplug    *devices.HotplugWatcher
}

// New constructs an orchestrator. Nothing starts until Start.
func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{})
	}
	cfg := opts.Config
	return &Orchestrator{
		cfg:           cfg,
		relay:         opts.Relay,
		discoverer:    opts.Discoverer,
		launcher:      opts.Launcher,
		probe:         opts.Probe,
		recorder:      opts.Recorder,
		history:       opts.History,
		metrics:       opts.Metrics,
		notifier:      notifier,
		logger:        logging.NewComponentLogger(opts.Logger, "orchestrator"),
		now:           now,
		preflight:     opts.Preflight,
		lockMgr:       lock.NewManager(cfg.LockPath()),
		policy:        supervisor.PolicyFromConfig(cfg),
		defaults:      encoder.DefaultsFromConfig(cfg),
		publishBase:   encoder.PublishBase(cfg.Relay.PublishHost, cfg.Relay.RTSPAddress),
		streams:       make(map[string]*stream),
		commands:      make(chan command),
		verifyResults: make(chan supervisor.VerifyResult, 8),
		discoverNow:   make(chan struct{}, 1),
		loopDone:      make(chan struct{}),
	}
}

// Start checks prerequisites, acquires the instance lock, ensures the relay,
// runs the first discovery pass, and launches the control loop. It returns
// ErrPrerequisiteMissing, ErrAlreadyRunning when another live process holds
// the lock, or ErrRelayUnavailable when the relay cannot be brought up.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	if o.preflight != nil {
		if err := o.preflight(); err != nil {
			return err
		}
	}

	res, err := o.lockMgr.Acquire(ctx, o.cfg.LockTimeout())
	if err != nil {
		return err
	}
	if res.Outcome != lock.Acquired {
		return fmt.Errorf("%w: %w", ErrAlreadyRunning, res.Err(o.lockMgr.Path()))
	}
	o.lockHandle = res.Handle

	if err := o.relay.Ensure(ctx); err != nil {
		_ = o.lockHandle.Release()
		o.record(journal.Entry{Source: journal.SourceRelay, Kind: "relay_start_failed", Detail: err.Error()})
		return fmt.Errorf("%w: %w", ErrRelayUnavailable, err)
	}
	o.relayUpSince = o.now()
	o.metrics.SetRelayUp(true)

	loopCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.startedAt = o.now()
	o.running = true

	if o.cfg.Health.Hotplug {
		o.hotplug = devices.NewHotplugWatcher(o.logger, hotplugDebounce, o.TriggerDiscovery)
		_ = o.hotplug.Start(loopCtx)
	}

	o.discover(loopCtx)
	go o.loop(loopCtx)

	o.record(journal.Entry{Source: journal.SourceDaemon, Kind: "daemon_started"})
	o.logger.Info("orchestrator started",
		logging.String(logging.FieldEventType, "orchestrator_started"),
		logging.Int("streams", len(o.streams)),
		logging.Bool("relay_owned", o.relay.Status().Owned),
	)
	return nil
}

// Stop stops every pipeline, stops the relay when this instance started it,
// and releases the lock. It is safe to call more than once and after the
// loop ended on its own.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	o.hotplug.Stop()
	cancel()
	<-o.loopDone

	var errs []error
	for _, s := range o.sortedStreams() {
		if err := s.sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.relay.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	o.workers.Wait()

	o.record(journal.Entry{Source: journal.SourceDaemon, Kind: "daemon_stopped"})
	o.mu.Lock()
	if err := o.lockHandle.Release(); err != nil {
		errs = append(errs, err)
	}
	o.mu.Unlock()

	o.logger.Info("orchestrator stopped", logging.String(logging.FieldEventType, "orchestrator_stopped"))
	return errors.Join(errs...)
}

// Done is closed when the control loop exits, either because Stop was
// called or because of a fatal relay outage (see Err).
func (o *Orchestrator) Done() <-chan struct{} {
	return o.loopDone
}

// Err returns the fatal error that ended the loop, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fatalErr
}

// TriggerDiscovery asks the loop to run a discovery pass soon. It never
// blocks.
func (o *Orchestrator) TriggerDiscovery() {
	select {
	case o.discoverNow <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the relay and every stream, plus recent
// journal events when a journal is configured.
func (o *Orchestrator) Status(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := o.exec(ctx, func(context.Context) error {
		snap = o.snapshot()
		return nil
	}); err != nil {
		return Snapshot{}, err
	}
	if o.history != nil {
		if entries, err := o.history.Recent(ctx, "", recentEvents); err == nil {
			snap.RecentEvents = eventRecords(entries)
		}
	}
	return snap, nil
}

// Restart stops every pipeline, clears restart budgets, restarts the relay,
// and brings the pipelines back through a fresh discovery pass.
func (o *Orchestrator) Restart(ctx context.Context) error {
	return o.exec(ctx, func(ctx context.Context) error {
		o.logger.Info("restarting all pipelines and relay",
			logging.String(logging.FieldEventType, "orchestrator_restart"),
		)
		for _, s := range o.sortedStreams() {
			if err := s.sup.Stop(ctx); err != nil {
				o.logger.Warn("pipeline stop failed during restart",
					logging.Error(err),
					logging.Stream(s.sup.Stream()),
					logging.String(logging.FieldEventType, "pipeline_stop_failed"),
					logging.String(logging.FieldErrorHint, "a stray encoder may still hold the device"),
					logging.String(logging.FieldImpact, "restart of this stream may fail"),
				)
			}
			s.sup.Reset()
		}
		o.relayRestarts = 0
		if err := o.relay.Restart(ctx); err != nil {
			o.markRelayDown()
			return fmt.Errorf("%w: %w", ErrRelayUnavailable, err)
		}
		o.markRelayUp()
		o.discover(ctx)
		return nil
	})
}

func (o *Orchestrator) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case o.commands <- cmd:
	case <-o.loopDone:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.loopDone)

	health := time.NewTicker(o.cfg.HealthInterval())
	defer health.Stop()
	discovery := time.NewTicker(o.cfg.DiscoveryInterval())
	defer discovery.Stop()
	maintenance := time.NewTicker(6 * time.Hour)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-o.commands:
			cmd.reply <- cmd.fn(ctx)
		case res := <-o.verifyResults:
			o.completeVerification(ctx, res)
		case <-health.C:
			if err := o.healthTick(ctx); err != nil {
				o.mu.Lock()
				o.fatalErr = err
				o.mu.Unlock()
				return
			}
		case <-discovery.C:
			o.discover(ctx)
		case <-o.discoverNow:
			o.discover(ctx)
		case <-maintenance.C:
			o.pruneJournal(ctx)
		}
	}
}

func (o *Orchestrator) pruneJournal(ctx context.Context) {
	if o.history == nil || o.cfg.Journal.RetentionDays <= 0 {
		return
	}
	cutoff := o.now().Add(-time.Duration(o.cfg.Journal.RetentionDays) * 24 * time.Hour)
	if n, err := o.history.Prune(ctx, cutoff); err != nil {
		o.logger.Warn("journal prune failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "journal_prune_failed"),
			logging.String(logging.FieldErrorHint, "check "+o.history.Path()),
			logging.String(logging.FieldImpact, "journal keeps growing"),
		)
	} else if n > 0 {
		o.logger.Debug("journal pruned", logging.Int64("rows", n))
	}
}

func (o *Orchestrator) sortedStreams() []*stream {
	out := make([]*stream, 0, len(o.streams))
	for _, s := range o.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sup.Stream() < out[j].sup.Stream() })
	return out
}

func (o *Orchestrator) streamByName(name string) *stream {
	for _, s := range o.streams {
		if s.sup.Stream() == name {
			return s
		}
	}
	return nil
}

func (o *Orchestrator) snapshot() Snapshot {
	rs := o.relay.Status()
	snap := Snapshot{
		PID:       os.Getpid(),
		StartedAt: o.startedAt,
		Relay: RelayStatus{
			Running:     rs.Running && !o.relayDown,
			Owned:       rs.Owned,
			External:    rs.External,
			PID:         rs.PID,
			APIAddress:  rs.APIAddress,
			RTSPAddress: rs.RTSPAddress,
			Restarts:    o.relayRestarts,
			MaxRestarts: o.cfg.Relay.MaxRestarts,
		},
		DevicesDiscovered:  o.deviceCount,
		LastDiscovery:      o.lastDiscovery,
		LastDiscoveryError: o.lastDiscoveryErr,
		Hotplug:            o.hotplug.Running(),
	}
	for _, s := range o.sortedStreams() {
		st := s.sup.Status()
		entry := StreamStatus{
			Name:          st.Stream,
			DeviceUUID:    st.DeviceUUID,
			Device:        s.device.RawName,
			Input:         s.device.ALSARef(),
			State:         st.State.String(),
			PID:           st.PID,
			RestartCount:  st.RestartCount,
			MaxRestarts:   st.MaxRestarts,
			Flaps:         st.Flaps,
			RunningSince:  timePtr(st.RunningSince),
			CooldownUntil: timePtr(st.CooldownUntil),
			LastStartedAt: timePtr(st.LastStartedAt),
			LastError:     st.LastError,
			Unrecoverable: st.Unrecoverable,
			Adopted:       st.Adopted,
			Present:       !s.absent,
		}
		for _, h := range st.Holds {
			entry.Holds = append(entry.Holds, string(h))
		}
		for _, p := range s.cfg.PublishPaths(st.Stream) {
			entry.URLs = append(entry.URLs, encoder.PublishURL(o.publishBase, p))
		}
		snap.Streams = append(snap.Streams, entry)
	}
	return snap
}
