package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"streamkeeper/internal/config"
	"streamkeeper/internal/deps"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/metrics"
	"streamkeeper/internal/notifications"
	"streamkeeper/internal/orchestrator"
	"streamkeeper/internal/preflight"
)

// ErrAlreadyStarted is returned by Start on a running daemon.
var ErrAlreadyStarted = errors.New("daemon already running")

// Orchestrator is the control loop hosted by the daemon.
type Orchestrator interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Status(ctx context.Context) (orchestrator.Snapshot, error)
	Done() <-chan struct{}
	Err() error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	PID          int                    `json:"pid"`
	StartedAt    time.Time              `json:"started_at"`
	LockPath     string                 `json:"lock_path"`
	SocketPath   string                 `json:"socket_path"`
	LogPath      string                 `json:"log_path"`
	JournalPath  string                 `json:"journal_path,omitempty"`
	APIAddress   string                 `json:"api_address,omitempty"`
	Snapshot     *orchestrator.Snapshot `json:"snapshot,omitempty"`
	Dependencies []deps.Status          `json:"dependencies"`
	LastError    string                 `json:"last_error,omitempty"`
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithNotifier overrides the notifier used by TestNotification.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) { d.notifier = n }
}

// WithLogPath records the current run's log file for status output.
func WithLogPath(path string) Option {
	return func(d *Daemon) { d.logPath = path }
}

// Daemon coordinates the orchestrator and the HTTP API.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	orch     Orchestrator
	metrics  *metrics.Metrics
	notifier notifications.Service
	logPath  string

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	api       *apiServer

	stopRequested chan struct{}
	requestOnce   sync.Once
}

// New constructs a daemon around orch. Nothing starts until Start.
func New(cfg *config.Config, orch Orchestrator, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || orch == nil {
		return nil, errors.New("daemon requires config and orchestrator")
	}
	d := &Daemon{
		cfg:           cfg,
		logger:        logging.NewComponentLogger(logger, "daemon"),
		orch:          orch,
		stopRequested: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	return d, nil
}

// Start launches the orchestrator, then the HTTP API when paths.api_bind is
// set. An API that cannot listen stops the orchestrator again.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrAlreadyStarted
	}

	if err := d.orch.Start(ctx); err != nil {
		return err
	}

	api := newAPIServer(d.cfg, d, d.metrics, d.logger)
	if err := api.start(); err != nil {
		_ = d.orch.Stop(ctx)
		return fmt.Errorf("start http api on %s: %w", d.cfg.Paths.APIBind, err)
	}
	d.api = api
	d.running = true
	d.startedAt = time.Now()
	d.logger.Info("streamkeeper daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.cfg.LockPath()),
		logging.String("api", api.address()),
	)
	return nil
}

// Stop shuts down the HTTP API and the orchestrator. Safe to call more than
// once.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	d.api.stop()
	d.api = nil
	err := d.orch.Stop(ctx)
	d.logger.Info("streamkeeper daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
	return err
}

// RequestStop asks the hosting process to shut down. It returns
// immediately; see Wait.
func (d *Daemon) RequestStop() {
	d.requestOnce.Do(func() { close(d.stopRequested) })
}

// Wait blocks until ctx is cancelled, RequestStop is called, or the
// orchestrator loop ends on its own. In the last case it returns the
// orchestrator's fatal error.
func (d *Daemon) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-d.stopRequested:
		return nil
	case <-d.orch.Done():
		return d.orch.Err()
	}
}

// Restart restarts every pipeline and the relay in place.
func (d *Daemon) Restart(ctx context.Context) error {
	return d.orch.Restart(ctx)
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// LogPath returns the path to the current run's log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// StreamLogDir returns the directory holding per-stream pipeline logs.
func (d *Daemon) StreamLogDir() string {
	return d.cfg.StreamLogDir()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	running := d.running
	startedAt := d.startedAt
	apiAddr := d.api.address()
	d.mu.Unlock()

	status := Status{
		Running:      running,
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		LockPath:     d.cfg.LockPath(),
		SocketPath:   d.cfg.SocketPath(),
		LogPath:      d.logPath,
		APIAddress:   apiAddr,
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
	if d.cfg.Journal.Enabled {
		status.JournalPath = d.cfg.JournalPath()
	}
	if !running {
		return status
	}
	snap, err := d.orch.Status(ctx)
	if err != nil {
		status.LastError = err.Error()
		return status
	}
	status.Snapshot = &snap
	return status
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Close stops the daemon with a bounded grace period.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.Stop(ctx)
}
