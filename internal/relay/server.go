package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"streamkeeper/internal/config"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/proc"
	"streamkeeper/internal/statestore"
)

var (
	// ErrNotReady reports a relay that did not answer its control endpoint
	// within the readiness timeout.
	ErrNotReady = errors.New("relay did not become ready")
	// ErrExited reports a relay process that exited during startup.
	ErrExited = errors.New("relay exited during startup")
)

const (
	probePath    = "/v3/paths/list"
	probeTimeout = 2 * time.Second
	pollInterval = 250 * time.Millisecond
)

// Options configures a Server.
type Options struct {
	Binary           string
	ConfigPath       string
	APIAddress       string
	RTSPAddress      string
	PIDPath          string
	LogPath          string
	ReadinessTimeout time.Duration
	StopGrace        time.Duration
	Client           *http.Client
}

// OptionsFromConfig builds relay options from the daemon configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Binary:           cfg.Relay.Binary,
		ConfigPath:       cfg.Relay.ConfigPath,
		APIAddress:       cfg.Relay.APIAddress,
		RTSPAddress:      cfg.Relay.RTSPAddress,
		PIDPath:          cfg.RelayPIDPath(),
		LogPath:          filepath.Join(cfg.Paths.LogDir, "relay.log"),
		ReadinessTimeout: cfg.RelayReadinessTimeout(),
		StopGrace:        cfg.RelayStopGrace(),
	}
}

// Status describes the relay from the daemon's point of view.
type Status struct {
	Running     bool
	Owned       bool
	External    bool
	PID         int
	APIAddress  string
	RTSPAddress string
	Paths       []string
}

// Server is the handle to the relay server. Callers serialize access.
type Server struct {
	opts     Options
	client   *http.Client
	logger   *slog.Logger
	handle   *proc.Handle
	external bool
	paths    []string
	up       bool
}

// NewServer constructs a relay handle. Nothing is started.
func NewServer(opts Options, logger *slog.Logger) *Server {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Server{
		opts:   opts,
		client: client,
		logger: logging.NewComponentLogger(logger, "relay"),
	}
}

// ControlURL returns the URL probed for readiness.
func (s *Server) ControlURL() string {
	return "http://" + s.opts.APIAddress + probePath
}

// Probe checks the relay control endpoint once.
func (s *Server) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ControlURL(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay control endpoint returned %s", resp.Status)
	}
	return nil
}

// SetPaths records the publish paths and rewrites the relay configuration
// when they changed.
func (s *Server) SetPaths(paths []string) error {
	s.paths = append(s.paths[:0], paths...)
	changed, err := WriteConfig(s.opts.ConfigPath, s.opts.APIAddress, s.opts.RTSPAddress, s.paths)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("relay configuration written",
			logging.String(logging.FieldEventType, "relay_config_written"),
			logging.String("path", s.opts.ConfigPath),
			logging.Int("paths", len(s.paths)),
		)
	}
	return nil
}

// Ensure makes the relay available. An already running owned process or a
// relay answering on the control address is reused; otherwise the binary is
// spawned and its control endpoint polled until ReadinessTimeout.
func (s *Server) Ensure(ctx context.Context) error {
	if s.handle != nil && s.handle.Running() {
		if err := s.Probe(ctx); err == nil {
			s.up = true
			return nil
		}
	}
	if s.handle == nil && s.adopt() {
		if err := s.waitReady(ctx); err == nil {
			return nil
		}
	}
	if s.handle == nil {
		if err := s.Probe(ctx); err == nil {
			if !s.external {
				s.logger.Info("using externally managed relay",
					logging.String(logging.FieldEventType, "relay_external"),
					logging.String("api_address", s.opts.APIAddress),
				)
			}
			s.external = true
			s.up = true
			return nil
		}
	}
	s.external = false
	return s.spawn(ctx)
}

func (s *Server) adopt() bool {
	pid, err := statestore.ReadPID(s.opts.PIDPath)
	if err != nil || pid <= 0 {
		return false
	}
	if !proc.AliveAs(pid, s.opts.Binary) {
		_ = statestore.Remove(s.opts.PIDPath)
		return false
	}
	h, err := proc.Adopt(pid, s.opts.LogPath)
	if err != nil {
		_ = statestore.Remove(s.opts.PIDPath)
		return false
	}
	s.handle = h
	s.logger.Info("adopted running relay",
		logging.String(logging.FieldEventType, "relay_adopted"),
		logging.PID(pid),
	)
	return true
}

func (s *Server) spawn(ctx context.Context) error {
	if s.handle != nil {
		_, _ = s.handle.Terminate(ctx, s.opts.StopGrace)
		s.handle = nil
	}
	if _, err := WriteConfig(s.opts.ConfigPath, s.opts.APIAddress, s.opts.RTSPAddress, s.paths); err != nil {
		return err
	}
	h, err := proc.Spawn(proc.Spec{
		Path:    s.opts.Binary,
		Args:    []string{s.opts.ConfigPath},
		LogPath: s.opts.LogPath,
	})
	if err != nil {
		return fmt.Errorf("start relay %s: %w", s.opts.Binary, err)
	}
	s.handle = h
	if err := statestore.WritePID(s.opts.PIDPath, h.PID); err != nil {
		s.logger.Warn("failed to record relay pid",
			logging.Error(err),
			logging.String(logging.FieldEventType, "relay_pid_write_failed"),
			logging.String(logging.FieldErrorHint, "check run directory permissions"),
			logging.String(logging.FieldImpact, "relay is not adopted after a daemon restart"),
		)
	}
	s.logger.Info("relay started",
		logging.String(logging.FieldEventType, "relay_started"),
		logging.PID(h.PID),
		logging.String("config", s.opts.ConfigPath),
	)
	if err := s.waitReady(ctx); err != nil {
		_ = s.Stop(context.Background())
		return err
	}
	return nil
}

func (s *Server) waitReady(ctx context.Context) error {
	timeout := s.opts.ReadinessTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if s.handle != nil && !s.handle.Running() {
			return fmt.Errorf("%w: %s (see %s)", ErrExited, s.opts.Binary, s.opts.LogPath)
		}
		if lastErr = s.Probe(ctx); lastErr == nil {
			s.up = true
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s after %s: %v", ErrNotReady, s.ControlURL(), timeout, lastErr)
		case <-ticker.C:
		}
	}
}

// Alive reports whether the relay is up: the owned process is running and
// the control endpoint answers. External relays are judged by the endpoint
// alone.
func (s *Server) Alive(ctx context.Context) bool {
	if s.handle != nil && !s.handle.Running() {
		s.up = false
		return false
	}
	s.up = s.Probe(ctx) == nil
	return s.up
}

// Restart stops an owned relay and ensures a fresh one. A vanished external
// relay is replaced by an owned one.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.external = false
	return s.Ensure(ctx)
}

// Stop terminates the relay only if this process owns it. It is idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.up = false
	if s.handle == nil {
		return nil
	}
	h := s.handle
	s.handle = nil
	_ = statestore.Remove(s.opts.PIDPath)
	forced, err := h.Terminate(ctx, s.opts.StopGrace)
	if forced {
		s.logger.Warn("relay ignored SIGTERM; killed",
			logging.String(logging.FieldEventType, "relay_killed"),
			logging.PID(h.PID),
			logging.String(logging.FieldErrorHint, "relay did not exit within the stop grace"),
			logging.String(logging.FieldImpact, "none"),
		)
	}
	if err != nil {
		return fmt.Errorf("stop relay: %w", err)
	}
	s.logger.Info("relay stopped",
		logging.String(logging.FieldEventType, "relay_stopped"),
		logging.PID(h.PID),
	)
	return nil
}

// Status returns a snapshot.
func (s *Server) Status() Status {
	st := Status{
		Running:     s.up,
		Owned:       s.handle != nil,
		External:    s.external && s.handle == nil,
		APIAddress:  s.opts.APIAddress,
		RTSPAddress: s.opts.RTSPAddress,
		Paths:       append([]string(nil), s.paths...),
	}
	if s.handle != nil {
		st.PID = s.handle.PID
	}
	return st
}
