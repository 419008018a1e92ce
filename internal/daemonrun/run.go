package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"streamkeeper/internal/config"
	"streamkeeper/internal/daemon"
	"streamkeeper/internal/ipc"
	"streamkeeper/internal/journal"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/metrics"
	"streamkeeper/internal/orchestrator"
	"streamkeeper/internal/preflight"
	"streamkeeper/internal/statestore"
)

const (
	currentLogName = "streamkeeper.log"
	shutdownGrace  = 30 * time.Second
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Console mirrors log output to stdout in console format. The detached
	// daemon leaves it off: its stdout is discarded.
	Console bool
}

// Run hosts the daemon in the current process until SIGINT/SIGTERM, an IPC
// stop request, or a fatal orchestrator error. Startup failures are returned
// unwrapped enough for errors.Is against the orchestrator sentinels.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("%w: %w", preflight.ErrPrerequisiteMissing, err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("streamkeeper-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := buildLogger(cfg, opts, level, logPath, runID)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", currentLogName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "streamkeeper-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: cfg.StreamLogDir(), Pattern: "*.log"},
	)
	logDependencySnapshot(logger, cfg)

	mtr := metrics.New()
	orchOpts := orchestrator.DefaultOptions(cfg, logger)
	orchOpts.Metrics = mtr

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.JournalPath())
		if err != nil {
			logging.WarnWithContext(logger, "event journal unavailable; continuing without history", "journal_open_failed",
				logging.Error(err),
				logging.String("path", cfg.JournalPath()),
				logging.String(logging.FieldErrorHint, "check state_dir permissions or set journal.enabled = false"),
				logging.String(logging.FieldImpact, "status shows no recent events"),
			)
		} else {
			defer store.Close()
			recorder := journal.NewRecorder(store, logger)
			// Runs after d.Close so pending entries from shutdown are kept.
			defer recorder.Close()
			orchOpts.Recorder = recorder
			orchOpts.History = store
		}
	}

	orch := orchestrator.New(orchOpts)
	d, err := daemon.New(cfg, orch, logger,
		daemon.WithMetrics(mtr),
		daemon.WithNotifier(orchOpts.Notifier),
		daemon.WithLogPath(logPath),
	)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, startHint(err)),
		)
		return err
	}

	// The lock is held from here on, so the socket and pid file are ours.
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = statestore.Remove(pidPath) }()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	waitErr := d.Wait(signalCtx)
	if waitErr != nil {
		logging.ErrorWithContext(logger, "orchestrator stopped on a fatal error", "daemon_fatal",
			logging.Error(waitErr),
			logging.String(logging.FieldErrorHint, startHint(waitErr)),
		)
	}
	logger.Info("streamkeeper daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"),
	)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil && waitErr == nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	return waitErr
}

// buildLogger writes the run log in the configured format and, for foreground
// runs, tees a console rendering to stdout.
func buildLogger(cfg *config.Config, opts Options, level, logPath, runID string) (*slog.Logger, error) {
	fileHandler, err := logging.NewHandler(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{logPath},
		Development: opts.Development,
		RunID:       runID,
	})
	if err != nil {
		return nil, err
	}
	if !opts.Console {
		return slog.New(fileHandler), nil
	}
	consoleHandler, err := logging.NewHandler(logging.Options{
		Level:       level,
		Format:      "console",
		OutputPaths: []string{"stdout"},
		Development: opts.Development,
	})
	if err != nil {
		return nil, err
	}
	return slog.New(logging.TeeHandler(fileHandler, consoleHandler)), nil
}

func startHint(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrPrerequisiteMissing):
		return "install the missing binaries or fix directory permissions, then run streamkeeper status"
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return "use streamkeeper status to inspect the running instance"
	case errors.Is(err, orchestrator.ErrRelayUnavailable):
		return "check the relay binary, its config file, and that the control address is free"
	default:
		return "check configuration and the daemon log"
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return statestore.WritePID(path, os.Getpid())
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, dep := range preflight.CheckSystemDeps(cfg) {
		key := strings.ReplaceAll(strings.ToLower(dep.Name), " ", "_")
		attrs = append(attrs,
			logging.Bool(key+"_available", dep.Available),
			logging.String(key+"_binary", dep.Command),
		)
	}
	attrs = append(attrs,
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("api_enabled", strings.TrimSpace(cfg.Paths.APIBind) != ""),
		logging.Bool("journal_enabled", cfg.Journal.Enabled),
	)
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
