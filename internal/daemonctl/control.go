package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"streamkeeper/internal/config"
	"streamkeeper/internal/daemon"
	"streamkeeper/internal/ipc"
	"streamkeeper/internal/journal"
	"streamkeeper/internal/logs"
	"streamkeeper/internal/preflight"
	"streamkeeper/internal/proc"
	"streamkeeper/internal/statestore"
)

const (
	pollInterval     = 200 * time.Millisecond
	earlyExitLines   = 20
	offlineEventRows = 10
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// EarlyExitError reports a launched daemon that exited before its IPC socket
// came up. ExitCode is the daemon's own exit status.
type EarlyExitError struct {
	ExitCode int
	LogTail  []string
}

func (e *EarlyExitError) Error() string {
	return fmt.Sprintf("daemon exited during startup with code %d", e.ExitCode)
}

// Child is a daemon process launched by this CLI.
type Child struct {
	PID      int
	launched time.Time
	done     chan struct{}
	exitCode int
}

// Exited reports whether the child has exited and its exit code.
func (c *Child) Exited() (bool, int) {
	select {
	case <-c.done:
		return true, c.exitCode
	default:
		return false, 0
	}
}

// Launch starts a detached daemon process in its own session. Output goes to
// the daemon's log file, not the terminal.
func Launch(executablePath string, opts LaunchOptions) (*Child, error) {
	if strings.TrimSpace(executablePath) == "" {
		return nil, errors.New("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	cmd := exec.Command(executablePath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch daemon: %w", err)
	}
	child := &Child{PID: cmd.Process.Pid, launched: time.Now(), done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		child.exitCode = cmd.ProcessState.ExitCode()
		close(child.done)
	}()
	return child, nil
}

// StartState describes what EnsureStarted found or did.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State  StartState
	PID    int
	Status daemon.Status
}

// EnsureStarted launches the daemon unless one already answers on the socket,
// then waits for it to answer. A daemon that exits first yields an
// *EarlyExitError carrying its exit code and the tail of its log.
func EnsureStarted(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if status, err := queryStatus(cfg.SocketPath()); err == nil {
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID, Status: status}, nil
	}

	child, err := Launch(executablePath, opts)
	if err != nil {
		return StartResult{}, err
	}

	deadline := time.NewTimer(waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if status, err := queryStatus(cfg.SocketPath()); err == nil && status.Running {
			return StartResult{State: StartStateStarted, PID: status.PID, Status: status}, nil
		}
		if exited, code := child.Exited(); exited {
			return StartResult{}, &EarlyExitError{ExitCode: code, LogTail: runLogTail(ctx, cfg, child.launched)}
		}
		select {
		case <-ctx.Done():
			return StartResult{}, ctx.Err()
		case <-deadline.C:
			return StartResult{}, fmt.Errorf("daemon (pid %d) did not open %s within %s", child.PID, cfg.SocketPath(), waitTimeout)
		case <-ticker.C:
		}
	}
}

// runLogTail returns the last lines of the current run log when it was
// written after since, so a previous run's log is never shown.
func runLogTail(ctx context.Context, cfg *config.Config, since time.Time) []string {
	path := filepath.Join(cfg.Paths.LogDir, "streamkeeper.log")
	info, err := os.Stat(path)
	if err != nil || info.ModTime().Before(since.Add(-time.Second)) {
		return nil
	}
	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: earlyExitLines})
	if err != nil {
		return nil
	}
	return result.Lines
}

func queryStatus(socketPath string) (daemon.Status, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return daemon.Status{}, err
	}
	defer client.Close()
	resp, err := client.Status()
	if err != nil {
		return daemon.Status{}, err
	}
	return resp.Status, nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// StopAndTerminate asks the daemon to stop and sends SIGKILL if it is still
// alive after gracePeriod. Pipelines of a killed daemon keep running and are
// adopted by the next start.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	result := StopResult{}
	if resp, statusErr := client.Status(); statusErr == nil {
		result.PID = resp.Status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return result, err
	}
	result.StopAcknowledged = resp.Stopped

	if result.PID == 0 {
		result.PID = readPID(cfg.PIDPath())
	}
	if WaitForExit(result.PID, gracePeriod) {
		return result, nil
	}

	killed, err := ForceKillProcess(cfg, result.PID)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// WaitForExit polls until pid is gone or timeout elapses.
func WaitForExit(pid int, timeout time.Duration) bool {
	if pid <= 0 {
		return true
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !proc.Alive(pid) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return !proc.Alive(pid)
}

// ForceKillProcess sends SIGKILL to the daemon and removes its pid file and
// socket. The flock is released by the kernel when the process dies.
func ForceKillProcess(cfg *config.Config, fallbackPID int) (int, error) {
	pid := readPID(cfg.PIDPath())
	if pid <= 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", cfg.PIDPath())
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	WaitForExit(pid, 2*time.Second)
	for _, path := range []string{cfg.PIDPath(), cfg.SocketPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return pid, fmt.Errorf("remove %q: %w", path, err)
		}
	}
	return pid, nil
}

func readPID(path string) int {
	pid, err := statestore.ReadPID(path)
	if err != nil {
		return 0
	}
	return pid
}

// RestartResult captures stop/start outcomes for a full daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Restart stops the daemon process if running, then starts a new one.
func Restart(ctx context.Context, cfg *config.Config, executablePath string, opts LaunchOptions, stopGrace, startWait time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(cfg, stopGrace)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}
	startResult, err := EnsureStarted(ctx, cfg, executablePath, opts, startWait)
	if err != nil {
		return RestartResult{WasRunning: stopErr == nil, Stop: stopResult}, err
	}
	return RestartResult{WasRunning: stopErr == nil, Stop: stopResult, Start: startResult}, nil
}

// InPlaceRestart asks the running daemon to restart pipelines and the relay.
func InPlaceRestart(cfg *config.Config) (*ipc.RestartResponse, error) {
	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		if isDaemonUnavailable(err) {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}
	defer client.Close()
	return client.Restart()
}

// StatusReport is what `streamkeeper status` renders. When the daemon is not
// reachable, Daemon carries only paths and dependencies and RecentEvents is
// read from the journal directly.
type StatusReport struct {
	Reachable    bool               `json:"reachable"`
	Daemon       daemon.Status      `json:"daemon"`
	Checks       []preflight.Result `json:"checks"`
	RecentEvents []journal.Entry    `json:"recent_events,omitempty"`
}

// BuildStatus queries the daemon and falls back to offline sources.
func BuildStatus(ctx context.Context, cfg *config.Config) (StatusReport, error) {
	if cfg == nil {
		return StatusReport{}, errors.New("configuration not available")
	}
	report := StatusReport{Checks: preflight.RunAll(cfg)}

	status, err := queryStatus(cfg.SocketPath())
	if err == nil {
		report.Reachable = true
		report.Daemon = status
		return report, nil
	}

	report.Daemon = daemon.Status{
		LockPath:     cfg.LockPath(),
		SocketPath:   cfg.SocketPath(),
		Dependencies: preflight.CheckSystemDeps(cfg),
	}
	if pid := readPID(cfg.PIDPath()); pid > 0 && proc.Alive(pid) {
		report.Daemon.PID = pid
		report.Daemon.LastError = fmt.Sprintf("process %d is alive but not answering on %s", pid, cfg.SocketPath())
	}
	if cfg.Journal.Enabled {
		report.RecentEvents = offlineEvents(ctx, cfg.JournalPath())
	}
	return report, nil
}

func offlineEvents(ctx context.Context, path string) []journal.Entry {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	store, err := journal.Open(path)
	if err != nil {
		return nil
	}
	defer store.Close()
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	entries, err := store.Recent(queryCtx, "", offlineEventRows)
	if err != nil {
		return nil
	}
	return entries
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
