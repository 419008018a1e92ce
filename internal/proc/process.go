package proc

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

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Spec describes a subprocess to launch.
type Spec struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	LogPath string
}

// Handle is the owning reference to one running process group.
type Handle struct {
	PID       int
	PGID      int
	StartedAt time.Time
	LogPath   string

	cmd     *exec.Cmd
	logFile *os.File
	done    chan struct{}
	waitErr error
	adopted bool
}

// Spawn starts spec in a new process group with stdout and stderr appended to
// spec.LogPath. The returned handle reaps the process in the background.
func Spawn(spec Spec) (*Handle, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, errors.New("spawn: executable path is empty")
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open process log %s: %w", spec.LogPath, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("start %s: %w", filepath.Base(spec.Path), err)
	}

	h := &Handle{
		PID:       cmd.Process.Pid,
		PGID:      cmd.Process.Pid,
		StartedAt: time.Now(),
		LogPath:   spec.LogPath,
		cmd:       cmd,
		logFile:   logFile,
		done:      make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	if h.logFile != nil {
		_ = h.logFile.Close()
	}
	h.waitErr = err
	close(h.done)
}

// Adopt attaches to a process started by an earlier run. The process is not a
// child of the caller, so liveness is polled instead of reaped.
func Adopt(pid int, logPath string) (*Handle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("adopt: invalid pid %d", pid)
	}
	if !Alive(pid) {
		return nil, fmt.Errorf("adopt: pid %d is not running", pid)
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		pgid = pid
	}
	started := time.Now()
	if p, err := process.NewProcess(int32(pid)); err == nil {
		if ms, err := p.CreateTime(); err == nil && ms > 0 {
			started = time.UnixMilli(ms)
		}
	}
	return &Handle{
		PID:       pid,
		PGID:      pgid,
		StartedAt: started,
		LogPath:   logPath,
		done:      make(chan struct{}),
		adopted:   true,
	}, nil
}

// Done is closed once a spawned process has been reaped. Adopted handles never
// close it; use Running instead.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has terminated.
func (h *Handle) Exited() bool {
	if h == nil {
		return true
	}
	if h.adopted {
		return !Alive(h.PID)
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Running reports whether the process, or any member of its group, is alive.
func (h *Handle) Running() bool {
	if h == nil {
		return false
	}
	if !h.Exited() {
		return true
	}
	return GroupAlive(h.PGID)
}

// ExitErr returns the wait error of a reaped process.
func (h *Handle) ExitErr() error {
	if h == nil || h.adopted {
		return nil
	}
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}

// Signal delivers sig to the whole process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	if h == nil || h.PGID <= 0 {
		return nil
	}
	if err := unix.Kill(-h.PGID, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", h.PGID, err)
	}
	return nil
}

// Terminate stops the process group: SIGTERM, wait up to grace, then SIGKILL.
// It returns true when escalation to SIGKILL was needed. Calling it on an
// already-stopped handle is a no-op.
func (h *Handle) Terminate(ctx context.Context, grace time.Duration) (bool, error) {
	if h == nil {
		return false, nil
	}
	if !h.Running() {
		return false, nil
	}
	if err := h.Signal(unix.SIGTERM); err != nil {
		return false, err
	}
	if h.waitGone(ctx, grace) {
		return false, nil
	}
	if err := h.Signal(unix.SIGKILL); err != nil {
		return true, err
	}
	if !h.waitGone(ctx, 2*time.Second) {
		return true, fmt.Errorf("process group %d still alive after SIGKILL", h.PGID)
	}
	return true, nil
}

func (h *Handle) waitGone(ctx context.Context, limit time.Duration) bool {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !h.Running() {
			return true
		}
		select {
		case <-ctx.Done():
			return !h.Running()
		case <-deadline.C:
			return !h.Running()
		case <-ticker.C:
		}
	}
}
