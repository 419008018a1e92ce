package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"streamkeeper/internal/proc"
	"streamkeeper/internal/statestore"
)

const retryInterval = 100 * time.Millisecond

// Outcome classifies an acquisition attempt.
type Outcome int

const (
	Acquired Outcome = iota
	HeldByOther
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case HeldByOther:
		return "held_by_other"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ErrTimedOut is returned when the lock could not be obtained in time and no
// live holder could be identified.
var ErrTimedOut = errors.New("lock acquisition timed out")

// HeldError reports a live competing holder.
type HeldError struct {
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("lock %s is held by running process %d", e.Path, e.PID)
	}
	return fmt.Sprintf("lock %s is held by another process", e.Path)
}

// Result is the typed outcome of Acquire.
type Result struct {
	Outcome   Outcome
	HolderPID int
	Handle    *Handle
}

// Err converts a non-acquired result into an error.
func (r Result) Err(path string) error {
	switch r.Outcome {
	case Acquired:
		return nil
	case HeldByOther:
		return &HeldError{PID: r.HolderPID, Path: path}
	default:
		return fmt.Errorf("%w: %s", ErrTimedOut, path)
	}
}

// Manager acquires the host-wide orchestrator lock.
type Manager struct {
	path       string
	markerPath string
	pid        int
}

// NewManager builds a manager for the lock file at path. The holder marker is
// written to path + ".pid".
func NewManager(path string) *Manager {
	return &Manager{path: path, markerPath: path + ".pid", pid: os.Getpid()}
}

// Path returns the lock file path.
func (m *Manager) Path() string { return m.path }

// MarkerPath returns the holder marker path.
func (m *Manager) MarkerPath() string { return m.markerPath }

// HolderPID returns the pid recorded in the marker file, or 0.
func (m *Manager) HolderPID() int {
	pid, err := statestore.ReadPID(m.markerPath)
	if err != nil {
		return 0
	}
	return pid
}

// Acquire attempts to take the lock within timeout. The advisory lock is the
// source of truth: a marker naming a dead process is overwritten once the lock
// is taken, and the lock file is never unlinked while another process holds it.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) (Result, error) {
	if strings.TrimSpace(m.path) == "" {
		return Result{}, errors.New("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return Result{}, fmt.Errorf("create lock directory: %w", err)
	}

	fl, ok, err := m.tryLock(ctx, timeout)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return m.acquired(fl)
	}

	holder := m.HolderPID()
	if holder > 0 && proc.Alive(holder) {
		return Result{Outcome: HeldByOther, HolderPID: holder}, nil
	}

	// The recorded holder is gone or unknown but the lock is still taken. The
	// kernel drops it when the owner exits, so retry once on the same inode.
	fl, ok, err = m.tryLock(ctx, 0)
	if err != nil {
		return Result{}, err
	}
	if ok {
		return m.acquired(fl)
	}
	return Result{Outcome: TimedOut}, nil
}

func (m *Manager) tryLock(ctx context.Context, timeout time.Duration) (*flock.Flock, bool, error) {
	fl := flock.New(m.path)
	if timeout <= 0 {
		ok, err := fl.TryLock()
		if err != nil {
			return nil, false, fmt.Errorf("acquire lock %s: %w", m.path, err)
		}
		return fl, ok, nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := fl.TryLockContext(lockCtx, retryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fl, false, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", m.path, err)
	}
	return fl, ok, nil
}

func (m *Manager) acquired(fl *flock.Flock) (Result, error) {
	if err := statestore.WritePID(m.markerPath, m.pid); err != nil {
		_ = fl.Unlock()
		return Result{}, fmt.Errorf("write lock marker: %w", err)
	}
	h := &Handle{HeldPID: m.pid, flock: fl, markerPath: m.markerPath}
	return Result{Outcome: Acquired, HolderPID: m.pid, Handle: h}, nil
}

// Handle represents a held lock.
type Handle struct {
	HeldPID int

	mu         sync.Mutex
	flock      *flock.Flock
	markerPath string
	released   bool
}

// Release unlocks and removes the marker when it still names this holder. It
// is safe to call repeatedly and on a nil handle.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	if pid, err := statestore.ReadPID(h.markerPath); err == nil && pid == h.HeldPID {
		_ = statestore.Remove(h.markerPath)
	}
	if h.flock == nil {
		return nil
	}
	if err := h.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
