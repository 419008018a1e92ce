package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"streamkeeper/internal/logging"
	"streamkeeper/internal/proc"
)

var (
	// ErrDeviceMissing reports that the capture device node does not exist.
	ErrDeviceMissing = errors.New("capture device node missing")
	// ErrDeviceBusy reports that another process holds the capture device.
	ErrDeviceBusy = errors.New("capture device busy")
	// ErrProbeTimeout reports a test capture that did not finish in time.
	ErrProbeTimeout = errors.New("test capture timed out")
)

// CommandRunner runs a short-lived command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args and returns combined stdout and stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Unlocker force-releases a device node held by other processes.
type Unlocker interface {
	Unlock(ctx context.Context, devicePath string) ([]int, error)
}

// ProcessUnlocker sends SIGTERM to every other process holding the device
// node and waits up to Grace for them to exit.
type ProcessUnlocker struct {
	Grace time.Duration
}

// Unlock returns the pids that were signalled.
func (u ProcessUnlocker) Unlock(ctx context.Context, devicePath string) ([]int, error) {
	holders, err := proc.HoldersOf(devicePath, os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("list holders of %s: %w", devicePath, err)
	}
	for _, pid := range holders {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			return holders, fmt.Errorf("signal holder %d: %w", pid, err)
		}
	}
	grace := u.Grace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	deadline := time.Now().Add(grace)
	for _, pid := range holders {
		for proc.Alive(pid) && time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return holders, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}
	return holders, nil
}

// Prober checks that a capture device can actually record.
type Prober struct {
	Runner     CommandRunner
	Unlocker   Unlocker
	Binary     string
	Duration   time.Duration
	Timeout    time.Duration
	DevSndDir  string
	UnlockBusy bool
	Logger     *slog.Logger
}

// DeviceFile returns the capture PCM node of dev.
func (p *Prober) DeviceFile(dev AudioDevice) string {
	return filepath.Join(p.DevSndDir, fmt.Sprintf("pcmC%dD%dc", dev.Index, dev.PCMDevice))
}

// Check verifies the device node exists and a bounded test capture succeeds.
// A busy device gets one unlock attempt and one re-probe.
func (p *Prober) Check(ctx context.Context, dev AudioDevice) error {
	node := p.DeviceFile(dev)
	if _, err := os.Stat(node); err != nil {
		return fmt.Errorf("%w: %s", ErrDeviceMissing, node)
	}
	err := p.capture(ctx, dev)
	if err == nil || !errors.Is(err, ErrDeviceBusy) || !p.UnlockBusy || p.Unlocker == nil {
		return err
	}

	logger := logging.NewComponentLogger(p.Logger, "device-probe")
	holders, unlockErr := p.Unlocker.Unlock(ctx, node)
	if unlockErr != nil {
		logging.WarnWithContext(logger, "device unlock failed", "device_unlock_failed",
			logging.String("device", dev.RawName),
			logging.String("node", node),
			logging.Error(unlockErr),
			logging.String(logging.FieldErrorHint, "stop the application holding the microphone"),
			logging.String(logging.FieldImpact, "device stays busy and will be skipped"),
		)
	} else {
		logger.Info("busy device released",
			logging.String("device", dev.RawName),
			logging.String("node", node),
			logging.Any("holders", holders),
			logging.String(logging.FieldEventType, "device_unlocked"),
		)
	}
	return p.capture(ctx, dev)
}

func (p *Prober) capture(ctx context.Context, dev AudioDevice) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	duration := int(p.Duration / time.Second)
	if duration <= 0 {
		duration = 1
	}
	runner := p.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := runner.Run(probeCtx, p.Binary,
		"-q",
		"-D", dev.ProbeRef(),
		"-d", strconv.Itoa(duration),
		"-f", "S16_LE",
		"-r", "48000",
		"-c", "1",
		"-t", "raw",
		"/dev/null",
	)
	if err == nil {
		return nil
	}
	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrProbeTimeout, timeout)
	}
	text := strings.TrimSpace(string(out))
	if isBusyOutput(text) {
		return fmt.Errorf("%w: %s", ErrDeviceBusy, lastLine(text))
	}
	if text != "" {
		return fmt.Errorf("test capture failed: %s: %w", lastLine(text), err)
	}
	return fmt.Errorf("test capture failed: %w", err)
}

func isBusyOutput(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "device or resource busy") || strings.Contains(lower, "resource busy")
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return text
}
