package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamkeeper/internal/encoder"
	"streamkeeper/internal/proc"
)

// ErrNotAdoptable reports a recorded pid that is not one of our pipelines.
var ErrNotAdoptable = errors.New("recorded pid is not an adoptable pipeline")

// LaunchSpec describes one pipeline start.
type LaunchSpec struct {
	Stream  string
	Input   string
	Config  encoder.StreamConfig
	LogPath string
}

// Process is the supervisor's owning reference to a running pipeline.
type Process interface {
	PID() int
	StartedAt() time.Time
	Running() bool
	// Exited is closed when a spawned process has been reaped. It may be nil
	// for adopted processes.
	Exited() <-chan struct{}
	ExitErr() error
	Terminate(ctx context.Context, grace time.Duration) (bool, error)
}

// Launcher starts pipelines and re-attaches to pipelines of earlier runs.
type Launcher interface {
	Launch(spec LaunchSpec) (Process, error)
	Adopt(pid int, logPath string) (Process, error)
}

// EncoderLauncher spawns the encoder binary in its own process group.
type EncoderLauncher struct {
	Options encoder.CommandOptions
}

// Launch implements Launcher.
func (l EncoderLauncher) Launch(spec LaunchSpec) (Process, error) {
	h, err := proc.Spawn(proc.Spec{
		Path:    l.Options.Binary,
		Args:    encoder.BuildArgs(l.Options, spec.Input, spec.Stream, spec.Config),
		LogPath: spec.LogPath,
	})
	if err != nil {
		return nil, err
	}
	return handleProcess{h: h}, nil
}

// Adopt implements Launcher. The pid must still run the encoder binary.
func (l EncoderLauncher) Adopt(pid int, logPath string) (Process, error) {
	if !proc.AliveAs(pid, l.Options.Binary) {
		return nil, fmt.Errorf("%w: pid %d", ErrNotAdoptable, pid)
	}
	h, err := proc.Adopt(pid, logPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAdoptable, err)
	}
	return handleProcess{h: h, adopted: true}, nil
}

type handleProcess struct {
	h       *proc.Handle
	adopted bool
}

func (p handleProcess) PID() int             { return p.h.PID }
func (p handleProcess) StartedAt() time.Time { return p.h.StartedAt }
func (p handleProcess) Running() bool        { return p.h.Running() }
func (p handleProcess) ExitErr() error       { return p.h.ExitErr() }

func (p handleProcess) Exited() <-chan struct{} {
	if p.adopted {
		return nil
	}
	return p.h.Done()
}

func (p handleProcess) Terminate(ctx context.Context, grace time.Duration) (bool, error) {
	return p.h.Terminate(ctx, grace)
}
