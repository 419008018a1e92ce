package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"streamkeeper/internal/daemonctl"
	"streamkeeper/internal/devices"
	"streamkeeper/internal/lock"
	"streamkeeper/internal/orchestrator"
)

// Process exit codes. A detached daemon that dies during startup exits with
// one of these, and `start` relays it unchanged.
const (
	exitOK           = 0
	exitFailure      = 1
	exitPrerequisite = 2
	exitLocked       = 3
	exitNoDevices    = 4
	exitRelay        = 5
)

func exitCodeFor(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return exitOK
	}
	var early *daemonctl.EarlyExitError
	if errors.As(err, &early) {
		if early.ExitCode > 0 {
			return early.ExitCode
		}
		return exitFailure
	}
	var held *lock.HeldError
	switch {
	case errors.Is(err, orchestrator.ErrPrerequisiteMissing):
		return exitPrerequisite
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.As(err, &held), errors.Is(err, lock.ErrTimedOut):
		return exitLocked
	case errors.Is(err, devices.ErrNoDevicesFound):
		return exitNoDevices
	case errors.Is(err, orchestrator.ErrRelayUnavailable):
		return exitRelay
	default:
		return exitFailure
	}
}

func reportError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)
	var early *daemonctl.EarlyExitError
	if errors.As(err, &early) && len(early.LogTail) > 0 {
		fmt.Fprintln(w, "Last daemon log lines:")
		for _, line := range early.LogTail {
			fmt.Fprintln(w, "  "+line)
		}
	}
}
