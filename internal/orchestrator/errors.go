package orchestrator

import (
	"errors"

	"streamkeeper/internal/preflight"
)

var (
	// ErrAlreadyRunning reports that another live instance holds the lock.
	ErrAlreadyRunning = errors.New("streamkeeper is already running")
	// ErrRelayUnavailable reports a relay that could not be started or
	// restarted within its budget.
	ErrRelayUnavailable = errors.New("relay server unavailable")
	// ErrPrerequisiteMissing reports a missing binary or unusable directory.
	ErrPrerequisiteMissing = preflight.ErrPrerequisiteMissing
	// ErrNotRunning is returned by commands sent to a stopped orchestrator.
	ErrNotRunning = errors.New("orchestrator is not running")
)
