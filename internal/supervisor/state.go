package supervisor

import "time"

// State is a supervisor lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateVerifying
	StateRunning
	StateFailed
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateVerifying:
		return "verifying"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// HoldReason names why restarts of a pipeline are paused.
type HoldReason string

const (
	// HoldRelayDown pauses restarts while the relay is unavailable.
	HoldRelayDown HoldReason = "relay_down"
	// HoldDeviceAbsent pauses restarts while the capture device is unplugged.
	HoldDeviceAbsent HoldReason = "device_absent"
)

// Status is a read-only snapshot of a supervisor.
type Status struct {
	Stream        string
	DeviceUUID    string
	State         State
	PID           int
	RestartCount  int
	MaxRestarts   int
	Flaps         int
	LastStartedAt time.Time
	RunningSince  time.Time
	CooldownUntil time.Time
	Holds         []HoldReason
	LastError     string
	Unrecoverable bool
	Adopted       bool
	PublishPaths  []string
}
