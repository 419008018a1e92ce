package supervisor

import "time"

// EventKind classifies a lifecycle event.
type EventKind string

const (
	EventStarted          EventKind = "started"
	EventAdopted          EventKind = "adopted"
	EventVerified         EventKind = "verified"
	EventVerifyFailed     EventKind = "verify_failed"
	EventExited           EventKind = "exited"
	EventRestartScheduled EventKind = "restart_scheduled"
	EventUnrecoverable    EventKind = "unrecoverable"
	EventStopped          EventKind = "stopped"
	EventHeld             EventKind = "held"
	EventReleased         EventKind = "released"
	EventCountersReset    EventKind = "counters_reset"
	EventLaunchFailed     EventKind = "launch_failed"
)

// Event is emitted on every lifecycle transition worth recording.
type Event struct {
	Kind         EventKind
	Stream       string
	DeviceUUID   string
	State        State
	PID          int
	RestartCount int
	Detail       string
	At           time.Time
}

// EventSink receives supervisor events. Implementations must not block.
type EventSink interface {
	Record(Event)
}
