package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldStream is the standardized structured logging key for stream (friendly) names.
	FieldStream = "stream"
	// FieldDeviceUUID is the standardized structured logging key for device identities.
	FieldDeviceUUID = "device_uuid"
	// FieldPID is the standardized structured logging key for process ids.
	FieldPID = "pid"
	// FieldState is the standardized structured logging key for supervisor states.
	FieldState = "state"
	// FieldEventType classifies a log line for filtering and the event journal.
	FieldEventType = "event_type"
	// FieldErrorHint is the operator-facing next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldRunID identifies one daemon run across its log lines.
	FieldRunID = "run_id"
)
