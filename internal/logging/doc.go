// Package logging assembles structured slog loggers and attribute helpers used
// across streamkeeper.
//
// It owns the console/JSON handlers, the fan-out used to tee daemon output into
// per-run log files, and the standard field keys (component, stream,
// device_uuid, pid, event_type, error_hint, impact) that every warning carries.
// WarnWithContext and ErrorWithContext inject missing context fields so each
// warning states its cause, its impact, and the next step. NewNop provides a
// discard logger for tests and wiring code that cannot fail.
package logging
