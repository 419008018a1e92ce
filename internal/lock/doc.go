// Package lock enforces one orchestrator instance per host.
//
// The primary mechanism is an advisory flock on a lock file; the holder pid is
// written to an adjacent marker file for diagnostics and stale-holder
// detection. Acquire reports a typed Result instead of a boolean so callers
// can distinguish a live competing holder from a timeout.
package lock
