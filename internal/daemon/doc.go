// Package daemon hosts the long-running streamkeeper process around the
// orchestrator.
//
// It owns the HTTP API (status, health, and Prometheus metrics), exposes the
// operations the IPC server forwards from the CLI, and reports when the
// process should exit: a stop request, a cancelled context, or a fatal
// orchestrator error.
//
// Keep supervision logic out of this package: pipelines, the relay, and
// discovery belong to the orchestrator, while the daemon focuses on startup,
// shutdown, and the outward-facing surfaces.
package daemon
