// Package daemonctl drives the daemon process from the CLI: detached launch,
// waiting for the IPC socket while watching for an early exit, graceful stop
// with a SIGKILL fallback, full restart, and an offline status report.
package daemonctl
