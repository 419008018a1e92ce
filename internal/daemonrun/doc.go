// Package daemonrun hosts the daemon in the current process: signal handling,
// the per-run log file and its streamkeeper.log pointer, the pid file, and
// the wiring of journal, metrics, orchestrator, daemon, and IPC server.
package daemonrun
