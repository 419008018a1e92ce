// Package main hosts the streamkeeper CLI entrypoint and command graph.
//
// The Cobra command tree launches and stops the detached daemon, talks to a
// running daemon over its IPC socket for status, in-place restarts, and log
// tailing, and offers device previews and configuration scaffolding that work
// without a daemon. Failures are mapped to distinct exit codes in
// exit_codes.go so scripts can tell a missing prerequisite from a held lock.
//
// Keep this package thin: behaviour belongs in the internal packages and is
// surfaced here through commands and flags.
package main
