// Package ipc exposes the running daemon over JSON-RPC on a Unix socket and
// ships the client the CLI uses for status, stop, in-place restart, log
// tailing, and notification tests.
package ipc
