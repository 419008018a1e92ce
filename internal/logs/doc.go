// Package logs tails daemon and pipeline log files for `streamkeeper logs`.
//
// Negative offsets mean "last N lines"; follow mode polls until new lines
// arrive or the wait expires, so the CLI can loop on the returned offset.
package logs
