// Package journal keeps a SQLite history of stream and relay lifecycle
// events. The daemon appends through a Recorder that never blocks the control
// loop; the CLI and HTTP API read recent entries for status output.
package journal
