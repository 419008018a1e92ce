// Package statestore provides crash-safe access to the small plain-text state
// artifacts the orchestrator keeps on disk: liveness (pid) files, the identity
// map, the device blacklist, restart records, and per-device override files.
//
// Every write goes through WriteFile, which writes a temporary sibling and
// renames it into place so a reader never observes a partial file. Readers are
// forward compatible: blank lines and `#` comments are skipped and unknown keys
// are left for the caller to ignore.
package statestore
