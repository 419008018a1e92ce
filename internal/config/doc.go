// Package config loads, normalizes, and validates the streamkeeper TOML
// configuration.
//
// Load starts from Default(), decodes the file on top, expands `~` and derived
// paths in normalize, then runs Validate so every consumer receives a usable
// value. Durations are expressed as integer seconds in the file and exposed as
// time.Duration through accessor methods.
package config
