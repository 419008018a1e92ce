// Package encoder resolves per-stream encoder settings, builds the encoder
// command line, and verifies that a freshly started pipeline is publishing.
//
// StreamConfig is resolved once per pipeline start by overlaying
// <overrides_dir>/<stream>.conf onto the configured defaults; a running
// pipeline never sees later edits. Verification is behind VerificationProbe
// so the log-marker scrape can be replaced by a structured status channel.
package encoder
