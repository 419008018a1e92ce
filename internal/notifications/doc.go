// Package notifications delivers operator alerts via ntfy.
//
// The daemon alerts when a stream exhausts its restart budget, when the relay
// had to be restarted, and when a relay outage ends the run. When no ntfy
// topic is configured a no-op implementation is returned, so callers never
// need to check.
package notifications
