package ipc

import "streamkeeper/internal/daemon"

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse wraps the daemon status snapshot.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
}

// StopRequest asks the daemon process to exit.
type StopRequest struct{}

// StopResponse acknowledges a stop request. The daemon exits after replying.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// RestartRequest restarts every pipeline and the relay inside the running
// daemon.
type RestartRequest struct{}

// RestartResponse reports the in-place restart outcome.
type RestartResponse struct {
	Restarted bool   `json:"restarted"`
	Message   string `json:"message"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
// An empty Stream selects the daemon log.
type LogTailRequest struct {
	Stream     string `json:"stream,omitempty"`
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
	Path   string   `json:"path"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
