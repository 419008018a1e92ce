package encoder

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Verdict is the outcome of startup verification.
type Verdict int

const (
	// VerdictHealthy means a success marker was seen.
	VerdictHealthy Verdict = iota
	// VerdictFailed means an error marker was seen or the process exited.
	VerdictFailed
	// VerdictAssumedHealthy means neither marker appeared before the timeout.
	VerdictAssumedHealthy
)

func (v Verdict) String() string {
	switch v {
	case VerdictHealthy:
		return "healthy"
	case VerdictFailed:
		return "failed"
	case VerdictAssumedHealthy:
		return "assumed_healthy"
	default:
		return "unknown"
	}
}

// Healthy reports whether the pipeline may be treated as running.
func (v Verdict) Healthy() bool {
	return v == VerdictHealthy || v == VerdictAssumedHealthy
}

// Verification is the result of a VerificationProbe.
type Verification struct {
	Verdict Verdict
	Marker  string
	Reason  string
}

// VerifyTarget describes the pipeline being verified.
type VerifyTarget struct {
	Stream  string
	LogPath string
	// Exited is closed when the pipeline process has exited.
	Exited <-chan struct{}
}

// VerificationProbe decides whether a freshly started pipeline is healthy.
// Implementations must only read; the caller applies the verdict.
type VerificationProbe interface {
	Verify(ctx context.Context, target VerifyTarget) Verification
}

// LogMarkerProbe scans the pipeline log for success and error markers until
// Timeout. Silence until the timeout is assumed healthy, because some
// encoders print nothing once running.
type LogMarkerProbe struct {
	SuccessMarkers []string
	ErrorMarkers   []string
	Timeout        time.Duration
	PollInterval   time.Duration
}

// Verify implements VerificationProbe.
func (p LogMarkerProbe) Verify(ctx context.Context, target VerifyTarget) Verification {
	poll := p.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if exited(target.Exited) {
			v := p.scan(target.LogPath)
			reason := "process exited during verification"
			if v.Verdict == VerdictFailed && v.Marker != "" {
				reason = fmt.Sprintf("process exited during verification after %q", v.Marker)
			}
			return Verification{Verdict: VerdictFailed, Marker: v.Marker, Reason: reason}
		}
		if v := p.scan(target.LogPath); v.Verdict != VerdictAssumedHealthy {
			return v
		}
		select {
		case <-ctx.Done():
			return Verification{Verdict: VerdictFailed, Reason: "verification cancelled"}
		case <-target.Exited:
		case <-deadline.C:
			if exited(target.Exited) {
				continue
			}
			if v := p.scan(target.LogPath); v.Verdict != VerdictAssumedHealthy {
				return v
			}
			return Verification{
				Verdict: VerdictAssumedHealthy,
				Reason:  fmt.Sprintf("no marker within %s", timeout),
			}
		case <-ticker.C:
		}
	}
}

// scan returns Failed or Healthy when a marker is present, otherwise
// AssumedHealthy. Error markers win over success markers.
func (p LogMarkerProbe) scan(path string) Verification {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return Verification{Verdict: VerdictAssumedHealthy}
	}
	text := string(data)
	for _, marker := range p.ErrorMarkers {
		if marker != "" && strings.Contains(text, marker) {
			return Verification{Verdict: VerdictFailed, Marker: marker, Reason: fmt.Sprintf("error marker %q", marker)}
		}
	}
	for _, marker := range p.SuccessMarkers {
		if marker != "" && strings.Contains(text, marker) {
			return Verification{Verdict: VerdictHealthy, Marker: marker, Reason: fmt.Sprintf("success marker %q", marker)}
		}
	}
	return Verification{Verdict: VerdictAssumedHealthy}
}

func exited(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
