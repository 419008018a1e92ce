package supervisor

import (
	"context"
	"time"

	"streamkeeper/internal/encoder"
)

// VerifyJob is a detached verification that may run off the control loop.
type VerifyJob struct {
	Stream     string
	Generation int

	probe   encoder.VerificationProbe
	timeout time.Duration
	target  encoder.VerifyTarget
}

// VerifyResult carries a finished job back to its supervisor.
type VerifyResult struct {
	Stream       string
	Generation   int
	Verification encoder.Verification
}

// Run executes the probe. The timeout bounds the probe even if it ignores
// its own.
func (j *VerifyJob) Run(ctx context.Context) VerifyResult {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout+time.Second)
		defer cancel()
	}
	return VerifyResult{
		Stream:       j.Stream,
		Generation:   j.Generation,
		Verification: j.probe.Verify(ctx, j.target),
	}
}
