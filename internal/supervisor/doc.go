// Package supervisor owns the lifecycle of one capture pipeline.
//
// A Supervisor moves through Stopped → Starting → Verifying → Running →
// Failed → Cooldown → Starting, with Stopped also the terminal state after an
// explicit stop or an exhausted restart budget. It never schedules itself:
// the orchestrator's control loop drives Monitor and Recover on each tick and
// is the only caller, so no internal locking is needed. Verification blocks
// and therefore runs off-loop through VerifyJob; its result is applied back
// on the loop with CompleteVerification.
//
// Each supervisor owns two files in the run directory: <stream>.pid, the
// liveness record that prevents a second pipeline for the same stream, and
// <stream>.state, the persisted restart counter.
package supervisor
