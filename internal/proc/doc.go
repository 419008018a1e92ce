// Package proc owns the structured handles used to control external
// subprocesses (encoder pipelines and the relay server).
//
// Every spawned process is placed in its own process group so the process and
// any children it forks can be signalled as a unit. Termination always goes
// through Handle.Terminate: SIGTERM to the group, a bounded grace period, then
// SIGKILL. Processes recorded by an earlier run can be re-attached with Adopt.
package proc
