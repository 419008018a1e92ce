// Package orchestrator runs the control loop that keeps every capture
// pipeline and the relay server alive.
//
// A single goroutine owns the supervisors, the relay handle, and all
// discovery state. Everything else talks to it through a command channel:
// Status and Restart post closures that run on the loop, verification jobs
// report back on their own channel, and hotplug events only nudge the loop to
// run discovery early. Within one health tick the relay is always checked
// before any pipeline.
package orchestrator
