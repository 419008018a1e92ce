// Package relay manages the media relay server that pipelines publish to.
//
// The relay is an external binary (MediaMTX-compatible). This package writes
// its YAML configuration, spawns it in its own process group, probes its
// HTTP control endpoint for readiness and liveness, and stops it only when
// this process started it. A relay that is already answering on the control
// address at startup is treated as externally managed.
package relay
