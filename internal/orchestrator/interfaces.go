package orchestrator

import (
	"context"

	"streamkeeper/internal/devices"
	"streamkeeper/internal/relay"
)

// Relay is the relay server as seen by the control loop.
type Relay interface {
	SetPaths(paths []string) error
	Ensure(ctx context.Context) error
	Alive(ctx context.Context) bool
	Restart(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() relay.Status
}

// Discoverer finds capture devices and resolves their identities.
type Discoverer interface {
	Discover(ctx context.Context, opts devices.DiscoverOptions) ([]devices.AudioDevice, error)
	UUIDOf(dev devices.AudioDevice) string
	ResolveAll(devs []devices.AudioDevice) ([]devices.ResolvedDevice, error)
}
