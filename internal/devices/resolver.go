package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"streamkeeper/internal/config"
	"streamkeeper/internal/logging"
)

// Options configures a Resolver.
type Options struct {
	Registry        Registry
	BlacklistPath   string
	IdentityMapPath string
	USBOnly         bool
	Probe           bool
	Prober          *Prober
	Namer           Namer
}

// OptionsFromConfig maps the discovery configuration onto resolver options.
func OptionsFromConfig(cfg *config.Config) Options {
	d := cfg.Discovery
	return Options{
		Registry: Registry{
			CardsPath:     d.CardsPath,
			AsoundDir:     d.AsoundDir,
			SysfsSoundDir: d.SysfsSoundDir,
		},
		BlacklistPath:   cfg.Paths.Blacklist,
		IdentityMapPath: cfg.Paths.IdentityMap,
		USBOnly:         d.USBOnly,
		Probe:           d.Probe,
		Prober: &Prober{
			Runner:     ExecRunner{},
			Unlocker:   ProcessUnlocker{Grace: 2 * time.Second},
			Binary:     d.ProbeBinary,
			Duration:   time.Duration(d.ProbeDuration) * time.Second,
			Timeout:    time.Duration(d.ProbeTimeout) * time.Second,
			DevSndDir:  d.DevSndDir,
			UnlockBusy: d.UnlockBusy,
		},
		Namer: Namer{MaxLength: d.NameMaxLength, Category: d.NameCategory},
	}
}

// DiscoverOptions tunes a single discovery pass.
type DiscoverOptions struct {
	// SkipProbe returns true for devices that must not be probed, typically
	// because one of our own pipelines is already capturing from them.
	SkipProbe func(AudioDevice) bool
}

// Resolver enumerates devices and resolves their persistent identities. The
// resolver is the only writer of the identity map.
type Resolver struct {
	opts   Options
	logger *slog.Logger
	uuids  *uuidSource
}

// NewResolver constructs a resolver.
func NewResolver(opts Options, logger *slog.Logger) *Resolver {
	logger = logging.NewComponentLogger(logger, "devices")
	if opts.Prober != nil && opts.Prober.Logger == nil {
		opts.Prober.Logger = logger
	}
	return &Resolver{opts: opts, logger: logger, uuids: newUUIDSource()}
}

// Discover returns the capture devices that passed filtering and probing.
// It returns ErrNoDevicesFound when none remain and ErrDiscoveryUnavailable
// when the registry cannot be read.
func (r *Resolver) Discover(ctx context.Context, opts DiscoverOptions) ([]AudioDevice, error) {
	scanned, err := r.opts.Registry.Scan()
	if err != nil {
		return nil, err
	}

	blacklist, err := LoadBlacklist(r.opts.BlacklistPath)
	if err != nil {
		logging.WarnWithContext(r.logger, "blacklist unreadable; continuing without it", "blacklist_read_failed",
			logging.Error(err),
			logging.String("path", r.opts.BlacklistPath),
			logging.String(logging.FieldErrorHint, "check blacklist file permissions"),
			logging.String(logging.FieldImpact, "blacklisted devices may be streamed"),
		)
	}

	var devices []AudioDevice
	for _, dev := range scanned {
		if r.opts.USBOnly && !dev.IsUSB {
			r.logger.Debug("skipping non-usb card", logging.String("device", dev.RawName), logging.Int("card", dev.Index))
			continue
		}
		if blacklist.Contains(dev.RawName) {
			r.logger.Info("skipping blacklisted device",
				logging.String("device", dev.RawName),
				logging.String(logging.FieldEventType, "device_blacklisted"),
			)
			continue
		}
		if r.opts.Probe && r.opts.Prober != nil && (opts.SkipProbe == nil || !opts.SkipProbe(dev)) {
			if err := r.opts.Prober.Check(ctx, dev); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logging.WarnWithContext(r.logger, "device failed accessibility probe; skipping", "device_probe_failed",
					logging.String("device", dev.RawName),
					logging.Int("card", dev.Index),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, probeHint(err)),
					logging.String(logging.FieldImpact, "no stream for this device until the next discovery pass"),
				)
				continue
			}
		}
		devices = append(devices, dev)
	}

	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return devices, nil
}

func probeHint(err error) string {
	switch {
	case errors.Is(err, ErrDeviceMissing):
		return "check that the device is plugged in and the user can read /dev/snd"
	case errors.Is(err, ErrDeviceBusy):
		return "another application holds the device; stop it or add the device to the blacklist"
	case errors.Is(err, ErrProbeTimeout):
		return "the device did not deliver audio; replug it or raise discovery.probe_timeout"
	default:
		return "run arecord against the device manually to see the error"
	}
}

// UUIDOf returns the deterministic identity of dev without touching the map.
func (r *Resolver) UUIDOf(dev AudioDevice) string {
	return r.uuids.deviceUUID(dev)
}

// Resolve returns the identity of a single device, recording a new identity
// map entry on first sighting.
func (r *Resolver) Resolve(dev AudioDevice) (DeviceIdentity, error) {
	resolved, err := r.ResolveAll([]AudioDevice{dev})
	if err != nil {
		return DeviceIdentity{}, err
	}
	return resolved[0].Identity, nil
}

// ResolveAll resolves every device of one pass. No two devices in the result
// share a friendly name.
func (r *Resolver) ResolveAll(devices []AudioDevice) ([]ResolvedDevice, error) {
	return r.resolve(devices, true)
}

// Preview resolves devices without writing new identities, for read-only
// callers such as the devices listing.
func (r *Resolver) Preview(devices []AudioDevice) ([]ResolvedDevice, error) {
	return r.resolve(devices, false)
}

func (r *Resolver) resolve(devices []AudioDevice, persist bool) ([]ResolvedDevice, error) {
	idmap, err := LoadIdentityMap(r.opts.IdentityMapPath)
	if err != nil {
		return nil, fmt.Errorf("load identity map: %w", err)
	}

	assigned := make(map[string]string, len(devices))
	out := make([]ResolvedDevice, 0, len(devices))
	for _, dev := range devices {
		id := r.uuids.deviceUUID(dev)
		name, known := idmap.Lookup(id)
		if !known {
			name = r.opts.Namer.Candidate(dev)
			if owner, taken := idmap.NameOwner(name); (taken && owner != id) || assigned[name] != "" {
				name = r.opts.Namer.Disambiguated(dev, id)
			}
			if persist {
				if err := idmap.Insert(id, name); err != nil {
					return nil, err
				}
				r.logger.Info("new device identity recorded",
					logging.DeviceUUID(id),
					logging.String(logging.FieldStream, name),
					logging.String("device", dev.RawName),
					logging.String("port", dev.PortPath),
					logging.String(logging.FieldEventType, "identity_recorded"),
				)
			}
		} else if owner := assigned[name]; owner != "" && owner != id {
			// Hand-edited map with a duplicate name: keep both streams apart for this pass.
			name = r.opts.Namer.Disambiguated(dev, id)
			logging.WarnWithContext(r.logger, "duplicate friendly name in identity map", "identity_name_duplicate",
				logging.DeviceUUID(id),
				logging.String(logging.FieldStream, name),
				logging.String(logging.FieldErrorHint, "give each uuid a unique name in the identity map"),
				logging.String(logging.FieldImpact, "stream published under a suffixed name"),
			)
		}
		assigned[name] = id
		out = append(out, ResolvedDevice{Device: dev, Identity: DeviceIdentity{UUID: id, FriendlyName: name}})
	}
	return out, nil
}
