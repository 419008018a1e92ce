package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	"streamkeeper/internal/devices"
	"streamkeeper/internal/encoder"
	"streamkeeper/internal/journal"
	"streamkeeper/internal/logging"
	"streamkeeper/internal/proc"
	"streamkeeper/internal/statestore"
	"streamkeeper/internal/supervisor"
)

// discover runs one discovery pass and reconciles the stream set with it.
// Devices already streaming are not probed, and running pipelines of known
// devices are left alone.
func (o *Orchestrator) discover(ctx context.Context) {
	devs, err := o.discoverer.Discover(ctx, devices.DiscoverOptions{SkipProbe: o.captureInUse()})
	o.lastDiscovery = o.now()
	switch {
	case errors.Is(err, devices.ErrNoDevicesFound):
		o.metrics.IncDiscovery("empty")
		o.lastDiscoveryErr = err.Error()
		logging.WarnWithContext(o.logger, "no capture devices found; retrying next pass", "discovery_empty",
			logging.String(logging.FieldErrorHint, "plug in a USB capture device or check the blacklist"),
			logging.String(logging.FieldImpact, "no streams are published"),
		)
		devs = nil
	case err != nil:
		o.metrics.IncDiscovery("error")
		o.lastDiscoveryErr = err.Error()
		logging.WarnWithContext(o.logger, "device discovery failed; keeping current streams", "discovery_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that "+o.cfg.Discovery.CardsPath+" is readable"),
			logging.String(logging.FieldImpact, "new devices are not picked up this pass"),
		)
		return
	default:
		o.metrics.IncDiscovery("ok")
		o.lastDiscoveryErr = ""
	}

	var resolved []devices.ResolvedDevice
	if len(devs) > 0 {
		resolved, err = o.discoverer.ResolveAll(devs)
		if err != nil {
			o.metrics.IncDiscovery("error")
			o.lastDiscoveryErr = err.Error()
			logging.WarnWithContext(o.logger, "device identity resolution failed", "identity_resolve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that "+o.cfg.Paths.IdentityMap+" is writable"),
				logging.String(logging.FieldImpact, "new devices are not picked up this pass"),
			)
			return
		}
	}
	o.reconcile(ctx, resolved)
}

func (o *Orchestrator) reconcile(ctx context.Context, resolved []devices.ResolvedDevice) {
	present := make(map[string]bool, len(resolved))
	for _, rd := range resolved {
		id := rd.Identity.UUID
		present[id] = true

		s, known := o.streams[id]
		if !known {
			s = o.newStream(rd)
			o.streams[id] = s
			o.logger.Info("new capture device",
				logging.String(logging.FieldEventType, "device_added"),
				logging.Stream(rd.Identity.FriendlyName),
				logging.DeviceUUID(id),
				logging.String("device", rd.Device.RawName),
				logging.String("input", rd.Device.ALSARef()),
			)
			o.record(journal.Entry{Source: journal.SourceStream, Stream: rd.Identity.FriendlyName, DeviceUUID: id, Kind: "device_added", Detail: rd.Device.RawName})
			o.startStream(ctx, s)
			continue
		}

		s.device = rd.Device
		if s.absent {
			s.absent = false
			s.sup.Release(supervisor.HoldDeviceAbsent)
			if s.sup.Status().Unrecoverable {
				s.sup.Reset()
			}
			o.logger.Info("capture device returned",
				logging.String(logging.FieldEventType, "device_returned"),
				logging.Stream(s.sup.Stream()),
				logging.String("input", rd.Device.ALSARef()),
			)
			o.record(journal.Entry{Source: journal.SourceStream, Stream: s.sup.Stream(), DeviceUUID: id, Kind: "device_returned"})
		}
		if s.sup.State() == supervisor.StateStopped && !s.sup.Status().Unrecoverable {
			o.startStream(ctx, s)
		}
	}

	for id, s := range o.streams {
		if present[id] || s.absent {
			continue
		}
		s.absent = true
		s.sup.Hold(supervisor.HoldDeviceAbsent)
		logging.WarnWithContext(o.logger, "capture device disappeared; holding its stream", "device_removed",
			logging.Stream(s.sup.Stream()),
			logging.DeviceUUID(id),
			logging.String(logging.FieldErrorHint, "replug the device into the same port to resume the stream"),
			logging.String(logging.FieldImpact, "stream is offline until the device returns"),
		)
		o.record(journal.Entry{Source: journal.SourceStream, Stream: s.sup.Stream(), DeviceUUID: id, Kind: "device_removed"})
	}

	o.deviceCount = len(resolved)
	o.metrics.SetDevicesDiscovered(len(resolved))
	o.metrics.SetStreamStates(o.stateCounts())
	o.syncRelayPaths()
}

func (o *Orchestrator) newStream(rd devices.ResolvedDevice) *stream {
	name := rd.Identity.FriendlyName
	sup := supervisor.New(supervisor.Options{
		Stream:     name,
		DeviceUUID: rd.Identity.UUID,
		RunDir:     o.cfg.RunDir(),
		LogPath:    filepath.Join(o.cfg.StreamLogDir(), name+".log"),
		Policy:     o.policy,
		Launcher:   o.launcher,
		Probe:      o.probe,
		Sink:       eventSink{o: o},
		Logger:     o.logger,
		Now:        o.now,
	})
	return &stream{sup: sup, device: rd.Device, cfg: o.streamConfig(name)}
}

// streamConfig merges defaults with the stream's override file. An invalid
// override falls back to the defaults.
func (o *Orchestrator) streamConfig(name string) encoder.StreamConfig {
	cfg, err := encoder.ResolveConfig(o.defaults, o.cfg.Paths.OverridesDir, name)
	if err != nil {
		logging.WarnWithContext(o.logger, "stream override ignored", "stream_override_invalid",
			logging.Stream(name),
			logging.Error(err),
			logging.String("path", encoder.OverridePath(o.cfg.Paths.OverridesDir, name)),
			logging.String(logging.FieldErrorHint, "fix the override file"),
			logging.String(logging.FieldImpact, "stream uses default encoder settings"),
		)
	}
	return cfg
}

// captureInUse returns the SkipProbe predicate for one discovery pass. A
// device is in use while one of our supervisors is driving a pipeline on it,
// or while a pipeline recorded by an earlier run is still alive; a probe of
// either would report busy and the unlock would kill the pipeline.
func (o *Orchestrator) captureInUse() func(devices.AudioDevice) bool {
	var idmap *devices.IdentityMap
	loaded := false
	return func(dev devices.AudioDevice) bool {
		id := o.discoverer.UUIDOf(dev)
		if s, ok := o.streams[id]; ok {
			switch s.sup.State() {
			case supervisor.StateStarting, supervisor.StateVerifying, supervisor.StateRunning:
				return true
			default:
				return false
			}
		}
		if !loaded {
			loaded = true
			if m, err := devices.LoadIdentityMap(o.cfg.Paths.IdentityMap); err == nil {
				idmap = m
			}
		}
		if idmap == nil {
			return false
		}
		name, ok := idmap.Lookup(id)
		if !ok {
			return false
		}
		pid, err := statestore.ReadPID(supervisor.LivenessPath(o.cfg.RunDir(), name))
		if err != nil || !proc.AliveAs(pid, o.cfg.Encoder.Binary) {
			return false
		}
		o.logger.Info("recorded pipeline still capturing; skipping device check",
			logging.String(logging.FieldEventType, "device_check_skipped"),
			logging.Stream(name),
			logging.PID(pid),
		)
		return true
	}
}

func (o *Orchestrator) syncRelayPaths() {
	var paths []string
	for _, s := range o.streams {
		paths = append(paths, s.cfg.PublishPaths(s.sup.Stream())...)
	}
	sort.Strings(paths)
	if err := o.relay.SetPaths(paths); err != nil {
		o.logger.Warn("failed to update relay configuration",
			logging.Error(err),
			logging.String(logging.FieldEventType, "relay_config_failed"),
			logging.String(logging.FieldErrorHint, "check that "+o.cfg.Relay.ConfigPath+" is writable"),
			logging.String(logging.FieldImpact, "relay keeps its previous path list; publishing still works through the catch-all path"),
		)
	}
}
