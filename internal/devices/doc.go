// Package devices discovers capture-capable audio hardware and gives each
// device an identity that survives reboots, re-enumeration, and replugging
// into the same physical port.
//
// Discovery reads the ALSA card registry, keeps cards that expose a capture
// PCM, drops blacklisted raw ids, and probes each survivor with a short test
// capture. A busy device gets one unlock attempt and one re-probe before it is
// skipped. Resolve derives a deterministic uuid from vendor/product id and
// port path and maps it to a persistent friendly name stored in the identity
// map. The HotplugWatcher turns udev sound events into discovery triggers.
package devices
