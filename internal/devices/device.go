package devices

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevicesFound reports a discovery pass that produced no usable device.
	ErrNoDevicesFound = errors.New("no capture devices found")
	// ErrDiscoveryUnavailable reports that the device registry could not be read.
	ErrDiscoveryUnavailable = errors.New("device discovery unavailable")
)

// AudioDevice is one capture-capable card seen during a discovery pass. It is
// rebuilt on every pass and never persisted.
type AudioDevice struct {
	BusID       string
	Index       int
	PCMDevice   int
	RawName     string
	Description string
	VendorID    string
	ProductID   string
	PortPath    string
	Serial      string
	IsUSB       bool
}

// ALSARef is the encoder input reference for the device's capture PCM.
func (d AudioDevice) ALSARef() string {
	return fmt.Sprintf("hw:CARD=%s,DEV=%d", d.RawName, d.PCMDevice)
}

// ProbeRef is the plug-layer reference used by the accessibility probe.
func (d AudioDevice) ProbeRef() string {
	return fmt.Sprintf("plughw:%d,%d", d.Index, d.PCMDevice)
}

// USBID returns "vvvv:pppp" or "" for non-USB devices.
func (d AudioDevice) USBID() string {
	if d.VendorID == "" && d.ProductID == "" {
		return ""
	}
	return d.VendorID + ":" + d.ProductID
}

// DeviceIdentity is the persisted identity of a physical device on a port.
type DeviceIdentity struct {
	UUID         string
	FriendlyName string
}

// ResolvedDevice pairs a discovered device with its identity.
type ResolvedDevice struct {
	Device   AudioDevice
	Identity DeviceIdentity
}
