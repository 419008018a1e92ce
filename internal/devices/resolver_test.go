package devices

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestResolver(t *testing.T, host fakeHost, runner CommandRunner) (*Resolver, string) {
	t.Helper()
	state := t.TempDir()
	idmap := filepath.Join(state, "identities.conf")
	opts := Options{
		Registry:        host.registry,
		BlacklistPath:   filepath.Join(state, "blacklist.conf"),
		IdentityMapPath: idmap,
		USBOnly:         true,
		Probe:           runner != nil,
		Namer:           Namer{MaxLength: 32, Category: "usb_audio"},
	}
	if runner != nil {
		opts.Prober = newTestProber(host, runner, nil)
	}
	return NewResolver(opts, nil), idmap
}

func TestResolverTwoDeviceScenario(t *testing.T) {
	host := newFakeHost(t, onboardCard, rodeCard, cmediaCard)
	r, idmapPath := newTestResolver(t, host, nil)

	rodeID := r.UUIDOf(AudioDevice{VendorID: "2e88", ProductID: "4610", PortPath: "1-2"})
	mustWrite(t, idmapPath, rodeID+"=rode_ai_micro\n")

	devices, err := r.Discover(context.Background(), DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 usb devices, got %d", len(devices))
	}

	resolved, err := r.ResolveAll(devices)
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if resolved[0].Identity.FriendlyName != "rode_ai_micro" || resolved[0].Identity.UUID != rodeID {
		t.Fatalf("unexpected first identity: %+v", resolved[0].Identity)
	}
	if resolved[1].Identity.FriendlyName != "device" {
		t.Fatalf("expected sanitized fallback name, got %q", resolved[1].Identity.FriendlyName)
	}
	if resolved[0].Identity.UUID == resolved[1].Identity.UUID {
		t.Fatal("expected distinct uuids")
	}

	data, err := os.ReadFile(idmapPath)
	if err != nil {
		t.Fatalf("read identity map: %v", err)
	}
	if strings.Count(string(data), "\n") != 2 {
		t.Fatalf("expected one appended entry, got:\n%s", data)
	}

	again, err := r.ResolveAll(devices)
	if err != nil {
		t.Fatalf("second ResolveAll: %v", err)
	}
	if again[1].Identity != resolved[1].Identity {
		t.Fatalf("expected idempotent resolve, got %+v then %+v", resolved[1].Identity, again[1].Identity)
	}
	after, _ := os.ReadFile(idmapPath)
	if string(after) != string(data) {
		t.Fatal("resolving a known uuid must not mutate the map")
	}
}

func TestResolverDisambiguatesNameCollision(t *testing.T) {
	second := cmediaCard
	second.index = 3
	second.port = "1-4"
	host := newFakeHost(t, cmediaCard, second)
	r, _ := newTestResolver(t, host, nil)

	devices, err := r.Discover(context.Background(), DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	resolved, err := r.ResolveAll(devices)
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	first, other := resolved[0].Identity, resolved[1].Identity
	if first.FriendlyName != "device" {
		t.Fatalf("expected first device to keep the plain name, got %q", first.FriendlyName)
	}
	want := "device_" + strings.ReplaceAll(other.UUID, "-", "")[:6]
	if other.FriendlyName != want {
		t.Fatalf("expected %q, got %q", want, other.FriendlyName)
	}
}

func TestResolverPreviewDoesNotPersist(t *testing.T) {
	host := newFakeHost(t, rodeCard)
	r, idmapPath := newTestResolver(t, host, nil)

	devices, err := r.Discover(context.Background(), DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	resolved, err := r.Preview(devices)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if resolved[0].Identity.FriendlyName != "rode_ai_micro" {
		t.Fatalf("unexpected name %q", resolved[0].Identity.FriendlyName)
	}
	if _, err := os.Stat(idmapPath); !os.IsNotExist(err) {
		t.Fatalf("expected no identity map written, stat err=%v", err)
	}
}

func TestResolverBlacklistAndUSBFilter(t *testing.T) {
	host := newFakeHost(t, onboardCard, rodeCard, cmediaCard)
	r, _ := newTestResolver(t, host, nil)
	mustWrite(t, r.opts.BlacklistPath, "# ignore the cheap dongle\nDevice\naimicro\n")

	devices, err := r.Discover(context.Background(), DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 1 || devices[0].RawName != "AIMicro" {
		t.Fatalf("expected only AIMicro (blacklist is case-sensitive), got %+v", devices)
	}

	r.opts.USBOnly = false
	devices, err = r.Discover(context.Background(), DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected onboard card included when usb_only is off, got %d", len(devices))
	}
}

func TestResolverSkipsFailedProbeAndHonorsSkip(t *testing.T) {
	host := newFakeHost(t, rodeCard, cmediaCard)
	runner := &scriptedRunner{
		outputs: []string{"audio open error: Input/output error"},
		errs:    []error{errors.New("exit status 1")},
	}
	r, _ := newTestResolver(t, host, runner)

	devices, err := r.Discover(context.Background(), DiscoverOptions{
		SkipProbe: func(dev AudioDevice) bool { return dev.RawName == "Device" },
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 1 || devices[0].RawName != "Device" {
		t.Fatalf("expected failing device skipped and in-use device kept, got %+v", devices)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one probe, got %d", len(runner.calls))
	}
}

func TestResolverNoDevices(t *testing.T) {
	host := newFakeHost(t, onboardCard, playbackOnlyCard)
	r, _ := newTestResolver(t, host, nil)

	if _, err := r.Discover(context.Background(), DiscoverOptions{}); !errors.Is(err, ErrNoDevicesFound) {
		t.Fatalf("expected ErrNoDevicesFound, got %v", err)
	}
}

func TestResolverDiscoveryUnavailable(t *testing.T) {
	r := NewResolver(Options{Registry: Registry{CardsPath: filepath.Join(t.TempDir(), "none")}}, nil)
	if _, err := r.Discover(context.Background(), DiscoverOptions{}); !errors.Is(err, ErrDiscoveryUnavailable) {
		t.Fatalf("expected ErrDiscoveryUnavailable, got %v", err)
	}
}

func TestResolverAmbiguousDeviceStableWithinRun(t *testing.T) {
	host := newFakeHost(t, rodeCard)
	host.registry.SysfsSoundDir = ""
	r, _ := newTestResolver(t, host, nil)
	r.uuids.now = func() time.Time { return time.Unix(1, 0) }

	devices, err := r.Discover(context.Background(), DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	first, err := r.Resolve(devices[0])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve(devices[0])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first != second {
		t.Fatalf("expected same identity within one run: %+v vs %+v", first, second)
	}
}
