package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeCard struct {
	index    int
	id       string
	driver   string
	name     string
	longName string
	capture  bool
	usbID    string
	port     string
	serial   string
}

type fakeHost struct {
	root     string
	registry Registry
	devSnd   string
}

// newFakeHost lays out /proc/asound, /sys/class/sound and /dev/snd under a
// temp dir for the given cards.
func newFakeHost(t *testing.T, cards ...fakeCard) fakeHost {
	t.Helper()
	root := t.TempDir()
	asound := filepath.Join(root, "proc", "asound")
	sysSound := filepath.Join(root, "sys", "class", "sound")
	devSnd := filepath.Join(root, "dev", "snd")
	for _, dir := range []string{asound, sysSound, devSnd} {
		mustMkdir(t, dir)
	}

	var listing strings.Builder
	for _, card := range cards {
		fmt.Fprintf(&listing, "%2d [%-15s]: %s - %s\n", card.index, card.id, card.driver, card.name)
		fmt.Fprintf(&listing, "                      %s\n", card.longName)

		cardDir := filepath.Join(asound, fmt.Sprintf("card%d", card.index))
		mustMkdir(t, filepath.Join(cardDir, "pcm0p"))
		if card.capture {
			mustMkdir(t, filepath.Join(cardDir, "pcm0c"))
			mustWrite(t, filepath.Join(devSnd, fmt.Sprintf("pcmC%dD0c", card.index)), "")
		}
		if card.usbID != "" {
			mustWrite(t, filepath.Join(cardDir, "usbid"), card.usbID+"\n")
		}

		var target string
		if card.port != "" {
			usbDir := filepath.Join(root, "sys", "devices", "pci0000:00", "usb1", card.port)
			target = filepath.Join(usbDir, card.port+":1.0")
			mustMkdir(t, target)
			if card.serial != "" {
				mustWrite(t, filepath.Join(usbDir, "serial"), card.serial+"\n")
			}
		} else {
			target = filepath.Join(root, "sys", "devices", "pci0000:00", fmt.Sprintf("0000:00:1f.%d", card.index))
			mustMkdir(t, target)
		}
		sysCard := filepath.Join(sysSound, fmt.Sprintf("card%d", card.index))
		mustMkdir(t, sysCard)
		if err := os.Symlink(target, filepath.Join(sysCard, "device")); err != nil {
			t.Fatalf("symlink: %v", err)
		}
	}
	cardsPath := filepath.Join(asound, "cards")
	mustWrite(t, cardsPath, listing.String())

	return fakeHost{
		root:     root,
		registry: Registry{CardsPath: cardsPath, AsoundDir: asound, SysfsSoundDir: sysSound},
		devSnd:   devSnd,
	}
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	mustMkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

var (
	rodeCard = fakeCard{
		index: 1, id: "AIMicro", driver: "USB-Audio", name: "RODE AI-Micro",
		longName: "RODE Microphones RODE AI-Micro at usb-0000:00:14.0-2, full speed",
		capture:  true, usbID: "2e88:4610", port: "1-2",
	}
	cmediaCard = fakeCard{
		index: 2, id: "Device", driver: "USB-Audio", name: "USB PnP Sound Device",
		longName: "C-Media Electronics Inc. USB PnP Sound Device at usb-0000:00:14.0-3, full speed",
		capture:  true, usbID: "0d8c:0014", port: "1-3",
	}
	onboardCard = fakeCard{
		index: 0, id: "PCH", driver: "HDA-Intel", name: "HDA Intel PCH",
		longName: "HDA Intel PCH at 0xf7f10000 irq 32",
		capture:  true,
	}
	playbackOnlyCard = fakeCard{
		index: 3, id: "HDMI", driver: "HDA-Intel", name: "HDA Intel HDMI",
		longName: "HDA Intel HDMI at 0xf7f14000 irq 33",
	}
)
