package devices

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// cardLinePattern matches the header line of a /proc/asound/cards entry:
//
//	1 [AIMicro        ]: USB-Audio - RODE AI-Micro
var cardLinePattern = regexp.MustCompile(`^\s*(\d+)\s+\[([^\]]*)\]:\s*(\S+)\s+-\s+(.*)$`)

// usbLocationPattern extracts the bus location from a card's long name, e.g.
// "RODE Microphones RODE AI-Micro at usb-0000:00:14.0-2, full speed".
var usbLocationPattern = regexp.MustCompile(`\bat (usb-[^,\s]+)`)

// Registry reads the kernel's sound card listing and per-card metadata.
type Registry struct {
	CardsPath     string
	AsoundDir     string
	SysfsSoundDir string
}

type cardEntry struct {
	index    int
	id       string
	driver   string
	name     string
	longName string
}

// Scan returns every card that exposes a capture PCM, ordered by card index.
func (r Registry) Scan() ([]AudioDevice, error) {
	file, err := os.Open(r.CardsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %v", ErrDiscoveryUnavailable, r.CardsPath, err)
		}
		return nil, fmt.Errorf("open %s: %w", r.CardsPath, err)
	}
	defer file.Close()

	cards, err := parseCards(bufio.NewScanner(file))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrDiscoveryUnavailable, r.CardsPath, err)
	}

	devices := make([]AudioDevice, 0, len(cards))
	for _, card := range cards {
		pcm, ok := r.capturePCM(card.index)
		if !ok {
			continue
		}
		dev := AudioDevice{
			Index:       card.index,
			PCMDevice:   pcm,
			RawName:     card.id,
			Description: card.name,
			BusID:       fmt.Sprintf("card%d", card.index),
		}
		if m := usbLocationPattern.FindStringSubmatch(card.longName); m != nil {
			dev.BusID = m[1]
		}
		if vid, pid, ok := r.usbID(card.index); ok {
			dev.IsUSB = true
			dev.VendorID = vid
			dev.ProductID = pid
		}
		dev.PortPath, dev.Serial = r.location(card.index, dev.IsUSB)
		devices = append(devices, dev)
	}
	return devices, nil
}

func parseCards(scanner *bufio.Scanner) ([]cardEntry, error) {
	var cards []cardEntry
	for scanner.Scan() {
		line := scanner.Text()
		if m := cardLinePattern.FindStringSubmatch(line); m != nil {
			index, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			cards = append(cards, cardEntry{
				index:  index,
				id:     strings.TrimSpace(m[2]),
				driver: m[3],
				name:   strings.TrimSpace(m[4]),
			})
			continue
		}
		if len(cards) > 0 && strings.TrimSpace(line) != "" && cards[len(cards)-1].longName == "" {
			cards[len(cards)-1].longName = strings.TrimSpace(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cards, nil
}

// capturePCM returns the lowest capture PCM device number of a card.
func (r Registry) capturePCM(card int) (int, bool) {
	matches, err := filepath.Glob(filepath.Join(r.AsoundDir, fmt.Sprintf("card%d", card), "pcm*c"))
	if err != nil || len(matches) == 0 {
		return 0, false
	}
	var numbers []int
	for _, match := range matches {
		base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(match), "pcm"), "c")
		if n, err := strconv.Atoi(base); err == nil {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) == 0 {
		return 0, false
	}
	sort.Ints(numbers)
	return numbers[0], true
}

// usbID reads the USB marker file ("2e88:4610") of a card.
func (r Registry) usbID(card int) (string, string, bool) {
	data, err := os.ReadFile(filepath.Join(r.AsoundDir, fmt.Sprintf("card%d", card), "usbid"))
	if err != nil {
		return "", "", false
	}
	vid, pid, ok := strings.Cut(strings.TrimSpace(string(data)), ":")
	if !ok || vid == "" || pid == "" {
		return "", "", false
	}
	return strings.ToLower(vid), strings.ToLower(pid), true
}

// location resolves the physical port path of a card from sysfs. For USB
// cards the device link points at an interface such as
// .../usb1/1-2/1-2:1.0 and the port is "1-2"; the serial, when the device
// exposes one, sits beside it. Non-USB cards use their sysfs device path.
func (r Registry) location(card int, usb bool) (string, string) {
	if r.SysfsSoundDir == "" {
		return "", ""
	}
	resolved, err := filepath.EvalSymlinks(filepath.Join(r.SysfsSoundDir, fmt.Sprintf("card%d", card), "device"))
	if err != nil {
		return "", ""
	}
	if !usb {
		return resolved, ""
	}
	usbDir := resolved
	port, _, isInterface := strings.Cut(filepath.Base(resolved), ":")
	if isInterface {
		usbDir = filepath.Dir(resolved)
	}
	if port == "" || !strings.Contains(port, "-") {
		return "", ""
	}
	serial, _ := os.ReadFile(filepath.Join(usbDir, "serial"))
	return port, strings.TrimSpace(string(serial))
}
