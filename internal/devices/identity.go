package devices

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamkeeper/internal/textutil"
)

var identityNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("streamkeeper.audio-device"))

// uuidSource derives device uuids. Devices without a port path or serial get a
// salted identity cached for the lifetime of the source, so every pass in one
// boot agrees while two indistinguishable devices still differ.
type uuidSource struct {
	mu     sync.Mutex
	salted map[string]string
	now    func() time.Time
}

func newUUIDSource() *uuidSource {
	return &uuidSource{salted: map[string]string{}, now: time.Now}
}

func (s *uuidSource) deviceUUID(dev AudioDevice) string {
	var key string
	switch {
	case dev.PortPath != "":
		key = strings.Join([]string{"port", dev.VendorID, dev.ProductID, dev.PortPath}, "|")
	case dev.Serial != "":
		key = strings.Join([]string{"serial", dev.VendorID, dev.ProductID, dev.Serial}, "|")
	default:
		ambiguous := strings.Join([]string{"ambiguous", dev.BusID, strconv.Itoa(dev.Index), dev.RawName}, "|")
		s.mu.Lock()
		salted, ok := s.salted[ambiguous]
		if !ok {
			salted = ambiguous + "|" + strconv.FormatInt(s.now().UnixNano(), 10)
			s.salted[ambiguous] = salted
		}
		s.mu.Unlock()
		key = salted
	}
	return uuid.NewSHA1(identityNamespace, []byte(key)).String()
}

type knownDevice struct {
	usbID   string
	pattern *regexp.Regexp
	name    string
}

// knownDevices maps recognizable hardware to canonical stream names. USB ids
// are checked first, then the patterns against the raw id and description.
var knownDevices = []knownDevice{
	{usbID: "2e88:4610", name: "rode_ai_micro"},
	{pattern: regexp.MustCompile(`(?i)ai-?micro`), name: "rode_ai_micro"},
	{pattern: regexp.MustCompile(`(?i)nt-?usb`), name: "rode_nt_usb"},
	{pattern: regexp.MustCompile(`(?i)yeti`), name: "blue_yeti"},
	{pattern: regexp.MustCompile(`(?i)snowball`), name: "blue_snowball"},
	{pattern: regexp.MustCompile(`(?i)scarlett`), name: "focusrite_scarlett"},
	{pattern: regexp.MustCompile(`(?i)at2020`), name: "audio_technica_at2020"},
}

// Namer turns a device into a bounded friendly-name candidate.
type Namer struct {
	MaxLength int
	Category  string
}

func (n Namer) category() string {
	if c := textutil.SanitizeIdentifier(n.Category, 0); c != "" {
		return c
	}
	return "usb_audio"
}

// Fallback returns "<category>_<index>".
func (n Namer) Fallback(dev AudioDevice) string {
	return fmt.Sprintf("%s_%d", n.category(), dev.Index)
}

// Candidate returns the canonical name for known hardware, otherwise the
// sanitized raw id bounded to MaxLength, otherwise the fallback. Canonical
// names are used whole; MaxLength only bounds names derived from raw ids.
func (n Namer) Candidate(dev AudioDevice) string {
	if name := knownName(dev); name != "" {
		return name
	}
	if name := textutil.SanitizeIdentifier(dev.RawName, n.MaxLength); name != "" {
		return name
	}
	return n.Fallback(dev)
}

// Disambiguated returns the sanitized raw id with a suffix taken from the
// first six hex digits of id. The same device always gets the same suffix.
func (n Namer) Disambiguated(dev AudioDevice, id string) string {
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	limit := 0
	if n.MaxLength > 0 {
		limit = n.MaxLength - len(suffix) - 1
		if limit < 1 {
			limit = 1
		}
	}
	base := textutil.SanitizeIdentifier(dev.RawName, limit)
	if base == "" {
		base = textutil.Truncate(n.Fallback(dev), limit)
	}
	return base + "_" + suffix
}

func knownName(dev AudioDevice) string {
	if usbID := dev.USBID(); usbID != "" {
		for _, known := range knownDevices {
			if known.usbID == usbID {
				return known.name
			}
		}
	}
	for _, known := range knownDevices {
		if known.pattern == nil {
			continue
		}
		if known.pattern.MatchString(dev.RawName) || known.pattern.MatchString(dev.Description) {
			return known.name
		}
	}
	return ""
}
