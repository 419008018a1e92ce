package devices

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"streamkeeper/internal/statestore"
)

// IdentityMap is the persisted uuid=friendlyName table. Entries are only ever
// appended; operators may edit names by hand between runs.
type IdentityMap struct {
	path   string
	byUUID map[string]string
	order  []string
}

// LoadIdentityMap reads path. A missing file is an empty map; malformed lines
// are skipped and the first entry for a uuid wins.
func LoadIdentityMap(path string) (*IdentityMap, error) {
	m := &IdentityMap{path: path, byUUID: map[string]string{}}
	if path == "" {
		return m, nil
	}
	lines, err := statestore.ReadLines(path)
	if err != nil {
		return m, err
	}
	for _, line := range lines {
		id, name, ok := strings.Cut(line, "=")
		id = strings.TrimSpace(id)
		name = strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			continue
		}
		if _, exists := m.byUUID[id]; exists {
			continue
		}
		m.byUUID[id] = name
		m.order = append(m.order, id)
	}
	return m, nil
}

// Lookup returns the friendly name recorded for id.
func (m *IdentityMap) Lookup(id string) (string, bool) {
	name, ok := m.byUUID[id]
	return name, ok
}

// NameOwner returns the uuid that owns name, if any.
func (m *IdentityMap) NameOwner(name string) (string, bool) {
	for _, id := range m.order {
		if m.byUUID[id] == name {
			return id, true
		}
	}
	return "", false
}

// Len reports the number of entries.
func (m *IdentityMap) Len() int { return len(m.order) }

// Entries returns the identities in file order.
func (m *IdentityMap) Entries() []DeviceIdentity {
	out := make([]DeviceIdentity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, DeviceIdentity{UUID: id, FriendlyName: m.byUUID[id]})
	}
	return out
}

// Insert records id=name. An existing entry is left untouched. The file is
// rewritten atomically with the new line appended so operator comments and
// ordering survive.
func (m *IdentityMap) Insert(id, name string) error {
	if _, exists := m.byUUID[id]; exists {
		return nil
	}
	if m.path != "" {
		existing, err := os.ReadFile(m.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read identity map: %w", err)
		}
		var b strings.Builder
		b.Write(existing)
		if len(existing) > 0 && existing[len(existing)-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteString(id)
		b.WriteByte('=')
		b.WriteString(name)
		b.WriteByte('\n')
		if err := statestore.WriteFile(m.path, []byte(b.String())); err != nil {
			return fmt.Errorf("write identity map: %w", err)
		}
	}
	m.byUUID[id] = name
	m.order = append(m.order, id)
	return nil
}
