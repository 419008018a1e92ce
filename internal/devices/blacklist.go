package devices

import (
	"streamkeeper/internal/statestore"
)

// Blacklist is the set of raw device ids excluded from discovery. Matching is
// exact and case-sensitive.
type Blacklist map[string]struct{}

// LoadBlacklist reads one raw id per line; '#' comments and blank lines are
// ignored. A missing file is an empty blacklist.
func LoadBlacklist(path string) (Blacklist, error) {
	list := Blacklist{}
	if path == "" {
		return list, nil
	}
	lines, err := statestore.ReadLines(path)
	if err != nil {
		return list, err
	}
	for _, line := range lines {
		list[line] = struct{}{}
	}
	return list, nil
}

// Contains reports whether rawName is blacklisted.
func (b Blacklist) Contains(rawName string) bool {
	_, ok := b[rawName]
	return ok
}
