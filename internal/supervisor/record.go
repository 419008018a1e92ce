package supervisor

import (
	"strconv"
	"time"

	"streamkeeper/internal/statestore"
)

// restartRecord is the persisted part of a supervisor's state.
type restartRecord struct {
	RestartCount  int
	Flaps         int
	LastStartedAt time.Time
}

func loadRecord(path string) (restartRecord, error) {
	values, err := statestore.ReadKeyValues(path)
	if err != nil {
		return restartRecord{}, err
	}
	var rec restartRecord
	if n, err := strconv.Atoi(values["restart_count"]); err == nil && n > 0 {
		rec.RestartCount = n
	}
	if n, err := strconv.Atoi(values["flaps"]); err == nil && n > 0 {
		rec.Flaps = n
	}
	if ts, err := time.Parse(time.RFC3339, values["last_started_at"]); err == nil {
		rec.LastStartedAt = ts
	}
	return rec, nil
}

func saveRecord(path string, rec restartRecord) error {
	values := map[string]string{
		"restart_count": strconv.Itoa(rec.RestartCount),
		"flaps":         strconv.Itoa(rec.Flaps),
	}
	if !rec.LastStartedAt.IsZero() {
		values["last_started_at"] = rec.LastStartedAt.UTC().Format(time.RFC3339)
	}
	return statestore.WriteKeyValues(path, values)
}
