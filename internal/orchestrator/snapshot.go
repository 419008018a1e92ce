package orchestrator

import (
	"time"

	"streamkeeper/internal/journal"
)

// Snapshot is the daemon status reported to the CLI and HTTP API.
type Snapshot struct {
	PID                int            `json:"pid"`
	StartedAt          time.Time      `json:"started_at"`
	Relay              RelayStatus    `json:"relay"`
	Streams            []StreamStatus `json:"streams"`
	DevicesDiscovered  int            `json:"devices_discovered"`
	LastDiscovery      time.Time      `json:"last_discovery"`
	LastDiscoveryError string         `json:"last_discovery_error,omitempty"`
	Hotplug            bool           `json:"hotplug"`
	RecentEvents       []EventRecord  `json:"recent_events,omitempty"`
}

// RelayStatus describes the relay server.
type RelayStatus struct {
	Running     bool   `json:"running"`
	Owned       bool   `json:"owned"`
	External    bool   `json:"external"`
	PID         int    `json:"pid,omitempty"`
	APIAddress  string `json:"api_address"`
	RTSPAddress string `json:"rtsp_address"`
	Restarts    int    `json:"restarts"`
	MaxRestarts int    `json:"max_restarts"`
}

// StreamStatus describes one supervised pipeline.
type StreamStatus struct {
	Name          string     `json:"name"`
	DeviceUUID    string     `json:"device_uuid"`
	Device        string     `json:"device"`
	Input         string     `json:"input"`
	State         string     `json:"state"`
	PID           int        `json:"pid,omitempty"`
	RestartCount  int        `json:"restart_count"`
	MaxRestarts   int        `json:"max_restarts"`
	Flaps         int        `json:"flaps"`
	RunningSince  *time.Time `json:"running_since,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastStartedAt *time.Time `json:"last_started_at,omitempty"`
	Holds         []string   `json:"holds,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Unrecoverable bool       `json:"unrecoverable"`
	Adopted       bool       `json:"adopted"`
	Present       bool       `json:"present"`
	URLs          []string   `json:"urls"`
}

// EventRecord is a journal entry in status output.
type EventRecord struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Stream string    `json:"stream,omitempty"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// StateCounts tallies streams per state.
func (s Snapshot) StateCounts() map[string]int {
	counts := make(map[string]int)
	for _, st := range s.Streams {
		counts[st.State]++
	}
	return counts
}

func eventRecords(entries []journal.Entry) []EventRecord {
	out := make([]EventRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, EventRecord{At: e.At, Source: e.Source, Stream: e.Stream, Kind: e.Kind, Detail: e.Detail})
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
