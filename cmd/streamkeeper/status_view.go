package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"streamkeeper/internal/daemonctl"
	"streamkeeper/internal/orchestrator"
)

const timeLayout = "2006-01-02 15:04:05"

func renderStatusReport(w io.Writer, report daemonctl.StatusReport, colorize bool) {
	writeSectionHeader(w, "System Status", colorize)
	for _, line := range systemLines(report, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	writeSectionHeader(w, "Prerequisites", colorize)
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(w, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}

	snap := report.Daemon.Snapshot
	if snap != nil {
		fmt.Fprintln(w)
		writeSectionHeader(w, "Streams", colorize)
		if len(snap.Streams) == 0 {
			fmt.Fprintln(w, "No streams; waiting for a capture device")
		} else {
			fmt.Fprint(w, renderTable(
				[]string{"Stream", "State", "Restarts", "PID", "Device", "URL"},
				streamRows(snap.Streams),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			for _, s := range snap.Streams {
				if s.LastError == "" {
					continue
				}
				fmt.Fprintln(w, renderStatusLine(s.Name, streamStateKind(s.State, s.Unrecoverable), s.LastError, colorize))
			}
		}
	}

	rows := eventRows(report)
	if len(rows) > 0 {
		fmt.Fprintln(w)
		writeSectionHeader(w, "Recent Events", colorize)
		fmt.Fprint(w, renderTable([]string{"Time", "Source", "Stream", "Event", "Detail"}, rows, nil))
	}
}

func systemLines(report daemonctl.StatusReport, colorize bool) []string {
	d := report.Daemon
	lines := make([]string, 0, 6)
	switch {
	case report.Reachable && d.Running:
		detail := fmt.Sprintf("Running (pid %d", d.PID)
		if !d.StartedAt.IsZero() {
			detail += ", since " + d.StartedAt.Local().Format(timeLayout)
		}
		lines = append(lines, renderStatusLine("Streamkeeper", statusOK, detail+")", colorize))
	case d.LastError != "" && !report.Reachable:
		lines = append(lines, renderStatusLine("Streamkeeper", statusError, d.LastError, colorize))
	default:
		lines = append(lines, renderStatusLine("Streamkeeper", statusWarn, "Not running (run `streamkeeper start`)", colorize))
	}

	if snap := d.Snapshot; snap != nil {
		lines = append(lines, renderStatusLine("Relay", relayKind(snap.Relay), relayDetail(snap.Relay), colorize))
		devices := fmt.Sprintf("%d discovered", snap.DevicesDiscovered)
		if !snap.LastDiscovery.IsZero() {
			devices += ", last pass " + snap.LastDiscovery.Local().Format(timeLayout)
		}
		kind := statusOK
		if snap.DevicesDiscovered == 0 {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Devices", kind, devices, colorize))
		if snap.LastDiscoveryError != "" {
			lines = append(lines, renderStatusLine("Discovery", statusWarn, snap.LastDiscoveryError, colorize))
		}
		if snap.Hotplug {
			lines = append(lines, renderStatusLine("Hotplug", statusOK, "udev monitoring active", colorize))
		} else {
			lines = append(lines, renderStatusLine("Hotplug", statusInfo, "Inactive (periodic discovery only)", colorize))
		}
	}
	if report.Reachable {
		if d.APIAddress != "" {
			lines = append(lines, renderStatusLine("HTTP API", statusOK, d.APIAddress, colorize))
		} else {
			lines = append(lines, renderStatusLine("HTTP API", statusInfo, "Disabled", colorize))
		}
		if d.LastError != "" {
			lines = append(lines, renderStatusLine("Last error", statusError, d.LastError, colorize))
		}
	}
	if d.LogPath != "" {
		lines = append(lines, renderStatusLine("Log", statusInfo, d.LogPath, colorize))
	}
	return lines
}

func relayKind(r orchestrator.RelayStatus) statusKind {
	if !r.Running {
		return statusError
	}
	if r.Restarts > 0 {
		return statusWarn
	}
	return statusOK
}

func relayDetail(r orchestrator.RelayStatus) string {
	state := "Down"
	if r.Running {
		state = "Up"
	}
	owner := "owned"
	if r.External {
		owner = "external"
	}
	parts := []string{owner, "rtsp " + r.RTSPAddress}
	if r.Owned && r.PID > 0 {
		parts = append(parts, "pid "+strconv.Itoa(r.PID))
	}
	parts = append(parts, fmt.Sprintf("restarts %d/%d", r.Restarts, r.MaxRestarts))
	return fmt.Sprintf("%s (%s)", state, strings.Join(parts, ", "))
}

func streamRows(streams []orchestrator.StreamStatus) [][]string {
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		state := s.State
		if s.Unrecoverable {
			state += " (unrecoverable)"
		}
		if len(s.Holds) > 0 {
			state += " [held: " + strings.Join(s.Holds, ",") + "]"
		}
		if s.CooldownUntil != nil {
			state += " until " + s.CooldownUntil.Local().Format("15:04:05")
		}
		pid := ""
		if s.PID > 0 {
			pid = strconv.Itoa(s.PID)
		}
		device := s.Device
		if !s.Present {
			device += " (absent)"
		}
		rows = append(rows, []string{
			s.Name,
			state,
			fmt.Sprintf("%d/%d", s.RestartCount, s.MaxRestarts),
			pid,
			device,
			strings.Join(s.URLs, "\n"),
		})
	}
	return rows
}

func eventRows(report daemonctl.StatusReport) [][]string {
	var rows [][]string
	if snap := report.Daemon.Snapshot; snap != nil {
		for _, e := range snap.RecentEvents {
			rows = append(rows, eventRow(e.At, e.Source, e.Stream, e.Kind, e.Detail))
		}
		return rows
	}
	for _, e := range report.RecentEvents {
		rows = append(rows, eventRow(e.At, e.Source, e.Stream, e.Kind, e.Detail))
	}
	return rows
}

func eventRow(at time.Time, source, stream, kind, detail string) []string {
	return []string{at.Local().Format(timeLayout), source, stream, kind, detail}
}
