package statestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"streamkeeper/internal/statestore"
)

func TestWriteFileCreatesParentsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "value.txt")

	if err := statestore.WriteFile(path, []byte("first\n")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := statestore.WriteFile(path, []byte("second\n")); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "second\n" {
		t.Fatalf("unexpected contents %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the final file to remain, got %d entries", len(entries))
	}
}

func TestReadLinesSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.conf")
	content := "# devices to ignore\n\nHDMI\n  PCH  \n# trailing comment\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	lines, err := statestore.ReadLines(path)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 2 || lines[0] != "HDMI" || lines[1] != "PCH" {
		t.Fatalf("unexpected lines %v", lines)
	}

	missing, err := statestore.ReadLines(filepath.Join(t.TempDir(), "absent"))
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing file, got %v, %v", missing, err)
	}
}

func TestKeyValuesRoundTripIgnoresComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.conf")
	content := "# override\nSAMPLE_RATE=44100\nbitrate=\"96k\"\nFUTURE_KEY=whatever\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	values, err := statestore.ReadKeyValues(path)
	if err != nil {
		t.Fatalf("ReadKeyValues: %v", err)
	}
	if values["SAMPLE_RATE"] != "44100" || values["bitrate"] != "96k" {
		t.Fatalf("unexpected values %v", values)
	}

	out := filepath.Join(t.TempDir(), "restart.state")
	if err := statestore.WriteKeyValues(out, map[string]string{"restart_count": "2"}); err != nil {
		t.Fatalf("WriteKeyValues: %v", err)
	}
	back, err := statestore.ReadKeyValues(out)
	if err != nil {
		t.Fatalf("ReadKeyValues: %v", err)
	}
	if back["restart_count"] != "2" {
		t.Fatalf("unexpected round trip %v", back)
	}
}

func TestPIDFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.pid")

	pid, err := statestore.ReadPID(path)
	if err != nil || pid != 0 {
		t.Fatalf("missing pid file: got %d, %v", pid, err)
	}
	if err := statestore.WritePID(path, 4242); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	pid, err = statestore.ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID: got %d, %v", pid, err)
	}
	if err := statestore.WritePID(path, 0); err == nil {
		t.Fatal("expected error for invalid pid")
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("seed garbage: %v", err)
	}
	if _, err := statestore.ReadPID(path); err == nil {
		t.Fatal("expected parse error for garbage pid file")
	}

	if err := statestore.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := statestore.Remove(path); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err = %v", err)
	}
}
