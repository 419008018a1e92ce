package proc

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Alive reports whether pid names a running, non-zombie process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	statuses, err := p.Status()
	if err != nil {
		return true
	}
	for _, status := range statuses {
		if status == process.Zombie {
			return false
		}
	}
	return true
}

// AliveAs reports whether pid is alive and its executable base name matches
// want. An empty want skips the name check. Used to reject recycled pids.
func AliveAs(pid int, want string) bool {
	if !Alive(pid) {
		return false
	}
	want = filepath.Base(strings.TrimSpace(want))
	if want == "" || want == "." {
		return true
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	name, err := p.Name()
	if err != nil {
		return true
	}
	return commMatches(name, want)
}

// commLen is the kernel's comm length limit, excluding the trailing NUL.
const commLen = 15

// commMatches compares a process name against an executable base name. A
// shorter name only matches when it is a comm truncated at commLen.
func commMatches(name, want string) bool {
	if name == want {
		return true
	}
	return len(name) == commLen && strings.HasPrefix(want, name)
}

// GroupAlive reports whether any process in the group pgid still exists.
func GroupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	err := unix.Kill(-pgid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// HoldersOf returns the pids (other than exclude) that have path open.
func HoldersOf(path string, exclude ...int) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	skip := make(map[int]struct{}, len(exclude))
	for _, pid := range exclude {
		skip[pid] = struct{}{}
	}
	var holders []int
	for _, p := range procs {
		pid := int(p.Pid)
		if _, ok := skip[pid]; ok {
			continue
		}
		files, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.Path == path {
				holders = append(holders, pid)
				break
			}
		}
	}
	return holders, nil
}
