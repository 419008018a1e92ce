package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"streamkeeper/internal/config"
	"streamkeeper/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries the daemon executes. The
// capture probe is only required when probing is enabled.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Encoder",
			Command:     cfg.Encoder.Binary,
			Description: "Captures and encodes each device",
		},
		{
			Name:        "Relay",
			Command:     cfg.Relay.Binary,
			Description: "Serves published streams",
		},
		{
			Name:        "Capture probe",
			Command:     cfg.Discovery.ProbeBinary,
			Description: "Checks that devices can be opened",
			Optional:    !cfg.Discovery.Probe,
		},
	}
	return deps.CheckBinaries(requirements)
}
