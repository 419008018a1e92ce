package preflight

import (
	"errors"
	"fmt"
	"strings"

	"streamkeeper/internal/config"
	"streamkeeper/internal/deps"
)

// ErrPrerequisiteMissing reports a missing binary or an unusable directory.
var ErrPrerequisiteMissing = errors.New("prerequisite missing")

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every preflight check for the given config: one result
// per external binary followed by the state and log directories.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, dep := range CheckSystemDeps(cfg) {
		if dep.Optional && !dep.Available {
			continue
		}
		detail := dep.Path
		if !dep.Available {
			detail = dep.Detail
		}
		results = append(results, Result{Name: dep.Name, Passed: dep.Available, Detail: detail})
	}
	results = append(results,
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	)
	return results
}

// Verify runs RunAll and returns an ErrPrerequisiteMissing error naming every
// failed check, or nil.
func Verify(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration not loaded", ErrPrerequisiteMissing)
	}
	var failed []string
	for _, r := range RunAll(cfg) {
		if !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPrerequisiteMissing, strings.Join(failed, "; "))
}

// MissingBinaries lists the required binaries that could not be resolved.
func MissingBinaries(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	return deps.MissingRequired(CheckSystemDeps(cfg))
}
