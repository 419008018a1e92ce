package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"streamkeeper/internal/config"
	"streamkeeper/internal/lock"
	"streamkeeper/internal/orchestrator"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitPrerequisite = 2
	exitLocked       = 3
	exitRelay        = 5
)

type daemonFlags struct {
	configPath string
	logLevel   string
}

func parseFlags(args []string) (daemonFlags, error) {
	var opts daemonFlags
	fs := pflag.NewFlagSet("streamkeeperd", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	fs.StringVar(&opts.logLevel, "log-level", "", "Override logging.level")
	if err := fs.Parse(args); err != nil {
		return daemonFlags{}, err
	}
	if fs.NArg() > 0 {
		return daemonFlags{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// exitCode mirrors the codes `streamkeeper start` reports so a service
// manager sees the same reason the CLI would.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return exitOK
	}
	var held *lock.HeldError
	switch {
	case errors.Is(err, orchestrator.ErrPrerequisiteMissing):
		return exitPrerequisite
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.As(err, &held), errors.Is(err, lock.ErrTimedOut):
		return exitLocked
	case errors.Is(err, orchestrator.ErrRelayUnavailable):
		return exitRelay
	default:
		return exitFailure
	}
}
