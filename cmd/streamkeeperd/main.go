// Command streamkeeperd runs the streamkeeper daemon in the foreground. It is
// meant for service managers; interactive use goes through `streamkeeper`.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"streamkeeper/internal/daemonrun"
)

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "streamkeeperd:", err)
		os.Exit(exitFailure)
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "streamkeeperd:", err)
		os.Exit(exitFailure)
	}

	err = daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: opts.logLevel, Console: true})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "streamkeeperd:", err)
	}
	os.Exit(exitCode(err))
}
