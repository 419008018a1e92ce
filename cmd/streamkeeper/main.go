package main

import (
	"context"
	"errors"
	"os"
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	if err != nil && !errors.Is(err, context.Canceled) {
		reportError(os.Stderr, err)
	}
	os.Exit(exitCodeFor(err))
}
