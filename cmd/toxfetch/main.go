package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"toxfetch/internal/app"
	"toxfetch/internal/logging"
)

// main is the entry point for the toxfetch application.
func main() {
	// SIGINT/SIGTERM cancel the lookups; results gathered so far are still written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := app.NewAppRunner()
	if err := runner.Run(ctx, os.Args[1:]); err != nil {
		stop()
		printUsage := errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) || errors.Is(err, app.ErrMissingArgs)
		if printUsage {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}

		// Make sure the failure is visible even with -loglevel=none.
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		logging.Logf(logging.Error, "Application execution failed: %v", err)
		os.Exit(1)
	}

	logging.Logf(logging.Info, "toxfetch completed successfully.")
}
