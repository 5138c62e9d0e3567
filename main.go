// Package main is the entry point for the Bastion threat detection pipeline.
package main

import (
	"fmt"
	"os"

	"bastion/bootstrap"
	"bastion/cmd"
)

// run initializes and starts the pipeline, then blocks until shutdown.
func run() error {
	app, err := bootstrap.NewApp()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()

	return nil
}

func main() {
	// Check if running as CLI command
	if len(os.Args) > 1 && os.Args[1] == "signatures" {
		// Strip "signatures" since the command already knows its own name
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

		signaturesCmd := cmd.NewSignaturesCmd()
		if err := signaturesCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
