// Package main is the entry point for the argus correlation engine.
package main

import (
	"fmt"
	"os"

	"argus/bootstrap"
	"argus/cmd"
)

// run initializes and starts the engine process.
func run() error {
	configPath := os.Getenv("ARGUS_CONFIG")

	app, err := bootstrap.NewApp(configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	// Blocks until SIGINT/SIGTERM, then drains.
	app.Run()
	return nil
}

// main is the entry point.
func main() {
	// Check if running as CLI command
	if len(os.Args) > 1 && os.Args[1] == "rules" {
		// Strip "rules" from os.Args since the command already knows it's
		// the rules command
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

		rulesCmd := cmd.NewRulesCmd()
		if err := rulesCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Otherwise run as normal server
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
