// Package main is the entry point for the culprit game server CLI.
//
// Usage:
//
//	culprit [flags] <command> [args]
//
// Commands:
//
//	serve      - Run the game server
//	scenario   - Validate a scenario file
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/culprit/cmd/culprit/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
