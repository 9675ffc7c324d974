package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "culprit",
	Short: "Server for the culprit deduction game",
	Long: `culprit runs the server-authoritative deduction game.

Players connect over WebSocket, interrogate AI-voiced suspects in
timed rounds, pin statements to a deduction board, and accuse a
suspect. The server owns all game state; clients only send intents
and render snapshots.

Example:
  culprit serve --config server.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "culprit.yaml", "path to the server config file")
}
