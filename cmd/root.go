// Package cmd provides the takopi-ralph command-line surface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// GetConfigFile returns the config file path from the flag.
func GetConfigFile() string {
	return cfgFile
}

// NewRootCmd creates the root command for the takopi-ralph CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "takopi-ralph",
		Short: "Loop harness for autonomous story delivery",
		Long: `takopi-ralph drives a bounded, repeatable loop that invokes a coding
agent against a persistent story backlog (prd.json), tracks progress across
iterations, and halts on sustained lack of progress via a circuit breaker.

Each iteration starts the agent with a fresh context: the backlog and loop
history are the durable source of truth, not agent memory.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: takopi.yaml in the project directory)")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newImportCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
