package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/l3wi/takopi-ralph/internal/config"
	"github.com/l3wi/takopi-ralph/internal/runner"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset a halted loop",
		Long: `Clear the circuit breaker and return the loop to IDLE with zeroed
counters. The loop number is preserved. Required after the breaker halts
the loop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd)
		},
	}
}

func runReset(cmd *cobra.Command) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	controller, err := runner.NewController(workDir, cfg, nil, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if err := controller.Reset(); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Circuit breaker reset; loop is IDLE.")

	return nil
}
