package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/l3wi/takopi-ralph/internal/config"
	"github.com/l3wi/takopi-ralph/internal/reporter"
	"github.com/l3wi/takopi-ralph/internal/runner"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current status",
		Long:  "Display loop status, story counts, circuit breaker counters, and recent history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
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

	snapshot, err := controller.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	_, _ = fmt.Fprint(cmd.OutOrStdout(), reporter.FormatStatus(snapshot))

	return nil
}
