package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/l3wi/takopi-ralph/internal/config"
	"github.com/l3wi/takopi-ralph/internal/runner"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Request a graceful stop",
		Long: `Record a stop request in the durable state. A loop running in another
process honors it at the next iteration boundary; an in-flight agent call is
never interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd)
		},
	}
}

func runStop(cmd *cobra.Command) error {
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

	status, err := controller.RequestStop()
	if err != nil {
		return fmt.Errorf("failed to request stop: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stop requested (status: %s). The loop honors it at the next iteration boundary.\n", status)

	return nil
}
