package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/l3wi/takopi-ralph/internal/config"
	"github.com/l3wi/takopi-ralph/internal/runner"
)

var startMaxIterations int

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the loop",
		Long: `Run the loop against the project backlog until it completes, pauses,
or the circuit breaker halts it. A halted loop refuses to start until
'takopi-ralph reset' is run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd)
		},
	}

	cmd.Flags().IntVarP(&startMaxIterations, "max-iterations", "n", 0, "maximum iterations for this run (0 uses config)")

	return cmd
}

func runStart(cmd *cobra.Command) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := runner.Options{MaxIterations: startMaxIterations}

	return runner.Run(cmd.Context(), workDir, cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
}
