package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/l3wi/takopi-ralph/internal/backlog"
	"github.com/l3wi/takopi-ralph/internal/config"
	"github.com/l3wi/takopi-ralph/internal/state"
)

var initDescription string

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <project-name>",
		Short: "Create a new backlog",
		Long:  "Create the .takopi directory and an empty backlog file for the project.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&initDescription, "description", "d", "", "project description")

	return cmd
}

func runInit(cmd *cobra.Command, projectName string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := state.EnsureTakopiDir(workDir); err != nil {
		return fmt.Errorf("failed to create .takopi directory: %w", err)
	}

	store := backlog.NewStore(filepath.Join(workDir, cfg.Backlog.Path))
	if store.Exists() {
		return fmt.Errorf("backlog already exists: %s", store.Path())
	}

	b := &backlog.Backlog{
		ProjectName: projectName,
		Description: initDescription,
	}
	if err := store.Save(b); err != nil {
		return fmt.Errorf("failed to create backlog: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created %s for project %q. Add stories with 'takopi-ralph import'.\n", store.Path(), projectName)

	return nil
}
