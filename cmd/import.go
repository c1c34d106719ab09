package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/l3wi/takopi-ralph/internal/backlog"
	"github.com/l3wi/takopi-ralph/internal/config"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <stories.yaml>",
		Short: "Import stories from a YAML file",
		Long:  "Append stories from a YAML file to the backlog, creating the backlog if needed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0])
		},
	}
}

func runImport(cmd *cobra.Command, yamlPath string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg, err := config.LoadWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store := backlog.NewStore(filepath.Join(workDir, cfg.Backlog.Path))

	result, err := backlog.ImportFromYAML(store, yamlPath)
	if err != nil {
		return fmt.Errorf("failed to import stories: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d stories.\n", result.Imported)
	for _, importErr := range result.Errors {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Skipped story at index %d: %s\n", importErr.Index, importErr.Reason)
	}

	return nil
}
