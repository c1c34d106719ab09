// Package state manages the .takopi directory structure and the durable
// loop state for a project.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directory and file names for the .takopi structure.
const (
	TakopiDir = ".takopi"
	LogsDir   = "logs"
	StateFile = "state.json"
)

// TakopiDirPath returns the path to the .takopi directory.
func TakopiDirPath(root string) string {
	return filepath.Join(root, TakopiDir)
}

// LogsDirPath returns the path to the agent logs directory.
func LogsDirPath(root string) string {
	return filepath.Join(root, TakopiDir, LogsDir)
}

// StateFilePath returns the path to the loop state file.
func StateFilePath(root string) string {
	return filepath.Join(root, TakopiDir, StateFile)
}

// EnsureTakopiDir creates the .takopi directory structure if it doesn't
// exist:
//   - .takopi/
//   - .takopi/logs/
//
// The function is idempotent - calling it multiple times is safe.
// All directories are created with 0755 permissions (rwxr-xr-x).
func EnsureTakopiDir(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return fmt.Errorf("root directory does not exist: %s", root)
	}

	dirs := []string{
		TakopiDirPath(root),
		LogsDirPath(root),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
