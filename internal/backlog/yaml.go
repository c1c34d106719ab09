package backlog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLStory represents a story as defined in a YAML import file.
type YAMLStory struct {
	Title              string   `yaml:"title"`
	Description        string   `yaml:"description,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptanceCriteria,omitempty"`
}

// YAMLFile represents the structure of a stories YAML file.
type YAMLFile struct {
	ProjectName string      `yaml:"projectName,omitempty"`
	Description string      `yaml:"description,omitempty"`
	Stories     []YAMLStory `yaml:"stories"`
}

// ImportError describes a story that could not be imported.
type ImportError struct {
	Index  int
	Reason string
}

// ImportResult contains the results of a YAML import operation.
type ImportResult struct {
	Imported int
	Errors   []ImportError
}

// ImportFromYAML reads stories from a YAML file and appends them to the
// backlog in the store, creating the backlog if it does not exist yet.
// Stories without a title are skipped and reported in the result.
func ImportFromYAML(store *Store, path string) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}

	var yamlFile YAMLFile
	if err := yaml.Unmarshal(data, &yamlFile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	b, err := store.Load()
	if err != nil {
		if !store.Exists() {
			b = &Backlog{
				ProjectName: yamlFile.ProjectName,
				Description: yamlFile.Description,
			}
			if b.ProjectName == "" {
				b.ProjectName = "imported"
			}
		} else {
			return nil, err
		}
	}

	result := &ImportResult{}
	for i, ys := range yamlFile.Stories {
		if ys.Title == "" {
			result.Errors = append(result.Errors, ImportError{Index: i, Reason: "title is required"})
			continue
		}
		b.AddStory(ys.Title, ys.Description, ys.AcceptanceCriteria)
		result.Imported++
	}

	if err := store.Save(b); err != nil {
		return nil, err
	}

	return result, nil
}
