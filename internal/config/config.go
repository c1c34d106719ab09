// Package config loads harness configuration from takopi.yaml.
package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config holds all harness configuration.
type Config struct {
	Backlog Backlog `mapstructure:"backlog"`
	Agent   Agent   `mapstructure:"agent"`
	Loop    Loop    `mapstructure:"loop"`
	Breaker Breaker `mapstructure:"breaker"`
}

// Backlog holds backlog store settings.
type Backlog struct {
	// Path is the backlog file path relative to the project root.
	Path string `mapstructure:"path"`
}

// Agent holds agent session settings.
type Agent struct {
	// Command is the agent CLI invocation (binary plus leading args).
	Command []string `mapstructure:"command"`
	// Args are extra arguments appended to every invocation.
	Args []string `mapstructure:"args"`
}

// Loop holds iteration loop settings.
type Loop struct {
	// MaxIterations bounds a single start invocation.
	MaxIterations int `mapstructure:"max_iterations"`
	// HistoryCap bounds the persisted loop history length.
	HistoryCap int `mapstructure:"history_cap"`
}

// Breaker holds circuit breaker thresholds.
type Breaker struct {
	NoProgress      int `mapstructure:"no_progress"`
	TestOnly        int `mapstructure:"test_only"`
	ConflictingDone int `mapstructure:"conflicting_done"`
}

// LoadWithFile loads configuration from a specific file if provided,
// otherwise falls back to Load with the working directory.
func LoadWithFile(workDir, configFile string) (*Config, error) {
	if configFile != "" {
		return LoadFromPath(configFile)
	}
	return Load(workDir)
}

// Load loads configuration from takopi.yaml in the given directory.
// If no config file exists, defaults are returned.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("takopi")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults sets all default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("backlog.path", DefaultBacklogPath)

	v.SetDefault("agent.command", []string{DefaultAgentCommand})
	v.SetDefault("agent.args", []string{})

	v.SetDefault("loop.max_iterations", DefaultMaxIterations)
	v.SetDefault("loop.history_cap", DefaultHistoryCap)

	v.SetDefault("breaker.no_progress", DefaultNoProgressThreshold)
	v.SetDefault("breaker.test_only", DefaultTestOnlyThreshold)
	v.SetDefault("breaker.conflicting_done", DefaultConflictingDoneThreshold)
}
