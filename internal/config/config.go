// Package config handles configuration loading for warden.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/wardenlabs/warden/internal/jobs"
	"github.com/wardenlabs/warden/internal/provider"
)

// Config holds all configuration for warden.
type Config struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	Loop      LoopConfig       `mapstructure:"loop"`
	Entropy   EntropyConfig    `mapstructure:"entropy"`
	Jobs      JobsConfig       `mapstructure:"jobs"`
	Daemon    DaemonConfig     `mapstructure:"daemon"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// ProviderConfig describes one model backend registration.
type ProviderConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`
	// APIKey may contain a literal key or a ${VAR} reference.
	APIKey string `mapstructure:"api_key"`
	// APIKeyEnv names an environment variable to read the key from.
	APIKeyEnv  string `mapstructure:"api_key_env"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Tier       string `mapstructure:"tier"`
	Priority   int    `mapstructure:"priority"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// LoopConfig holds execution loop budgets.
type LoopConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
	// SubTaskMaxIterations bounds delegated child runs; kept smaller than
	// the top-level budget to prevent unbounded recursive delegation.
	SubTaskMaxIterations int `mapstructure:"subtask_max_iterations"`
	MaxTokens            int `mapstructure:"max_tokens"`
}

// EntropyConfig holds stagnation detection settings.
type EntropyConfig struct {
	Window int `mapstructure:"window"`
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// KeepRunning lists command prefixes that are not killed on timeout.
	KeepRunning   []string `mapstructure:"keep_running"`
	MaxConcurrent int      `mapstructure:"max_concurrent_subtasks"`
}

// DaemonConfig holds autonomous tick settings.
type DaemonConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	ErrorThreshold int           `mapstructure:"error_threshold"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load loads configuration.
// Precedence (highest to lowest):
// 1. Environment variables (WARDEN_*)
// 2. Project config (.warden/config.yaml in current directory or parent)
// 3. User config (~/.config/warden/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("WARDEN")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Registrations resolves provider configs into router registrations,
// expanding ${VAR} references and api_key_env indirection.
func (c *Config) Registrations() []provider.Registration {
	regs := make([]provider.Registration, 0, len(c.Providers))
	for _, p := range c.Providers {
		key := os.ExpandEnv(p.APIKey)
		if key == "" && p.APIKeyEnv != "" {
			key = os.Getenv(p.APIKeyEnv)
		}
		tier := provider.Tier(p.Tier)
		if tier == "" {
			tier = provider.TierPrimary
		}
		regs = append(regs, provider.Registration{
			Name:       p.Name,
			Kind:       provider.Kind(p.Kind),
			APIKey:     key,
			BaseURL:    p.BaseURL,
			Model:      p.Model,
			Tier:       tier,
			Priority:   p.Priority,
			UseBedrock: p.UseBedrock,
			AWSRegion:  p.AWSRegion,
			AWSProfile: p.AWSProfile,
		})
	}
	return regs
}

// JobPolicy builds the job timeout policy.
func (c *Config) JobPolicy() jobs.Policy {
	return jobs.Policy{
		Timeout:     c.Jobs.Timeout,
		KeepRunning: c.Jobs.KeepRunning,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("loop.max_iterations", 10)
	v.SetDefault("loop.subtask_max_iterations", 8)
	v.SetDefault("loop.max_tokens", 8192)

	v.SetDefault("entropy.window", 3)

	v.SetDefault("jobs.timeout", "2m")
	v.SetDefault("jobs.keep_running", []string{})
	v.SetDefault("jobs.max_concurrent_subtasks", 4)

	v.SetDefault("daemon.tick_interval", "10s")
	v.SetDefault("daemon.error_threshold", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 20)
	v.SetDefault("logging.max_backups", 3)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "warden")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "warden")
	}
	return filepath.Join(home, ".config", "warden")
}

// findProjectConfig searches for .warden/config.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".warden", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
