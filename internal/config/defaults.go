package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// starterConfig is what `warden init` writes: one provider per kind with the
// key left as an environment reference, plus the default budgets spelled out
// so they are discoverable.
type starterConfig struct {
	Providers []map[string]any `yaml:"providers"`
	Loop      map[string]any   `yaml:"loop"`
	Entropy   map[string]any   `yaml:"entropy"`
	Jobs      map[string]any   `yaml:"jobs"`
	Daemon    map[string]any   `yaml:"daemon"`
	Logging   map[string]any   `yaml:"logging"`
}

// DefaultConfigYAML renders the starter configuration file.
func DefaultConfigYAML() ([]byte, error) {
	starter := starterConfig{
		Providers: []map[string]any{
			{
				"name":        "anthropic",
				"kind":        "anthropic",
				"api_key_env": "ANTHROPIC_API_KEY",
				"model":       "claude-sonnet-4-20250514",
				"tier":        "primary",
				"priority":    1,
			},
			{
				"name":        "deepseek",
				"kind":        "openai",
				"api_key_env": "DEEPSEEK_API_KEY",
				"base_url":    "https://api.deepseek.com/v1",
				"model":       "deepseek-chat",
				"tier":        "primary",
				"priority":    2,
			},
			{
				"name":     "ollama",
				"kind":     "ollama",
				"base_url": "http://localhost:11434",
				"model":    "qwen2.5:7b",
				"tier":     "consumable",
				"priority": 1,
			},
		},
		Loop: map[string]any{
			"max_iterations":         10,
			"subtask_max_iterations": 8,
			"max_tokens":             8192,
		},
		Entropy: map[string]any{
			"window": 3,
		},
		Jobs: map[string]any{
			"timeout":                 "2m",
			"keep_running":            []string{"npm run dev", "python -m http.server"},
			"max_concurrent_subtasks": 4,
		},
		Daemon: map[string]any{
			"tick_interval":   "10s",
			"error_threshold": 5,
		},
		Logging: map[string]any{
			"level":       "info",
			"file":        "",
			"max_size_mb": 20,
			"max_backups": 3,
		},
	}

	out, err := yaml.Marshal(starter)
	if err != nil {
		return nil, fmt.Errorf("render starter config: %w", err)
	}
	return out, nil
}
