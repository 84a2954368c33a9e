package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wardenlabs/warden/internal/provider"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: anthropic
    kind: anthropic
    api_key: sk-test
    model: claude-sonnet-4-20250514
    tier: primary
    priority: 1
  - name: local
    kind: ollama
    base_url: http://localhost:11434
    model: qwen2.5:7b
    tier: consumable
    priority: 1
loop:
  max_iterations: 12
jobs:
  timeout: 90s
  keep_running:
    - npm run dev
daemon:
  tick_interval: 30s
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("Providers = %d, want 2", len(cfg.Providers))
	}
	if cfg.Loop.MaxIterations != 12 {
		t.Errorf("MaxIterations = %d, want 12", cfg.Loop.MaxIterations)
	}
	if cfg.Jobs.Timeout != 90*time.Second {
		t.Errorf("Jobs.Timeout = %v, want 90s", cfg.Jobs.Timeout)
	}
	if cfg.Daemon.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want 30s", cfg.Daemon.TickInterval)
	}

	// Unset values fall back to defaults.
	if cfg.Loop.SubTaskMaxIterations != 8 {
		t.Errorf("SubTaskMaxIterations = %d, want default 8", cfg.Loop.SubTaskMaxIterations)
	}
	if cfg.Entropy.Window != 3 {
		t.Errorf("Entropy.Window = %d, want default 3", cfg.Entropy.Window)
	}
	if cfg.Daemon.ErrorThreshold != 5 {
		t.Errorf("ErrorThreshold = %d, want default 5", cfg.Daemon.ErrorThreshold)
	}
}

func TestRegistrations_ResolvesKeys(t *testing.T) {
	t.Setenv("TEST_WARDEN_KEY", "sk-from-env")
	t.Setenv("TEST_WARDEN_REF", "sk-from-ref")

	cfg := &Config{Providers: []ProviderConfig{
		{Name: "literal", Kind: "openai", APIKey: "sk-literal", Tier: "primary", Priority: 1},
		{Name: "indirect", Kind: "openai", APIKeyEnv: "TEST_WARDEN_KEY", Tier: "primary", Priority: 2},
		{Name: "expanded", Kind: "openai", APIKey: "${TEST_WARDEN_REF}", Tier: "primary", Priority: 3},
		{Name: "untethered", Kind: "ollama", Priority: 1},
	}}

	regs := cfg.Registrations()
	if len(regs) != 4 {
		t.Fatalf("Registrations = %d, want 4", len(regs))
	}

	want := map[string]string{
		"literal":    "sk-literal",
		"indirect":   "sk-from-env",
		"expanded":   "sk-from-ref",
		"untethered": "",
	}
	for _, reg := range regs {
		if reg.APIKey != want[reg.Name] {
			t.Errorf("%s: APIKey = %q, want %q", reg.Name, reg.APIKey, want[reg.Name])
		}
	}

	// Tier defaults to primary when omitted.
	if regs[3].Tier != provider.TierPrimary {
		t.Errorf("default Tier = %q, want %q", regs[3].Tier, provider.TierPrimary)
	}
}

func TestJobPolicy(t *testing.T) {
	cfg := &Config{Jobs: JobsConfig{
		Timeout:     time.Minute,
		KeepRunning: []string{"npm run dev"},
	}}

	policy := cfg.JobPolicy()
	if policy.Timeout != time.Minute {
		t.Errorf("Timeout = %v, want 1m", policy.Timeout)
	}
	if !policy.Exempt("npm run dev") {
		t.Error("keep-running prefix not carried into policy")
	}
}

func TestDefaultConfigYAML_RoundTrips(t *testing.T) {
	out, err := DefaultConfigYAML()
	if err != nil {
		t.Fatalf("DefaultConfigYAML() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, out, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if len(cfg.Providers) == 0 {
		t.Fatal("starter config has no providers")
	}

	var haveConsumable bool
	for _, reg := range cfg.Registrations() {
		if reg.Tier == provider.TierConsumable {
			haveConsumable = true
		}
	}
	if !haveConsumable {
		t.Error("starter config has no consumable-tier provider")
	}
}
