package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Buffer.Window != 45*time.Second {
		t.Errorf("expected 45s window, got %v", cfg.Buffer.Window)
	}
	if cfg.Buffer.Cap != 100 {
		t.Errorf("expected cap 100, got %d", cfg.Buffer.Cap)
	}
	if cfg.Analyzer.HighThreshold != 0.75 {
		t.Errorf("expected high threshold 0.75, got %v", cfg.Analyzer.HighThreshold)
	}
	if cfg.Analyzer.MediumThreshold != 0.55 {
		t.Errorf("expected medium threshold 0.55, got %v", cfg.Analyzer.MediumThreshold)
	}
	if cfg.Executor.PoolConcurrency != 2 {
		t.Errorf("expected pool concurrency 2, got %d", cfg.Executor.PoolConcurrency)
	}
	if cfg.Executor.Routing["code"] != "development" {
		t.Errorf("expected code to route to development, got %q", cfg.Executor.Routing["code"])
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
buffer:
  window: 2s
  cap: 10
executor:
  pool_concurrency: 4
  routing:
    code: builders
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Buffer.Window != 2*time.Second {
		t.Errorf("expected 2s window, got %v", cfg.Buffer.Window)
	}
	if cfg.Buffer.Cap != 10 {
		t.Errorf("expected cap 10, got %d", cfg.Buffer.Cap)
	}
	if cfg.Executor.PoolConcurrency != 4 {
		t.Errorf("expected pool concurrency 4, got %d", cfg.Executor.PoolConcurrency)
	}
	if cfg.Executor.Routing["code"] != "builders" {
		t.Errorf("expected routing override, got %q", cfg.Executor.Routing["code"])
	}
	// Untouched settings keep their defaults.
	if cfg.Analyzer.HighThreshold != 0.75 {
		t.Errorf("expected default high threshold, got %v", cfg.Analyzer.HighThreshold)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.Buffer.Window = 0 }},
		{"zero cap", func(c *Config) { c.Buffer.Cap = 0 }},
		{"inverted thresholds", func(c *Config) { c.Analyzer.MediumThreshold = 0.9 }},
		{"zero concurrency", func(c *Config) { c.Executor.PoolConcurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
