package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL nats://localhost:4222, got %s", cfg.NATS.URL)
	}
	if cfg.Pipeline.MaxIterations != 3 {
		t.Errorf("expected 3 max iterations, got %d", cfg.Pipeline.MaxIterations)
	}
	if cfg.Pipeline.MaxAttemptsPerStep != 2 {
		t.Errorf("expected 2 attempts per step, got %d", cfg.Pipeline.MaxAttemptsPerStep)
	}
	if cfg.Pipeline.LockTTL != time.Hour {
		t.Errorf("expected 1h lock TTL, got %v", cfg.Pipeline.LockTTL)
	}
	if cfg.Gateway.MaxBodyBytes != 25<<20 {
		t.Errorf("expected 25MB body cap, got %d", cfg.Gateway.MaxBodyBytes)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing nats url",
			modify:  func(c *Config) { c.NATS.URL = "" },
			wantErr: true,
		},
		{
			name:    "missing admin addr",
			modify:  func(c *Config) { c.Admin.Addr = "" },
			wantErr: true,
		},
		{
			name: "watch without profile path",
			modify: func(c *Config) {
				c.Profiles.Watch = true
				c.Profiles.Path = ""
			},
			wantErr: true,
		},
		{
			name: "watch with profile path",
			modify: func(c *Config) {
				c.Profiles.Watch = true
				c.Profiles.Path = "models.yaml"
			},
			wantErr: false,
		},
		{
			name:    "zero max iterations",
			modify:  func(c *Config) { c.Pipeline.MaxIterations = 0 },
			wantErr: true,
		},
		{
			name:    "zero attempts per step",
			modify:  func(c *Config) { c.Pipeline.MaxAttemptsPerStep = 0 },
			wantErr: true,
		},
		{
			name:    "pass threshold above scale",
			modify:  func(c *Config) { c.Pipeline.PassThreshold = 11 },
			wantErr: true,
		},
		{
			name:    "negative validation delay",
			modify:  func(c *Config) { c.Pipeline.ValidationDelay = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero validation delay is allowed",
			modify:  func(c *Config) { c.Pipeline.ValidationDelay = 0 },
			wantErr: false,
		},
		{
			name:    "zero lock TTL",
			modify:  func(c *Config) { c.Pipeline.LockTTL = 0 },
			wantErr: true,
		},
		{
			name:    "zero generate timeout",
			modify:  func(c *Config) { c.Providers.GenerateTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "missing gateway addr",
			modify:  func(c *Config) { c.Gateway.Addr = "" },
			wantErr: true,
		},
		{
			name:    "zero gateway body cap",
			modify:  func(c *Config) { c.Gateway.MaxBodyBytes = 0 },
			wantErr: true,
		},
		{
			name:    "zero orchestrator workers",
			modify:  func(c *Config) { c.Orchestrator.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "zero cleanup interval",
			modify:  func(c *Config) { c.Orchestrator.CleanupInterval = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "retouch.yaml")

	content := `
nats:
  url: "nats://test:4222"
  name: "retouch-test"
profiles:
  path: "models.yaml"
  watch: true
pipeline:
  max_iterations: 5
  pass_threshold: 7
  validation_delay: 500ms
providers:
  generate_timeout: 4m
gateway:
  addr: ":18080"
orchestrator:
  workers: 8
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.Name != "retouch-test" {
		t.Errorf("expected NATS name retouch-test, got %s", cfg.NATS.Name)
	}
	if !cfg.Profiles.Watch {
		t.Error("expected profile watching enabled")
	}
	if cfg.Pipeline.MaxIterations != 5 {
		t.Errorf("expected 5 max iterations, got %d", cfg.Pipeline.MaxIterations)
	}
	if cfg.Pipeline.PassThreshold != 7 {
		t.Errorf("expected pass threshold 7, got %d", cfg.Pipeline.PassThreshold)
	}
	if cfg.Pipeline.ValidationDelay != 500*time.Millisecond {
		t.Errorf("expected validation delay 500ms, got %v", cfg.Pipeline.ValidationDelay)
	}
	if cfg.Providers.GenerateTimeout != 4*time.Minute {
		t.Errorf("expected generate timeout 4m, got %v", cfg.Providers.GenerateTimeout)
	}
	if cfg.Gateway.Addr != ":18080" {
		t.Errorf("expected gateway addr :18080, got %s", cfg.Gateway.Addr)
	}
	if cfg.Orchestrator.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Orchestrator.Workers)
	}

	// Unset sections keep their defaults.
	if cfg.Admin.Addr != ":9090" {
		t.Errorf("expected default admin addr, got %s", cfg.Admin.Addr)
	}
	if cfg.Pipeline.MaxAttemptsPerStep != 2 {
		t.Errorf("expected default attempts per step, got %d", cfg.Pipeline.MaxAttemptsPerStep)
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("RETOUCH_TEST_NATS_URL", "nats://from-env:4222")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "retouch.yaml")

	content := `
nats:
  url: "${RETOUCH_TEST_NATS_URL}"
  name: "${RETOUCH_TEST_NATS_NAME:-fallback-name}"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.NATS.URL != "nats://from-env:4222" {
		t.Errorf("expected env-expanded URL, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.Name != "fallback-name" {
		t.Errorf("expected default-expanded name, got %s", cfg.NATS.Name)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		NATS: NATSConfig{
			URL: "nats://override:4222",
		},
		Pipeline: PipelineConfig{
			PassThreshold: 9,
		},
		Orchestrator: OrchestratorConfig{
			Workers: 16,
		},
	}

	base.Merge(override)

	if base.NATS.URL != "nats://override:4222" {
		t.Errorf("expected overridden NATS URL, got %s", base.NATS.URL)
	}
	if base.Pipeline.PassThreshold != 9 {
		t.Errorf("expected overridden pass threshold, got %d", base.Pipeline.PassThreshold)
	}
	if base.Orchestrator.Workers != 16 {
		t.Errorf("expected overridden workers, got %d", base.Orchestrator.Workers)
	}

	// Fields the override left zero keep their base values.
	if base.NATS.Name != "retouch" {
		t.Errorf("expected NATS name to remain default, got %s", base.NATS.Name)
	}
	if base.Pipeline.MaxIterations != 3 {
		t.Errorf("expected max iterations to remain default, got %d", base.Pipeline.MaxIterations)
	}
	if base.Gateway.Addr != ":8080" {
		t.Errorf("expected gateway addr to remain default, got %s", base.Gateway.Addr)
	}
}

func TestConfigMergeNil(t *testing.T) {
	base := DefaultConfig()
	base.Merge(nil)

	if base.NATS.URL != "nats://localhost:4222" {
		t.Error("merging nil should leave config unchanged")
	}
}

func TestLoaderExplicitPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "explicit.yaml")

	content := `
pipeline:
  max_iterations: 4
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader(nil)
	cfg, err := loader.Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.MaxIterations != 4 {
		t.Errorf("expected 4 max iterations from explicit config, got %d", cfg.Pipeline.MaxIterations)
	}
}

func TestLoaderExplicitPathMissing(t *testing.T) {
	loader := NewLoader(nil)
	if _, err := loader.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}
