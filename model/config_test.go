package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `
endpoints:
  flash:
    provider: gemini
    url: https://generativelanguage.googleapis.com/v1beta
    model: gemini-2.5-flash
    max_tokens: 2048
  img:
    provider: gemini
    url: https://generativelanguage.googleapis.com/v1beta
    model: gemini-2.5-flash-image
capabilities:
  enhance:
    preferred: flash
  validate:
    preferred: flash
profiles:
  - name: img
    endpoints: [img]
  - name: img-product
    endpoints: [img]
    categories: ["product/**"]
defaults:
  endpoint: flash
`

func TestLoadYAML(t *testing.T) {
	r, err := LoadYAML([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("LoadYAML returned error: %v", err)
	}

	name, cfg, err := r.Resolve(CapabilityEnhance)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if name != "flash" {
		t.Errorf("expected flash, got %q", name)
	}
	if cfg.MaxTokens != 2048 {
		t.Errorf("expected max_tokens 2048, got %d", cfg.MaxTokens)
	}

	profiles := r.ProfilesFor("portrait/retouch")
	if len(profiles) != 1 || profiles[0].Name != "img" {
		t.Errorf("expected only the unrestricted profile, got %v", profiles)
	}
	profiles = r.ProfilesFor("product/shoes")
	if len(profiles) != 2 {
		t.Errorf("expected both profiles for product category, got %d", len(profiles))
	}
}

func TestLoadYAMLWrapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("model_registry:\n")
	for _, line := range strings.Split(strings.TrimPrefix(sampleConfig, "\n"), "\n") {
		if line == "" {
			continue
		}
		b.WriteString("  " + line + "\n")
	}

	r, err := LoadYAML([]byte(b.String()))
	if err != nil {
		t.Fatalf("LoadYAML returned error: %v", err)
	}
	if len(r.Profiles()) != 2 {
		t.Errorf("expected 2 profiles from wrapped config, got %d", len(r.Profiles()))
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if len(r.Endpoints()) != 2 {
		t.Errorf("expected 2 endpoints, got %d", len(r.Endpoints()))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRegistryConfigValidate(t *testing.T) {
	valid := func() *RegistryConfig {
		return &RegistryConfig{
			Endpoints: map[string]EndpointConfig{
				"a": {Provider: "openai", URL: "http://x", Model: "m"},
			},
			Capabilities: map[string]CapabilityConfig{
				"enhance": {Preferred: "a"},
			},
			Profiles: []Profile{{Name: "p", Endpoints: []string{"a"}}},
		}
	}

	tests := []struct {
		name     string
		mutate   func(*RegistryConfig)
		errorMsg string
	}{
		{
			name:   "valid config",
			mutate: func(*RegistryConfig) {},
		},
		{
			name: "endpoint missing provider",
			mutate: func(c *RegistryConfig) {
				c.Endpoints["a"] = EndpointConfig{URL: "http://x", Model: "m"}
			},
			errorMsg: "provider is required",
		},
		{
			name: "endpoint missing model",
			mutate: func(c *RegistryConfig) {
				c.Endpoints["a"] = EndpointConfig{Provider: "openai", URL: "http://x"}
			},
			errorMsg: "model is required",
		},
		{
			name: "unknown capability",
			mutate: func(c *RegistryConfig) {
				c.Capabilities["summarize"] = CapabilityConfig{Preferred: "a"}
			},
			errorMsg: "unknown capability",
		},
		{
			name: "dangling preferred endpoint",
			mutate: func(c *RegistryConfig) {
				c.Capabilities["enhance"] = CapabilityConfig{Preferred: "missing"}
			},
			errorMsg: `preferred endpoint "missing" not defined`,
		},
		{
			name: "dangling fallback endpoint",
			mutate: func(c *RegistryConfig) {
				c.Capabilities["enhance"] = CapabilityConfig{Preferred: "a", Fallback: []string{"missing"}}
			},
			errorMsg: `fallback endpoint "missing" not defined`,
		},
		{
			name: "duplicate profile name",
			mutate: func(c *RegistryConfig) {
				c.Profiles = append(c.Profiles, Profile{Name: "p", Endpoints: []string{"a"}})
			},
			errorMsg: "duplicate name",
		},
		{
			name: "profile without endpoints",
			mutate: func(c *RegistryConfig) {
				c.Profiles = []Profile{{Name: "p"}}
			},
			errorMsg: "at least one endpoint",
		},
		{
			name: "profile dangling endpoint",
			mutate: func(c *RegistryConfig) {
				c.Profiles = []Profile{{Name: "p", Endpoints: []string{"missing"}}}
			},
			errorMsg: `endpoint "missing" not defined`,
		},
		{
			name: "invalid category pattern",
			mutate: func(c *RegistryConfig) {
				c.Profiles = []Profile{{Name: "p", Endpoints: []string{"a"}, Categories: []string{"[bad"}}}
			},
			errorMsg: "invalid category pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("unexpected validation error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("error should contain %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()
	before := len(r.Profiles())

	err := r.MergeFromConfig(&RegistryConfig{
		Endpoints: map[string]EndpointConfig{
			"local": {Provider: "openai", URL: "http://localhost:8080/v1", Model: "local"},
		},
		Profiles: []Profile{
			// References an endpoint defined in this overlay.
			{Name: "local", Endpoints: []string{"local"}},
			// Overwrites a stock profile in place.
			{Name: "gemini-image", Endpoints: []string{"gemini-image"}, Categories: []string{"portrait/**"}},
		},
	})
	if err != nil {
		t.Fatalf("MergeFromConfig returned error: %v", err)
	}

	if len(r.Profiles()) != before+1 {
		t.Errorf("expected %d profiles after merge, got %d", before+1, len(r.Profiles()))
	}
	p, err := r.Profile("gemini-image")
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}
	if len(p.Categories) != 1 {
		t.Error("expected overwritten profile to carry new categories")
	}

	err = r.MergeFromConfig(&RegistryConfig{
		Capabilities: map[string]CapabilityConfig{"bogus": {Preferred: "x"}},
	})
	if err == nil {
		t.Error("expected error for unknown capability in overlay")
	}
}

func TestToConfigRoundtrip(t *testing.T) {
	original := NewDefaultRegistry()

	restored, err := FromConfig(original.ToConfig())
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}

	if len(restored.Profiles()) != len(original.Profiles()) {
		t.Errorf("profile count mismatch: %d vs %d",
			len(restored.Profiles()), len(original.Profiles()))
	}
	name, _, err := restored.Resolve(CapabilityValidate)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if name != "gemini-pro" {
		t.Errorf("expected gemini-pro for validate, got %q", name)
	}
}
