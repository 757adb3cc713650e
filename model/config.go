package model

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// RegistryConfig is the serialized form of a registry. It is the format of
// the profiles file referenced from the main configuration.
type RegistryConfig struct {
	Endpoints    map[string]EndpointConfig   `yaml:"endpoints" json:"endpoints"`
	Capabilities map[string]CapabilityConfig `yaml:"capabilities" json:"capabilities"`
	Profiles     []Profile                   `yaml:"profiles" json:"profiles"`
	Defaults     DefaultsConfig              `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// Validate checks internal consistency: endpoints referenced by chains and
// profiles must exist, profile names must be unique, and category patterns
// must be valid globs.
func (c *RegistryConfig) Validate() error {
	for name, ep := range c.Endpoints {
		if ep.Provider == "" {
			return fmt.Errorf("endpoint %q: provider is required", name)
		}
		if ep.URL == "" {
			return fmt.Errorf("endpoint %q: url is required", name)
		}
		if ep.Model == "" {
			return fmt.Errorf("endpoint %q: model is required", name)
		}
	}

	for name, cap := range c.Capabilities {
		if ParseCapability(name) == "" {
			return fmt.Errorf("unknown capability %q", name)
		}
		if cap.Preferred == "" {
			return fmt.Errorf("capability %q: preferred endpoint is required", name)
		}
		if _, ok := c.Endpoints[cap.Preferred]; !ok {
			return fmt.Errorf("capability %q: preferred endpoint %q not defined", name, cap.Preferred)
		}
		for _, fb := range cap.Fallback {
			if _, ok := c.Endpoints[fb]; !ok {
				return fmt.Errorf("capability %q: fallback endpoint %q not defined", name, fb)
			}
		}
	}

	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("profile %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
		if len(p.Endpoints) == 0 {
			return fmt.Errorf("profile %q: at least one endpoint is required", p.Name)
		}
		for _, ep := range p.Endpoints {
			if _, ok := c.Endpoints[ep]; !ok {
				return fmt.Errorf("profile %q: endpoint %q not defined", p.Name, ep)
			}
		}
		for _, pattern := range p.Categories {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("profile %q: invalid category pattern %q", p.Name, pattern)
			}
		}
	}
	return nil
}

// LoadFile loads a registry from a YAML file. The file may either be a bare
// registry config or wrap it under a "model_registry" key.
func LoadFile(path string) (*Registry, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg)
}

// LoadYAML loads a registry from YAML data.
func LoadYAML(data []byte) (*Registry, error) {
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return FromConfig(cfg)
}

// LoadConfigFile parses a profiles YAML file without building a registry.
// Hot reload uses this to swap the parsed config into a live registry so
// circuit-breaker state survives the swap.
func LoadConfigFile(path string) (*RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML data into a registry config. The data may either
// be a bare registry config or wrap it under a "model_registry" key.
func ParseConfig(data []byte) (*RegistryConfig, error) {
	var wrapped struct {
		ModelRegistry *RegistryConfig `yaml:"model_registry"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && wrapped.ModelRegistry != nil {
		return wrapped.ModelRegistry, nil
	}

	var cfg RegistryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse profiles config: %w", err)
	}
	return &cfg, nil
}

// FromConfig builds a fresh registry from a config.
func FromConfig(cfg *RegistryConfig) (*Registry, error) {
	r := NewRegistry()
	if err := r.Replace(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// MergeFromConfig overlays configuration onto an existing registry.
// Entries with matching names are overwritten; everything else is kept.
// Unlike Replace, references are not required to be self-contained since
// the overlay may point at endpoints the registry already has.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) error {
	for name, ep := range cfg.Endpoints {
		r.SetEndpoint(name, ep)
	}
	for name, cc := range cfg.Capabilities {
		cap := ParseCapability(name)
		if cap == "" {
			return fmt.Errorf("unknown capability %q", name)
		}
		r.SetCapability(cap, cc)
	}
	for _, p := range cfg.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile with empty name")
		}
		r.SetProfile(p)
	}
	if cfg.Defaults.Endpoint != "" {
		r.SetDefaults(cfg.Defaults)
	}
	return nil
}
