package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// EndpointConfig describes a concrete model endpoint.
type EndpointConfig struct {
	// Provider is the wire dialect: "gemini", "openai", "stability".
	Provider string `yaml:"provider" json:"provider"`

	// URL is the provider base URL. API keys come from provider-specific
	// environment variables, never from configuration.
	URL string `yaml:"url" json:"url"`

	// Model is the provider-side model identifier.
	Model string `yaml:"model" json:"model"`

	// MaxTokens caps response length for text-producing calls.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// CapabilityConfig maps a capability to its endpoint chain.
type CapabilityConfig struct {
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Preferred   string   `yaml:"preferred" json:"preferred"`
	Fallback    []string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// Profile is a named generation strategy. Each task fans out across every
// profile whose category patterns match, so profiles are what parallel
// refinement parallelizes over.
type Profile struct {
	// Name identifies the profile in results and logs.
	Name string `yaml:"name" json:"name"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// PromptContext is injected into enhancement prompts so the expanded
	// instruction suits this profile's generation model.
	PromptContext string `yaml:"prompt_context,omitempty" json:"prompt_context,omitempty"`

	// Endpoints is the generation chain for this profile, tried in order.
	Endpoints []string `yaml:"endpoints" json:"endpoints"`

	// Categories holds glob patterns matched against task categories.
	// Empty means the profile applies to every category.
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Matches reports whether the profile serves the given task category.
func (p *Profile) Matches(category string) bool {
	if len(p.Categories) == 0 {
		return true
	}
	for _, pattern := range p.Categories {
		if ok, err := doublestar.Match(pattern, category); err == nil && ok {
			return true
		}
	}
	return false
}

// DefaultsConfig holds registry-wide defaults.
type DefaultsConfig struct {
	// Endpoint is used when a capability has no configured chain.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Registry manages capability-to-endpoint resolution and generation
// profiles. All methods are safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[Capability]*CapabilityConfig
	endpoints    map[string]*EndpointConfig
	profiles     []Profile
	byName       map[string]int
	defaults     DefaultsConfig
	health       *healthTracker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[Capability]*CapabilityConfig),
		endpoints:    make(map[string]*EndpointConfig),
		byName:       make(map[string]int),
		health:       newHealthTracker(),
	}
}

// NewDefaultRegistry creates a registry with the stock endpoints,
// capability chains, and generation profiles.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.SetEndpoint("gemini-flash", EndpointConfig{
		Provider:  "gemini",
		URL:       "https://generativelanguage.googleapis.com/v1beta",
		Model:     "gemini-2.5-flash",
		MaxTokens: 2048,
	})
	r.SetEndpoint("gemini-image", EndpointConfig{
		Provider: "gemini",
		URL:      "https://generativelanguage.googleapis.com/v1beta",
		Model:    "gemini-2.5-flash-image",
	})
	r.SetEndpoint("gemini-pro", EndpointConfig{
		Provider:  "gemini",
		URL:       "https://generativelanguage.googleapis.com/v1beta",
		Model:     "gemini-2.5-pro",
		MaxTokens: 4096,
	})
	r.SetEndpoint("gpt-4o-mini", EndpointConfig{
		Provider:  "openai",
		URL:       "https://api.openai.com/v1",
		Model:     "gpt-4o-mini",
		MaxTokens: 2048,
	})
	r.SetEndpoint("gpt-image", EndpointConfig{
		Provider: "openai",
		URL:      "https://api.openai.com/v1",
		Model:    "gpt-image-1",
	})
	r.SetEndpoint("o4-mini", EndpointConfig{
		Provider:  "openai",
		URL:       "https://api.openai.com/v1",
		Model:     "o4-mini",
		MaxTokens: 4096,
	})
	r.SetEndpoint("stable-image", EndpointConfig{
		Provider: "stability",
		URL:      "https://api.stability.ai/v2beta",
		Model:    "stable-image-ultra",
	})

	r.SetCapability(CapabilityEnhance, CapabilityConfig{
		Description: "Instruction expansion into profile-specific prompts",
		Preferred:   "gemini-flash",
		Fallback:    []string{"gpt-4o-mini"},
	})
	r.SetCapability(CapabilityValidate, CapabilityConfig{
		Description: "Candidate grading against the reference image",
		Preferred:   "gemini-pro",
		Fallback:    []string{"o4-mini"},
	})

	r.SetProfile(Profile{
		Name:          "gemini-image",
		Description:   "Gemini native image editing",
		PromptContext: "Write a single direct edit instruction. Describe the change concretely and name everything that must stay untouched.",
		Endpoints:     []string{"gemini-image"},
	})
	r.SetProfile(Profile{
		Name:          "gpt-image",
		Description:   "OpenAI image editing",
		PromptContext: "Write a detailed scene-level description of the desired result, then list the preservation constraints explicitly.",
		Endpoints:     []string{"gpt-image"},
	})
	r.SetProfile(Profile{
		Name:          "stable-image",
		Description:   "Stability photographic editing, product and creative work",
		PromptContext: "Write a photographic prompt: subject, lighting, composition. Keep preservation constraints as a separate negative clause.",
		Endpoints:     []string{"stable-image"},
		Categories:    []string{"product/**", "creative/**"},
	})

	r.SetDefaults(DefaultsConfig{Endpoint: "gemini-flash"})
	return r
}

// SetEndpoint adds or replaces an endpoint definition.
func (r *Registry) SetEndpoint(name string, cfg EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := cfg
	r.endpoints[name] = &c
}

// SetCapability adds or replaces a capability chain.
func (r *Registry) SetCapability(cap Capability, cfg CapabilityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := cfg
	r.capabilities[cap] = &c
}

// SetProfile adds a profile or replaces one with the same name, preserving
// registration order. Order matters: it is the iteration order for fan-out
// and the tie-break order for winner selection.
func (r *Registry) SetProfile(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byName[p.Name]; ok {
		r.profiles[i] = p
		return
	}
	r.byName[p.Name] = len(r.profiles)
	r.profiles = append(r.profiles, p)
}

// SetDefaults replaces registry-wide defaults.
func (r *Registry) SetDefaults(d DefaultsConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = d
}

// Endpoint returns the named endpoint definition.
func (r *Registry) Endpoint(name string) (EndpointConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.endpoints[name]
	if !ok {
		return EndpointConfig{}, fmt.Errorf("endpoint %q not configured", name)
	}
	return *cfg, nil
}

// Endpoints returns all configured endpoint names, sorted.
func (r *Registry) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities returns all configured capabilities, sorted.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]Capability, 0, len(r.capabilities))
	for cap := range r.capabilities {
		caps = append(caps, cap)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Profiles returns copies of all profiles in registration order.
func (r *Registry) Profiles() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Profile returns the named profile.
func (r *Registry) Profile(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not configured", name)
	}
	return r.profiles[i], nil
}

// ProfilesFor returns the profiles whose category patterns match the given
// task category, in registration order.
func (r *Registry) ProfilesFor(category string) []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Profile
	for i := range r.profiles {
		if r.profiles[i].Matches(category) {
			out = append(out, r.profiles[i])
		}
	}
	return out
}

// Chain returns the full endpoint chain for a capability: preferred first,
// then fallbacks, then the registry default if nothing is configured.
func (r *Registry) Chain(cap Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chainLocked(cap)
}

func (r *Registry) chainLocked(cap Capability) []string {
	cfg, ok := r.capabilities[cap]
	if !ok || cfg.Preferred == "" {
		if r.defaults.Endpoint != "" {
			return []string{r.defaults.Endpoint}
		}
		return nil
	}
	chain := make([]string, 0, 1+len(cfg.Fallback))
	chain = append(chain, cfg.Preferred)
	chain = append(chain, cfg.Fallback...)
	return chain
}

// AvailableChain returns the capability chain filtered to endpoints whose
// circuit breakers currently admit requests. When every endpoint is tripped
// the full chain is returned so callers still make a recovery attempt.
func (r *Registry) AvailableChain(cap Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := r.chainLocked(cap)
	available := make([]string, 0, len(chain))
	for _, name := range chain {
		if r.health.available(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return chain
	}
	return available
}

// Resolve returns the first available endpoint for a capability.
func (r *Registry) Resolve(cap Capability) (string, EndpointConfig, error) {
	chain := r.AvailableChain(cap)
	if len(chain) == 0 {
		return "", EndpointConfig{}, fmt.Errorf("no endpoints configured for capability %q", cap)
	}
	name := chain[0]
	cfg, err := r.Endpoint(name)
	if err != nil {
		return "", EndpointConfig{}, err
	}
	return name, cfg, nil
}

// GenerationChain returns the profile's endpoint chain filtered by health,
// falling back to the unfiltered chain when everything is tripped.
func (r *Registry) GenerationChain(profileName string) ([]string, error) {
	p, err := r.Profile(profileName)
	if err != nil {
		return nil, err
	}
	available := make([]string, 0, len(p.Endpoints))
	for _, name := range p.Endpoints {
		if r.health.available(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return p.Endpoints, nil
	}
	return available, nil
}

// Replace swaps the registry's contents for the given configuration.
// Endpoint health survives the swap so a config reload does not reset
// tripped breakers.
func (r *Registry) Replace(cfg *RegistryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	endpoints := make(map[string]*EndpointConfig, len(cfg.Endpoints))
	for name, ec := range cfg.Endpoints {
		c := ec
		endpoints[name] = &c
	}
	capabilities := make(map[Capability]*CapabilityConfig, len(cfg.Capabilities))
	for name, cc := range cfg.Capabilities {
		cap := ParseCapability(name)
		if cap == "" {
			return fmt.Errorf("unknown capability %q", name)
		}
		c := cc
		capabilities[cap] = &c
	}
	profiles := make([]Profile, len(cfg.Profiles))
	byName := make(map[string]int, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		profiles[i] = p
		byName[p.Name] = i
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = endpoints
	r.capabilities = capabilities
	r.profiles = profiles
	r.byName = byName
	r.defaults = cfg.Defaults
	return nil
}

// ToConfig exports the registry's current contents.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg := &RegistryConfig{
		Endpoints:    make(map[string]EndpointConfig, len(r.endpoints)),
		Capabilities: make(map[string]CapabilityConfig, len(r.capabilities)),
		Profiles:     make([]Profile, len(r.profiles)),
		Defaults:     r.defaults,
	}
	for name, ec := range r.endpoints {
		cfg.Endpoints[name] = *ec
	}
	for cap, cc := range r.capabilities {
		cfg.Capabilities[cap.String()] = *cc
	}
	copy(cfg.Profiles, r.profiles)
	return cfg
}
