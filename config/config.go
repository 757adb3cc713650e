// Package config provides configuration loading and management for the
// retouch service.
package config

import (
	"fmt"
	"os"
	"time"

	semconfig "github.com/c360studio/semstreams/config"
	"gopkg.in/yaml.v3"
)

// Config represents the complete retouch service configuration
type Config struct {
	NATS         NATSConfig         `yaml:"nats"`
	Admin        AdminConfig        `yaml:"admin"`
	Profiles     ProfilesConfig     `yaml:"profiles"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
	// Name is the client connection name
	Name string `yaml:"name"`
}

// AdminConfig configures the admin listener (metrics and liveness)
type AdminConfig struct {
	// Addr is the admin listen address
	Addr string `yaml:"addr"`
}

// ProfilesConfig configures model profile loading
type ProfilesConfig struct {
	// Path is the model profile file (empty = built-in defaults)
	Path string `yaml:"path"`
	// Watch enables hot reload of the profile file
	Watch bool `yaml:"watch"`
	// DebounceDelay is how long to wait for more changes before reloading
	DebounceDelay time.Duration `yaml:"debounce_delay"`
}

// PipelineConfig tunes the orchestration core
type PipelineConfig struct {
	// MaxIterations bounds the parallel refinement loop
	MaxIterations int `yaml:"max_iterations"`
	// MaxAttemptsPerStep bounds retries for each sequential step
	MaxAttemptsPerStep int `yaml:"max_attempts_per_step"`
	// PassThreshold is the minimum validation score (0-10) to pass
	PassThreshold int `yaml:"pass_threshold"`
	// EnhanceConcurrency bounds the enhancement fan-out width
	EnhanceConcurrency int `yaml:"enhance_concurrency"`
	// GenerateConcurrency bounds the generation fan-out width
	GenerateConcurrency int `yaml:"generate_concurrency"`
	// ValidationDelay is the pause between successive grader calls
	ValidationDelay time.Duration `yaml:"validation_delay"`
	// LockTTL is the age past which a held task lock is reclaimable
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// ProvidersConfig configures the model provider clients
type ProvidersConfig struct {
	// EnhanceTimeout bounds a single enhancement call
	EnhanceTimeout time.Duration `yaml:"enhance_timeout"`
	// GenerateTimeout bounds a single generation call
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
	// ValidateTimeout bounds a single validation call
	ValidateTimeout time.Duration `yaml:"validate_timeout"`
	// MaxAttempts bounds retries for transient provider errors
	MaxAttempts int `yaml:"max_attempts"`
}

// GatewayConfig configures the HTTP ingress component
type GatewayConfig struct {
	// Addr is the gateway listen address
	Addr string `yaml:"addr"`
	// MaxBodyBytes caps the accepted request body size
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// MaxConnections caps concurrent gateway connections
	MaxConnections int `yaml:"max_connections"`
}

// OrchestratorConfig configures the task consumer component
type OrchestratorConfig struct {
	// Workers is the number of concurrent task runs
	Workers int `yaml:"workers"`
	// MaxDeliver bounds JetStream redeliveries per message
	MaxDeliver int `yaml:"max_deliver"`
	// CleanupInterval is the period between stale-lock sweeps
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:  "nats://localhost:4222",
			Name: "retouch",
		},
		Admin: AdminConfig{
			Addr: ":9090",
		},
		Profiles: ProfilesConfig{
			Path:          "", // Built-in defaults
			Watch:         false,
			DebounceDelay: 500 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			MaxIterations:       3,
			MaxAttemptsPerStep:  2,
			PassThreshold:       8,
			EnhanceConcurrency:  4,
			GenerateConcurrency: 4,
			ValidationDelay:     2 * time.Second,
			LockTTL:             time.Hour,
		},
		Providers: ProvidersConfig{
			EnhanceTimeout:  60 * time.Second,
			GenerateTimeout: 180 * time.Second,
			ValidateTimeout: 120 * time.Second,
			MaxAttempts:     3,
		},
		Gateway: GatewayConfig{
			Addr:           ":8080",
			MaxBodyBytes:   25 << 20, // 25MB
			MaxConnections: 256,
		},
		Orchestrator: OrchestratorConfig{
			Workers:         4,
			MaxDeliver:      3,
			CleanupInterval: 10 * time.Minute,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Admin.Addr == "" {
		return fmt.Errorf("admin.addr is required")
	}
	if c.Profiles.Watch && c.Profiles.Path == "" {
		return fmt.Errorf("profiles.path is required when profiles.watch is enabled")
	}
	if c.Pipeline.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be at least 1")
	}
	if c.Pipeline.MaxAttemptsPerStep < 1 {
		return fmt.Errorf("pipeline.max_attempts_per_step must be at least 1")
	}
	if c.Pipeline.PassThreshold < 0 || c.Pipeline.PassThreshold > 10 {
		return fmt.Errorf("pipeline.pass_threshold must be between 0 and 10")
	}
	if c.Pipeline.EnhanceConcurrency < 1 || c.Pipeline.GenerateConcurrency < 1 {
		return fmt.Errorf("pipeline concurrency limits must be at least 1")
	}
	if c.Pipeline.ValidationDelay < 0 {
		return fmt.Errorf("pipeline.validation_delay must not be negative")
	}
	if c.Pipeline.LockTTL <= 0 {
		return fmt.Errorf("pipeline.lock_ttl must be positive")
	}
	if c.Providers.EnhanceTimeout <= 0 || c.Providers.GenerateTimeout <= 0 || c.Providers.ValidateTimeout <= 0 {
		return fmt.Errorf("provider timeouts must be positive")
	}
	if c.Providers.MaxAttempts < 1 {
		return fmt.Errorf("providers.max_attempts must be at least 1")
	}
	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required")
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		return fmt.Errorf("gateway.max_body_bytes must be positive")
	}
	if c.Gateway.MaxConnections < 1 {
		return fmt.Errorf("gateway.max_connections must be at least 1")
	}
	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator.workers must be at least 1")
	}
	if c.Orchestrator.MaxDeliver < 1 {
		return fmt.Errorf("orchestrator.max_deliver must be at least 1")
	}
	if c.Orchestrator.CleanupInterval <= 0 {
		return fmt.Errorf("orchestrator.cleanup_interval must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. Environment
// variables in the file are expanded first, supporting both ${VAR} and
// ${VAR:-default} syntax.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := semconfig.ExpandEnvWithDefaults(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Name != "" {
		c.NATS.Name = other.NATS.Name
	}

	// Admin
	if other.Admin.Addr != "" {
		c.Admin.Addr = other.Admin.Addr
	}

	// Profiles
	if other.Profiles.Path != "" {
		c.Profiles.Path = other.Profiles.Path
	}
	if other.Profiles.Watch {
		c.Profiles.Watch = true
	}
	if other.Profiles.DebounceDelay != 0 {
		c.Profiles.DebounceDelay = other.Profiles.DebounceDelay
	}

	// Pipeline
	if other.Pipeline.MaxIterations != 0 {
		c.Pipeline.MaxIterations = other.Pipeline.MaxIterations
	}
	if other.Pipeline.MaxAttemptsPerStep != 0 {
		c.Pipeline.MaxAttemptsPerStep = other.Pipeline.MaxAttemptsPerStep
	}
	if other.Pipeline.PassThreshold != 0 {
		c.Pipeline.PassThreshold = other.Pipeline.PassThreshold
	}
	if other.Pipeline.EnhanceConcurrency != 0 {
		c.Pipeline.EnhanceConcurrency = other.Pipeline.EnhanceConcurrency
	}
	if other.Pipeline.GenerateConcurrency != 0 {
		c.Pipeline.GenerateConcurrency = other.Pipeline.GenerateConcurrency
	}
	if other.Pipeline.ValidationDelay != 0 {
		c.Pipeline.ValidationDelay = other.Pipeline.ValidationDelay
	}
	if other.Pipeline.LockTTL != 0 {
		c.Pipeline.LockTTL = other.Pipeline.LockTTL
	}

	// Providers
	if other.Providers.EnhanceTimeout != 0 {
		c.Providers.EnhanceTimeout = other.Providers.EnhanceTimeout
	}
	if other.Providers.GenerateTimeout != 0 {
		c.Providers.GenerateTimeout = other.Providers.GenerateTimeout
	}
	if other.Providers.ValidateTimeout != 0 {
		c.Providers.ValidateTimeout = other.Providers.ValidateTimeout
	}
	if other.Providers.MaxAttempts != 0 {
		c.Providers.MaxAttempts = other.Providers.MaxAttempts
	}

	// Gateway
	if other.Gateway.Addr != "" {
		c.Gateway.Addr = other.Gateway.Addr
	}
	if other.Gateway.MaxBodyBytes != 0 {
		c.Gateway.MaxBodyBytes = other.Gateway.MaxBodyBytes
	}
	if other.Gateway.MaxConnections != 0 {
		c.Gateway.MaxConnections = other.Gateway.MaxConnections
	}

	// Orchestrator
	if other.Orchestrator.Workers != 0 {
		c.Orchestrator.Workers = other.Orchestrator.Workers
	}
	if other.Orchestrator.MaxDeliver != 0 {
		c.Orchestrator.MaxDeliver = other.Orchestrator.MaxDeliver
	}
	if other.Orchestrator.CleanupInterval != 0 {
		c.Orchestrator.CleanupInterval = other.Orchestrator.CleanupInterval
	}
}
