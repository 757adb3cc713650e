// Package config provides configuration constants for e2e tests.
package config

import "time"

// Default endpoints for a local deployment.
const (
	DefaultNATSURL     = "nats://localhost:4222"
	DefaultGatewayURL  = "http://localhost:8080"
	DefaultProviderURL = "http://localhost:11434"
)

// Default timeouts.
const (
	DefaultSetupTimeout = 30 * time.Second
	DefaultStageTimeout = 60 * time.Second
	DefaultTaskTimeout  = 2 * time.Minute
	DefaultPollInterval = 250 * time.Millisecond

	// QuietPeriod is how long a scenario waits after the expected
	// activity before asserting that nothing further arrived.
	QuietPeriod = 2 * time.Second
)

// NATS subjects published by the deployment under test. These mirror
// the component config defaults; override the config, and the deployed
// components must match.
const (
	// DeliverySubjectWildcard matches all task delivery events.
	DeliverySubjectWildcard = "retouch.task.delivered.>"

	// ResultSubjectPrefix is where terminal results are published; the
	// terminal status is appended as the final token.
	ResultSubjectPrefix = "retouch.task.result"

	// ReviewSubjectPrefix is where hybrid-fallback review requests are
	// published; the task id is appended as the final token.
	ReviewSubjectPrefix = "retouch.review.requested"
)

// Config holds the e2e test configuration.
type Config struct {
	NATSURL      string        `json:"nats_url"`
	GatewayURL   string        `json:"gateway_url"`
	ProviderURL  string        `json:"provider_url"`
	SetupTimeout time.Duration `json:"setup_timeout"`
	StageTimeout time.Duration `json:"stage_timeout"`
	TaskTimeout  time.Duration `json:"task_timeout"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		NATSURL:      DefaultNATSURL,
		GatewayURL:   DefaultGatewayURL,
		ProviderURL:  DefaultProviderURL,
		SetupTimeout: DefaultSetupTimeout,
		StageTimeout: DefaultStageTimeout,
		TaskTimeout:  DefaultTaskTimeout,
	}
}
