package taskorchestrator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/retouch/genai"
	"github.com/c360studio/retouch/pipeline"
)

// orchestratorSchema defines the configuration schema.
var orchestratorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the task orchestrator component.
type Config struct {
	// StreamName is the JetStream stream carrying task deliveries.
	StreamName string `json:"stream_name"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name"`

	// FilterSubject selects delivery messages from the stream.
	FilterSubject string `json:"filter_subject"`

	// Workers bounds the number of concurrently running task pipelines.
	Workers int `json:"workers"`

	// MaxDeliver bounds JetStream redeliveries per message.
	MaxDeliver int `json:"max_deliver"`

	// AckWait is how long JetStream waits for an ack before redelivery.
	// Must cover a full worst-case run; there is no task-wide deadline.
	AckWait time.Duration `json:"ack_wait"`

	// CleanupInterval is the period between stale-lock sweeps.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// ResultSubjectPrefix is where terminal results are published; the
	// terminal status is appended as the final token.
	ResultSubjectPrefix string `json:"result_subject_prefix"`

	// ReviewSubjectPrefix is where review requests are published; the
	// task id is appended as the final token.
	ReviewSubjectPrefix string `json:"review_subject_prefix"`

	// Pipeline tunes the orchestration core.
	Pipeline pipeline.Config `json:"pipeline"`

	// Providers holds per-operation provider call timeouts.
	Providers genai.ServiceConfig `json:"providers"`

	// MaxProviderAttempts bounds retries for transient provider errors
	// within a single call.
	MaxProviderAttempts int `json:"max_provider_attempts"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:          "RETOUCH",
		ConsumerName:        "task-orchestrator",
		FilterSubject:       "retouch.task.delivered.>",
		Workers:             4,
		MaxDeliver:          3,
		AckWait:             30 * time.Minute,
		CleanupInterval:     10 * time.Minute,
		ResultSubjectPrefix: "retouch.task.result",
		ReviewSubjectPrefix: "retouch.review.requested",
		Pipeline:            pipeline.DefaultConfig(),
		Providers:           genai.DefaultServiceConfig(),
		MaxProviderAttempts: 3,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "task-deliveries",
					Type:        "jetstream",
					Subject:     "retouch.task.delivered.>",
					StreamName:  "RETOUCH",
					Description: "Consume task delivery events",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "task-results",
					Type:        "jetstream",
					Subject:     "retouch.task.result.>",
					StreamName:  "RETOUCH",
					Description: "Publish terminal task results",
					Required:    true,
				},
				{
					Name:        "review-requests",
					Type:        "jetstream",
					Subject:     "retouch.review.requested.>",
					StreamName:  "RETOUCH",
					Description: "Publish human review requests",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.FilterSubject == "" {
		return fmt.Errorf("filter_subject is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.MaxDeliver < 1 {
		return fmt.Errorf("max_deliver must be at least 1")
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("ack_wait must be positive")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}
	if c.ResultSubjectPrefix == "" {
		return fmt.Errorf("result_subject_prefix is required")
	}
	if c.ReviewSubjectPrefix == "" {
		return fmt.Errorf("review_subject_prefix is required")
	}
	if c.MaxProviderAttempts < 1 {
		return fmt.Errorf("max_provider_attempts must be at least 1")
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}
