package taskgateway

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// gatewaySchema defines the configuration schema.
var gatewaySchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the task gateway component.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr" schema:"type:string,description:HTTP listen address,category:basic,default::8080"`

	// MaxBodyBytes caps the accepted request body size, including the
	// uploaded reference image.
	MaxBodyBytes int64 `json:"max_body_bytes" schema:"type:int,description:Maximum request body size in bytes,category:advanced,default:26214400"`

	// MaxConnections caps concurrent gateway connections.
	MaxConnections int `json:"max_connections" schema:"type:int,description:Maximum concurrent connections,category:advanced,default:256,min:1"`

	// DeliverSubjectPrefix is where delivery events are published; the
	// task id is appended as the final token.
	DeliverSubjectPrefix string `json:"deliver_subject_prefix" schema:"type:string,description:Subject prefix for task delivery events,category:basic,default:retouch.task.delivered"`

	// FetchTimeout bounds a remote image download for image_url requests.
	FetchTimeout time.Duration `json:"fetch_timeout" schema:"type:string,description:Timeout for remote image downloads,category:advanced,default:30s"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:                 ":8080",
		MaxBodyBytes:         25 << 20, // 25MB
		MaxConnections:       256,
		DeliverSubjectPrefix: "retouch.task.delivered",
		FetchTimeout:         30 * time.Second,
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "task-deliveries",
					Type:        "jetstream",
					Subject:     "retouch.task.delivered.>",
					StreamName:  "RETOUCH",
					Description: "Publish task delivery events",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1")
	}
	if c.DeliverSubjectPrefix == "" {
		return fmt.Errorf("deliver_subject_prefix is required")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive")
	}
	return nil
}
