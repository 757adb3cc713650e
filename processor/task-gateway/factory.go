package taskgateway

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the task gateway component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "task-gateway",
		Factory:     NewComponent,
		Schema:      gatewaySchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "retouch",
		Description: "HTTP ingress accepting image edit tasks",
		Version:     "0.1.0",
	})
}
