package taskorchestrator

import (
	"encoding/json"
	"testing"

	"github.com/c360studio/semstreams/component"
)

func TestNewComponent(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfgBytes, _ := json.Marshal(cfg)

		comp, err := NewComponent(cfgBytes, component.Dependencies{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if comp == nil {
			t.Fatal("expected component to be created")
		}

		meta := comp.Meta()
		if meta.Name != "task-orchestrator" {
			t.Errorf("expected Name 'task-orchestrator', got %s", meta.Name)
		}
		if meta.Type != "processor" {
			t.Errorf("expected Type 'processor', got %s", meta.Type)
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		comp, err := NewComponent([]byte(`{}`), component.Dependencies{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		c := comp.(*Component)
		if c.config.StreamName != "RETOUCH" {
			t.Errorf("expected default StreamName, got %s", c.config.StreamName)
		}
		if c.config.ConsumerName != "task-orchestrator" {
			t.Errorf("expected default ConsumerName, got %s", c.config.ConsumerName)
		}
		if c.config.Workers != 4 {
			t.Errorf("expected default Workers, got %d", c.config.Workers)
		}
		if c.config.Pipeline.MaxIterations != 3 {
			t.Errorf("expected default Pipeline.MaxIterations, got %d", c.config.Pipeline.MaxIterations)
		}
		if cap(c.sem) != c.config.Workers {
			t.Errorf("expected semaphore capacity %d, got %d", c.config.Workers, cap(c.sem))
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := NewComponent([]byte(`{invalid`), component.Dependencies{})
		if err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("invalid config values", func(t *testing.T) {
		cfgBytes, _ := json.Marshal(map[string]any{
			"workers": -1,
		})
		_, err := NewComponent(cfgBytes, component.Dependencies{})
		if err == nil {
			t.Error("expected error for negative workers")
		}
	})

	t.Run("engine is wired", func(t *testing.T) {
		comp, err := NewComponent([]byte(`{}`), component.Dependencies{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		c := comp.(*Component)
		if c.engine == nil {
			t.Fatal("expected engine to be constructed")
		}
		if c.engine.Locks() == nil {
			t.Error("expected lock registry to be reachable")
		}
	})
}

func TestComponent_ConfigSchema(t *testing.T) {
	comp, err := NewComponent([]byte(`{}`), component.Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)
	schema := c.ConfigSchema()
	if schema.Properties == nil {
		t.Error("expected ConfigSchema to have Properties")
	}
}

func TestComponent_Ports(t *testing.T) {
	comp, err := NewComponent([]byte(`{}`), component.Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)

	inputPorts := c.InputPorts()
	if len(inputPorts) != 1 {
		t.Fatalf("expected 1 input port, got %d", len(inputPorts))
	}
	if inputPorts[0].Direction != component.DirectionInput {
		t.Error("expected input direction on input port")
	}

	outputPorts := c.OutputPorts()
	if len(outputPorts) != 2 {
		t.Fatalf("expected 2 output ports, got %d", len(outputPorts))
	}
	for _, port := range outputPorts {
		if port.Direction != component.DirectionOutput {
			t.Errorf("expected output direction on port %s", port.Name)
		}
	}
}

func TestComponent_Health(t *testing.T) {
	comp, err := NewComponent([]byte(`{}`), component.Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)
	health := c.Health()

	// Component not started, should not be healthy
	if health.Healthy {
		t.Error("expected component to be unhealthy when not running")
	}
	if health.Status != "stopped" {
		t.Errorf("expected status 'stopped', got %s", health.Status)
	}
}

func TestComponent_StopBeforeStart(t *testing.T) {
	comp, err := NewComponent([]byte(`{}`), component.Dependencies{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := comp.(*Component)
	if c.IsRunning() {
		t.Error("expected component to not be running initially")
	}
	if err := c.Stop(0); err != nil {
		t.Errorf("expected Stop on a stopped component to be a no-op, got %v", err)
	}
}
