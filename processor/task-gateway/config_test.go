package taskgateway

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr)
	}
	if cfg.MaxBodyBytes != 25<<20 {
		t.Errorf("expected 25MB body cap, got %d", cfg.MaxBodyBytes)
	}
	if cfg.MaxConnections != 256 {
		t.Errorf("expected 256 connections, got %d", cfg.MaxConnections)
	}
	if cfg.DeliverSubjectPrefix != "retouch.task.delivered" {
		t.Errorf("unexpected deliver subject prefix %s", cfg.DeliverSubjectPrefix)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("expected 30s fetch timeout, got %s", cfg.FetchTimeout)
	}
	if cfg.Ports == nil || len(cfg.Ports.Outputs) != 1 {
		t.Fatal("expected one output port")
	}
	if cfg.Ports.Outputs[0].Subject != "retouch.task.delivered.>" {
		t.Errorf("unexpected output subject %s", cfg.Ports.Outputs[0].Subject)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "missing addr",
			mutate:  func(c *Config) { c.Addr = "" },
			wantErr: "addr is required",
		},
		{
			name:    "zero body cap",
			mutate:  func(c *Config) { c.MaxBodyBytes = 0 },
			wantErr: "max_body_bytes must be positive",
		},
		{
			name:    "zero connections",
			mutate:  func(c *Config) { c.MaxConnections = 0 },
			wantErr: "max_connections must be at least 1",
		},
		{
			name:    "missing deliver subject prefix",
			mutate:  func(c *Config) { c.DeliverSubjectPrefix = "" },
			wantErr: "deliver_subject_prefix is required",
		},
		{
			name:    "negative fetch timeout",
			mutate:  func(c *Config) { c.FetchTimeout = -time.Second },
			wantErr: "fetch_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}
