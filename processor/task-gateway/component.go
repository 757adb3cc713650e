// Package taskgateway provides the HTTP ingress for the retouch
// pipeline: it accepts edit requests, stores reference images, and
// publishes delivery events for the orchestrator to consume.
package taskgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"golang.org/x/net/netutil"

	"github.com/c360studio/retouch/metrics"
	"github.com/c360studio/retouch/storage"
)

// imageStorer stores reference image bytes and returns an object name.
type imageStorer interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

// streamPublisher publishes delivery events to the task stream.
type streamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Component implements the task-gateway processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Bound in Start; interfaces so handlers are testable without NATS.
	images    imageStorer
	publisher streamPublisher
	fetcher   *imageFetcher

	server   *http.Server
	listener net.Listener

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	requestsReceived atomic.Int64
	tasksAccepted    atomic.Int64
	requestsRejected atomic.Int64
	lastActivityMu   sync.RWMutex
	lastActivity     time.Time
}

// NewComponent creates a new task-gateway processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = defaults.MaxConnections
	}
	if config.DeliverSubjectPrefix == "" {
		config.DeliverSubjectPrefix = defaults.DeliverSubjectPrefix
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "task-gateway",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		metrics:    metrics.GetDefault(),
		fetcher:    newImageFetcher(config.FetchTimeout, config.MaxBodyBytes),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized task-gateway",
		"addr", c.config.Addr,
		"max_body_bytes", c.config.MaxBodyBytes,
		"max_connections", c.config.MaxConnections)
	return nil
}

// Start binds the listener and begins serving requests.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	images, err := storage.NewImageStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create image store: %w", err)
	}
	c.images = images
	c.publisher = c.natsClient

	listener, err := net.Listen("tcp", c.config.Addr)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("listen on %s: %w", c.config.Addr, err)
	}
	// Cap concurrent connections at the listener so overload sheds at
	// accept time instead of exhausting file descriptors.
	c.listener = netutil.LimitListener(listener, c.config.MaxConnections)

	c.server = &http.Server{
		Handler:           c.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.Serve(c.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Gateway server error", "error", err)
		}
	}()

	c.logger.Info("task-gateway started",
		"addr", c.listener.Addr().String(),
		"max_connections", c.config.MaxConnections)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// Addr returns the bound listen address, empty before Start.
func (c *Component) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop drains in-flight requests and shuts the server down, waiting at
// most the given timeout.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Gateway shutdown incomplete", "error", err)
		}
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("task-gateway stopped",
		"requests_received", c.requestsReceived.Load(),
		"tasks_accepted", c.tasksAccepted.Load(),
		"requests_rejected", c.requestsRejected.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "task-gateway",
		Type:        "processor",
		Description: "HTTP ingress accepting image edit tasks",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return gatewaySchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

// IsRunning reports whether the component has been started.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
