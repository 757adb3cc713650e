package model

import (
	"sync"
	"time"
)

// HealthSnapshot is a point-in-time view of an endpoint's breaker state.
type HealthSnapshot struct {
	// Available indicates if the endpoint is currently usable.
	Available bool `json:"available"`

	// LastSuccess is the time of the last successful request.
	LastSuccess time.Time `json:"last_success,omitempty"`

	// LastFailure is the time of the last failed request.
	LastFailure time.Time `json:"last_failure,omitempty"`

	// FailureCount is the number of consecutive failures.
	FailureCount int `json:"failure_count"`

	// CircuitOpen indicates if the circuit breaker has tripped.
	CircuitOpen bool `json:"circuit_open"`

	// CircuitOpenedAt is when the circuit was opened.
	CircuitOpenedAt time.Time `json:"circuit_opened_at,omitempty"`
}

// HealthConfig configures the health tracking behavior.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int

	// RecoveryTimeout is how long to wait before trying a tripped
	// endpoint again.
	RecoveryTimeout time.Duration

	// HalfOpenRequests is how many test requests to allow when recovering.
	HalfOpenRequests int
}

// DefaultHealthConfig returns sensible defaults for health tracking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// healthTracker stores per-endpoint breaker state.
type healthTracker struct {
	mu       sync.RWMutex
	config   HealthConfig
	statuses map[string]*HealthSnapshot
	now      func() time.Time
}

func newHealthTracker() *healthTracker {
	return &healthTracker{
		config:   DefaultHealthConfig(),
		statuses: make(map[string]*HealthSnapshot),
		now:      time.Now,
	}
}

func (h *healthTracker) markSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := h.getOrCreateLocked(name)
	status.LastSuccess = h.now()
	status.FailureCount = 0
	status.Available = true
	status.CircuitOpen = false
}

func (h *healthTracker) markFailure(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := h.getOrCreateLocked(name)
	status.LastFailure = h.now()
	status.FailureCount++
	if status.FailureCount >= h.config.FailureThreshold {
		status.CircuitOpen = true
		status.CircuitOpenedAt = h.now()
		status.Available = false
	}
}

// available reports whether the endpoint accepts requests. A tripped
// breaker admits a half-open test request once the recovery timeout has
// passed; the breaker only closes again on a recorded success.
func (h *healthTracker) available(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status, ok := h.statuses[name]
	if !ok {
		return true
	}
	if !status.CircuitOpen {
		return true
	}
	return h.now().Sub(status.CircuitOpenedAt) > h.config.RecoveryTimeout
}

func (h *healthTracker) snapshot(name string) HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if status, ok := h.statuses[name]; ok {
		return *status
	}
	return HealthSnapshot{Available: true}
}

func (h *healthTracker) reset(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.statuses, name)
}

func (h *healthTracker) setConfig(cfg HealthConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
}

func (h *healthTracker) getOrCreateLocked(name string) *HealthSnapshot {
	if status, ok := h.statuses[name]; ok {
		return status
	}
	status := &HealthSnapshot{Available: true}
	h.statuses[name] = status
	return status
}

// MarkEndpointSuccess records a successful request to an endpoint, closing
// its circuit if it was open.
func (r *Registry) MarkEndpointSuccess(name string) {
	r.health.markSuccess(name)
}

// MarkEndpointFailure records a failed request to an endpoint. The circuit
// opens after FailureThreshold consecutive failures.
func (r *Registry) MarkEndpointFailure(name string) {
	r.health.markFailure(name)
}

// IsEndpointAvailable checks if an endpoint is available for requests.
// Returns false while the circuit is open and the recovery timeout has not
// passed.
func (r *Registry) IsEndpointAvailable(name string) bool {
	return r.health.available(name)
}

// EndpointHealth returns the breaker state for an endpoint. Unknown
// endpoints report as available.
func (r *Registry) EndpointHealth(name string) HealthSnapshot {
	return r.health.snapshot(name)
}

// SetHealthConfig updates the health tracking configuration.
func (r *Registry) SetHealthConfig(cfg HealthConfig) {
	r.health.setConfig(cfg)
}

// ResetEndpointHealth clears the breaker state for an endpoint.
func (r *Registry) ResetEndpointHealth(name string) {
	r.health.reset(name)
}
