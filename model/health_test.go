package model

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	r := NewDefaultRegistry()

	r.MarkEndpointFailure("ep")
	r.MarkEndpointFailure("ep")
	if !r.IsEndpointAvailable("ep") {
		t.Error("endpoint should stay available below the failure threshold")
	}

	r.MarkEndpointFailure("ep")
	if r.IsEndpointAvailable("ep") {
		t.Error("endpoint should be unavailable after 3 consecutive failures")
	}

	h := r.EndpointHealth("ep")
	if !h.CircuitOpen {
		t.Error("expected circuit to be open")
	}
	if h.FailureCount != 3 {
		t.Errorf("expected failure count 3, got %d", h.FailureCount)
	}
}

func TestBreakerSuccessResets(t *testing.T) {
	r := NewDefaultRegistry()

	for i := 0; i < 3; i++ {
		r.MarkEndpointFailure("ep")
	}
	r.MarkEndpointSuccess("ep")

	if !r.IsEndpointAvailable("ep") {
		t.Error("endpoint should be available after a success")
	}
	h := r.EndpointHealth("ep")
	if h.CircuitOpen {
		t.Error("expected circuit to be closed after success")
	}
	if h.FailureCount != 0 {
		t.Errorf("expected failure count reset to 0, got %d", h.FailureCount)
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	r := NewDefaultRegistry()

	now := time.Now()
	r.health.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		r.MarkEndpointFailure("ep")
	}
	if r.IsEndpointAvailable("ep") {
		t.Fatal("endpoint should be unavailable while the circuit is open")
	}

	// Past the recovery timeout a test request is admitted even though
	// the circuit stays open until a success.
	now = now.Add(31 * time.Second)
	if !r.IsEndpointAvailable("ep") {
		t.Error("endpoint should admit a half-open test request after recovery timeout")
	}
	if !r.EndpointHealth("ep").CircuitOpen {
		t.Error("circuit should stay open until a success is recorded")
	}

	// A failed test request re-arms the timeout.
	r.MarkEndpointFailure("ep")
	if r.IsEndpointAvailable("ep") {
		t.Error("endpoint should be unavailable again after a failed test request")
	}
}

func TestBreakerUnknownEndpointAvailable(t *testing.T) {
	r := NewDefaultRegistry()

	if !r.IsEndpointAvailable("never-seen") {
		t.Error("unknown endpoint should be available")
	}
	h := r.EndpointHealth("never-seen")
	if !h.Available {
		t.Error("unknown endpoint snapshot should report available")
	}
}

func TestSetHealthConfig(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		HalfOpenRequests: 1,
	})

	r.MarkEndpointFailure("ep")
	if r.IsEndpointAvailable("ep") {
		t.Error("endpoint should trip after a single failure with threshold 1")
	}
}

func TestResetEndpointHealth(t *testing.T) {
	r := NewDefaultRegistry()

	for i := 0; i < 3; i++ {
		r.MarkEndpointFailure("ep")
	}
	r.ResetEndpointHealth("ep")

	if !r.IsEndpointAvailable("ep") {
		t.Error("endpoint should be available after reset")
	}
	if r.EndpointHealth("ep").FailureCount != 0 {
		t.Error("expected cleared failure count after reset")
	}
}
