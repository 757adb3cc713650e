package taskorchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	// Register payload types for message deserialization
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "retouch",
		Category:    "task-delivery",
		Version:     "v1",
		Description: "Image edit task delivery with reference image",
		Factory:     func() any { return &TaskDeliveryPayload{} },
	})

	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "retouch",
		Category:    "task-result",
		Version:     "v1",
		Description: "Terminal outcome of one task run",
		Factory:     func() any { return &TaskResultPayload{} },
	})

	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "retouch",
		Category:    "review-request",
		Version:     "v1",
		Description: "Human review request for an exhausted task",
		Factory:     func() any { return &ReviewRequestPayload{} },
	})
}

// ValidationError describes a payload field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// TaskDeliveryPayload is the delivery event that starts a task run. The
// reference image travels either as an object-store name (the gateway
// path) or inline base64 (small images from the CLI path); exactly one
// must be set.
type TaskDeliveryPayload struct {
	TaskID      string    `json:"task_id"`
	Instruction string    `json:"instruction"`
	Category    string    `json:"category,omitempty"`
	ImageObject string    `json:"image_object,omitempty"`
	ImageB64    string    `json:"image_b64,omitempty"`
	TraceID     string    `json:"trace_id,omitempty"`
	DeliveredAt time.Time `json:"delivered_at,omitempty"`
}

// Schema returns the message type for this payload.
func (p *TaskDeliveryPayload) Schema() message.Type {
	return TaskDeliveryType
}

// Validate validates the payload.
func (p *TaskDeliveryPayload) Validate() error {
	if p.TaskID == "" {
		return &ValidationError{Field: "task_id", Message: "is required"}
	}
	if p.Instruction == "" {
		return &ValidationError{Field: "instruction", Message: "is required"}
	}
	if p.ImageObject == "" && p.ImageB64 == "" {
		return &ValidationError{Field: "image_object", Message: "image_object or image_b64 is required"}
	}
	if p.ImageObject != "" && p.ImageB64 != "" {
		return &ValidationError{Field: "image_object", Message: "image_object and image_b64 are mutually exclusive"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *TaskDeliveryPayload) MarshalJSON() ([]byte, error) {
	type Alias TaskDeliveryPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *TaskDeliveryPayload) UnmarshalJSON(data []byte) error {
	type Alias TaskDeliveryPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// TaskDeliveryType is the message type for task delivery events.
var TaskDeliveryType = message.Type{
	Domain:   "retouch",
	Category: "task-delivery",
	Version:  "v1",
}

// TaskResultPayload is the terminal event published once per completed
// run. ArtifactObject names the winning image in the object store when
// the run produced one.
type TaskResultPayload struct {
	TaskID           string   `json:"task_id"`
	Status           string   `json:"status"`
	WinningProfile   string   `json:"winning_profile,omitempty"`
	Iterations       int      `json:"iterations"`
	StepsCompleted   int      `json:"steps_completed,omitempty"`
	StepsTotal       int      `json:"steps_total,omitempty"`
	ElapsedMS        int64    `json:"elapsed_ms"`
	FailureSummaries []string `json:"failure_summaries,omitempty"`
	ArtifactObject   string   `json:"artifact_object,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (p *TaskResultPayload) Schema() message.Type {
	return TaskResultType
}

// Validate validates the payload.
func (p *TaskResultPayload) Validate() error {
	if p.TaskID == "" {
		return &ValidationError{Field: "task_id", Message: "is required"}
	}
	if p.Status == "" {
		return &ValidationError{Field: "status", Message: "is required"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *TaskResultPayload) MarshalJSON() ([]byte, error) {
	type Alias TaskResultPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *TaskResultPayload) UnmarshalJSON(data []byte) error {
	type Alias TaskResultPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// TaskResultType is the message type for task result events.
var TaskResultType = message.Type{
	Domain:   "retouch",
	Category: "task-result",
	Version:  "v1",
}

// ReviewRequestPayload asks a human reviewer to pick up a task that
// exhausted both automated modes. Failures carries the per-iteration
// and per-step summaries the reviewer needs for triage.
type ReviewRequestPayload struct {
	TaskID      string   `json:"task_id"`
	Instruction string   `json:"instruction"`
	Category    string   `json:"category,omitempty"`
	Iterations  int      `json:"iterations"`
	Failures    []string `json:"failures,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (p *ReviewRequestPayload) Schema() message.Type {
	return ReviewRequestType
}

// Validate validates the payload.
func (p *ReviewRequestPayload) Validate() error {
	if p.TaskID == "" {
		return &ValidationError{Field: "task_id", Message: "is required"}
	}
	if p.Instruction == "" {
		return &ValidationError{Field: "instruction", Message: "is required"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *ReviewRequestPayload) MarshalJSON() ([]byte, error) {
	type Alias ReviewRequestPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *ReviewRequestPayload) UnmarshalJSON(data []byte) error {
	type Alias ReviewRequestPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// ReviewRequestType is the message type for review request events.
var ReviewRequestType = message.Type{
	Domain:   "retouch",
	Category: "review-request",
	Version:  "v1",
}

// ParseDelivery extracts a TaskDeliveryPayload from NATS message data.
// Handles both the BaseMessage envelope published by the gateway and a
// bare payload document published by tooling.
func ParseDelivery(data []byte) (*TaskDeliveryPayload, error) {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	raw := envelope.Payload
	if len(raw) == 0 {
		// Bare payload without the envelope
		raw = data
	}

	var delivery TaskDeliveryPayload
	if err := json.Unmarshal(raw, &delivery); err != nil {
		return nil, fmt.Errorf("unmarshal delivery payload: %w", err)
	}
	return &delivery, nil
}
