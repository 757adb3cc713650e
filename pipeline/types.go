// Package pipeline implements the orchestration core for AI image-editing
// tasks: a per-task lock registry, a bounded parallel refinement loop,
// instruction decomposition, sequential chained execution with per-step
// retry, and the terminal human-review fallback. The provider calls
// themselves are thin collaborators injected as interfaces; everything in
// this package is about running them correctly under duplicate delivery,
// rate limits, and multi-stage escalation.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/retouch/model"
)

// Task is one inbound editing request. The reference image bytes are
// immutable for the task's lifetime: they remain the comparison baseline
// for every validation call, regardless of how many intermediate images
// the run produces.
type Task struct {
	// ID is the opaque external task identity used for locking.
	ID string

	// Instruction is the original natural-language edit request.
	Instruction string

	// Category optionally routes the task to a subset of model profiles
	// (doublestar pattern matching in the model registry).
	Category string

	// ReferenceImage holds the original image bytes. Never reassigned.
	ReferenceImage []byte

	// ReceivedAt is the delivery arrival time.
	ReceivedAt time.Time

	// TraceID correlates log lines and events across components.
	TraceID string
}

// Validate checks the fields required to start a run.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Instruction == "" {
		return fmt.Errorf("instruction is required")
	}
	if len(t.ReferenceImage) == 0 {
		return fmt.Errorf("reference image is required")
	}
	return nil
}

// Artifact is one model's generated output: the image bytes plus the
// remote locator the provider returned for it.
type Artifact struct {
	Profile string
	Image   []byte
	Locator string
}

// OutcomeStatus is the grader's verdict class. ERROR marks a validation
// call that faulted rather than a judged failure.
type OutcomeStatus string

const (
	OutcomePass  OutcomeStatus = "PASS"
	OutcomeFail  OutcomeStatus = "FAIL"
	OutcomeError OutcomeStatus = "ERROR"
)

// Outcome is the validation verdict for one artifact. Passed is true iff
// Score is at or above the configured threshold AND Status is PASS; a
// faulted call is represented as {Score: 0, Passed: false, Status: ERROR}
// so it can never win selection but also never aborts the batch.
type Outcome struct {
	Score     int           `json:"score"`
	Passed    bool          `json:"passed"`
	Issues    []string      `json:"issues,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`
	Status    OutcomeStatus `json:"status"`
}

// Status is the escalation state of a task run.
type Status string

const (
	StatusReceived            Status = "received"
	StatusRejectedDuplicate   Status = "rejected_duplicate"
	StatusLocked              Status = "locked"
	StatusParallelIterating   Status = "parallel_iterating"
	StatusDecomposing         Status = "decomposing"
	StatusSequentialExecuting Status = "sequential_executing"
	StatusSuccess             Status = "success"
	StatusSequentialSuccess   Status = "sequential_success"
	StatusHybridFallback      Status = "hybrid_fallback"
)

// IsValid returns true for a known status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusReceived, StatusRejectedDuplicate, StatusLocked,
		StatusParallelIterating, StatusDecomposing, StatusSequentialExecuting,
		StatusSuccess, StatusSequentialSuccess, StatusHybridFallback:
		return true
	}
	return false
}

// IsTerminal returns true if no further transition is possible.
// Every run ends in exactly one terminal status, and the lock is
// released on entry to any of them.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejectedDuplicate, StatusSuccess, StatusSequentialSuccess, StatusHybridFallback:
		return true
	}
	return false
}

// CanTransitionTo reports whether the escalation state machine permits
// moving from s to target.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusReceived:
		return target == StatusRejectedDuplicate || target == StatusLocked
	case StatusLocked:
		return target == StatusParallelIterating
	case StatusParallelIterating:
		return target == StatusSuccess || target == StatusDecomposing
	case StatusDecomposing:
		return target == StatusHybridFallback || target == StatusSequentialExecuting
	case StatusSequentialExecuting:
		return target == StatusSequentialSuccess || target == StatusHybridFallback
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// Result is the terminal record of one task run. Created once when the
// run reaches a terminal status, never mutated after.
type Result struct {
	TaskID         string
	Status         Status
	WinningProfile string

	// Iterations is the number of parallel iterations attempted.
	Iterations int

	// StepsCompleted / StepsTotal describe the sequential chain, when
	// one ran. StepAttempts holds the attempt count per completed or
	// aborted step, in step order.
	StepsCompleted int
	StepsTotal     int
	StepAttempts   []int

	Elapsed time.Duration

	// FailureSummaries carries the reviewer-facing failure context when
	// the run escalated. Empty on success.
	FailureSummaries []string

	// Artifact is the winning output, present only for success statuses.
	Artifact *Artifact
}

// EnhanceRequest asks the enhancement collaborator to expand the raw
// instruction for one model profile. The image is attached only when
// IncludeImage is set; parallel mode does that on the first iteration
// only, sequential mode on every attempt.
type EnhanceRequest struct {
	Instruction  string
	Profile      model.Profile
	Image        []byte
	IncludeImage bool
	TraceID      string
}

// Enhancer expands an instruction for a specific model profile.
type Enhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (string, error)
}

// GenerateRequest asks the generation collaborator to produce an edited
// image from an enhanced instruction and a base image.
type GenerateRequest struct {
	Instruction string
	Profile     model.Profile
	BaseImage   []byte
	TraceID     string
}

// Generator produces an edited image for a specific model profile.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Artifact, error)
}

// ValidateRequest asks the grader to score a candidate against the
// original reference image. Reference is always the task's original
// bytes, never an intermediate image.
type ValidateRequest struct {
	Candidate   []byte
	Reference   []byte
	Instruction string
	TraceID     string
}

// Validator scores a candidate image against the reference.
type Validator interface {
	Validate(ctx context.Context, req ValidateRequest) (*Outcome, error)
}

// Escalation is the failure context handed to the human-review
// collaborator when a run terminates in hybrid fallback.
type Escalation struct {
	Task       *Task
	Iterations int
	Failures   []string
}

// Notifier delivers an escalation to the human-review collaborator.
// Best-effort: a notify error is logged by the caller, never retried,
// and never changes the task's terminal status.
type Notifier interface {
	Notify(ctx context.Context, esc Escalation) error
}

// Observer receives progress callbacks from a running engine: every
// escalation state transition and every per-model phase failure.
// Callbacks run synchronously on the task's goroutine, so
// implementations must be fast and must never panic.
type Observer interface {
	OnTransition(taskID string, from, to Status)
	OnPhaseFailure(phase, profile string)
}
