package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/retouch/model"
)

// Config tunes the orchestration core.
type Config struct {
	// MaxIterations bounds the parallel refinement loop.
	MaxIterations int `json:"max_iterations"`

	// MaxAttemptsPerStep bounds retries for each sequential step.
	MaxAttemptsPerStep int `json:"max_attempts_per_step"`

	// PassThreshold is the minimum validation score for an outcome to
	// count as passing (0-10 scale).
	PassThreshold int `json:"pass_threshold"`

	// EnhanceConcurrency and GenerateConcurrency bound the fan-out
	// width of their phases.
	EnhanceConcurrency  int `json:"enhance_concurrency"`
	GenerateConcurrency int `json:"generate_concurrency"`

	// ValidationDelay is the fixed pause between successive grader
	// calls within a validation batch.
	ValidationDelay time.Duration `json:"validation_delay"`

	// LockTTL is the age past which a held task lock is reclaimable.
	LockTTL time.Duration `json:"lock_ttl"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       3,
		MaxAttemptsPerStep:  2,
		PassThreshold:       8,
		EnhanceConcurrency:  4,
		GenerateConcurrency: 4,
		ValidationDelay:     2 * time.Second,
		LockTTL:             DefaultLockTTL,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1")
	}
	if c.MaxAttemptsPerStep < 1 {
		return fmt.Errorf("max_attempts_per_step must be at least 1")
	}
	if c.PassThreshold < 0 || c.PassThreshold > 10 {
		return fmt.Errorf("pass_threshold must be between 0 and 10")
	}
	if c.ValidationDelay < 0 {
		return fmt.Errorf("validation_delay must not be negative")
	}
	return nil
}

// Engine drives a task through the full escalation state machine:
// duplicate rejection, the bounded parallel refinement loop,
// decomposition, sequential chained execution, and the terminal
// human-review fallback. Process is total: every call ends in exactly
// one terminal status and the task lock is released on every exit path,
// including panics raised anywhere in the chain.
type Engine struct {
	cfg      Config
	registry *model.Registry
	phases   *phaseRunner
	stepper  *Sequencer
	fallback *Fallback
	locks    *LockRegistry
	logger   *slog.Logger
	observer Observer
}

// NewEngine wires the orchestration core. Zero config fields fall back
// to DefaultConfig values.
func NewEngine(cfg Config, registry *model.Registry, enhancer Enhancer, generator Generator, validator Validator, notifier Notifier, logger *slog.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxAttemptsPerStep <= 0 {
		cfg.MaxAttemptsPerStep = defaults.MaxAttemptsPerStep
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = defaults.PassThreshold
	}
	if cfg.EnhanceConcurrency <= 0 {
		cfg.EnhanceConcurrency = defaults.EnhanceConcurrency
	}
	if cfg.GenerateConcurrency <= 0 {
		cfg.GenerateConcurrency = defaults.GenerateConcurrency
	}
	if cfg.ValidationDelay < 0 {
		cfg.ValidationDelay = defaults.ValidationDelay
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	phases := &phaseRunner{
		enhancer:        enhancer,
		generator:       generator,
		validator:       validator,
		enhanceGate:     NewGate(cfg.EnhanceConcurrency),
		generateGate:    NewGate(cfg.GenerateConcurrency),
		validationDelay: cfg.ValidationDelay,
		passThreshold:   cfg.PassThreshold,
		logger:          logger,
	}

	return &Engine{
		cfg:      cfg,
		registry: registry,
		phases:   phases,
		stepper:  NewSequencer(cfg, phases, logger),
		fallback: NewFallback(notifier, logger),
		locks:    NewLockRegistry(cfg.LockTTL),
		logger:   logger,
	}
}

// Locks exposes the lock registry for maintenance sweeps and gauge
// sampling by the hosting component.
func (e *Engine) Locks() *LockRegistry {
	return e.locks
}

// SetObserver registers a progress observer. Must be called before the
// first Process call; a nil observer disables callbacks.
func (e *Engine) SetObserver(obs Observer) {
	e.observer = obs
	e.phases.observer = obs
}

// Process runs one task to a terminal status. Returns a result with
// status rejected_duplicate when the identity is already in flight,
// success when a parallel iteration produced a winner,
// sequential_success when the decomposed chain completed, and
// hybrid_fallback otherwise. Never returns nil.
func (e *Engine) Process(ctx context.Context, task *Task) (result *Result) {
	start := time.Now()
	state := StatusReceived

	if !e.locks.Acquire(task.ID) {
		e.transition(task, state, StatusRejectedDuplicate)
		e.logger.Info("duplicate delivery rejected", "task_id", task.ID, "trace_id", task.TraceID)
		return &Result{
			TaskID:  task.ID,
			Status:  StatusRejectedDuplicate,
			Elapsed: time.Since(start),
		}
	}
	state = e.transition(task, state, StatusLocked)

	// The lock is released unconditionally on every exit, and a panic
	// anywhere in the chain still terminates in hybrid fallback rather
	// than dropping the task. Release is deferred first so it runs
	// after the recovery handler has built the terminal result.
	defer e.locks.Release(task.ID)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pipeline fault",
				"task_id", task.ID,
				"trace_id", task.TraceID,
				"panic", r)
			failure := fmt.Sprintf("internal fault: %v", r)
			e.fallback.Trigger(ctx, task, 0, []string{failure})
			result = &Result{
				TaskID:           task.ID,
				Status:           StatusHybridFallback,
				FailureSummaries: []string{failure},
				Elapsed:          time.Since(start),
			}
		}
	}()

	profiles := e.registry.ProfilesFor(task.Category)
	e.logger.Info("task accepted",
		"task_id", task.ID,
		"trace_id", task.TraceID,
		"category", task.Category,
		"profiles", len(profiles),
		"image_bytes", len(task.ReferenceImage))

	state = e.transition(task, state, StatusParallelIterating)
	winner, iterations, failures := e.runParallel(ctx, task, profiles)
	if winner != nil {
		e.transition(task, state, StatusSuccess)
		e.logger.Info("parallel winner selected",
			"task_id", task.ID,
			"profile", winner.artifact.Profile,
			"score", winner.outcome.Score,
			"iterations", iterations)
		return &Result{
			TaskID:         task.ID,
			Status:         StatusSuccess,
			WinningProfile: winner.artifact.Profile,
			Iterations:     iterations,
			Artifact:       winner.artifact,
			Elapsed:        time.Since(start),
		}
	}

	state = e.transition(task, state, StatusDecomposing)
	decomposition := Decompose(task.Instruction)
	e.logger.Info("instruction decomposed",
		"task_id", task.ID,
		"steps", len(decomposition.Steps),
		"compound", decomposition.IsCompound())

	if !decomposition.IsCompound() {
		e.transition(task, state, StatusHybridFallback)
		failures = append(failures, "instruction is not decomposable into multiple steps")
		e.fallback.Trigger(ctx, task, iterations, failures)
		return &Result{
			TaskID:           task.ID,
			Status:           StatusHybridFallback,
			Iterations:       iterations,
			FailureSummaries: failures,
			Elapsed:          time.Since(start),
		}
	}

	state = e.transition(task, state, StatusSequentialExecuting)
	chain := e.stepper.Run(ctx, task, decomposition.Steps, profiles)
	if chain.Completed {
		e.transition(task, state, StatusSequentialSuccess)
		e.logger.Info("sequential chain completed",
			"task_id", task.ID,
			"steps", len(decomposition.Steps),
			"profile", chain.Final.Profile)
		return &Result{
			TaskID:         task.ID,
			Status:         StatusSequentialSuccess,
			WinningProfile: chain.Final.Profile,
			Iterations:     iterations,
			StepsCompleted: chain.StepsCompleted,
			StepsTotal:     len(decomposition.Steps),
			StepAttempts:   chain.Attempts,
			Artifact:       chain.Final,
			Elapsed:        time.Since(start),
		}
	}

	e.transition(task, state, StatusHybridFallback)
	failures = append(failures, chain.Failures...)
	e.fallback.Trigger(ctx, task, iterations, failures)
	return &Result{
		TaskID:           task.ID,
		Status:           StatusHybridFallback,
		Iterations:       iterations,
		StepsCompleted:   chain.StepsCompleted,
		StepsTotal:       len(decomposition.Steps),
		StepAttempts:     chain.Attempts,
		FailureSummaries: failures,
		Elapsed:          time.Since(start),
	}
}

// runParallel executes up to MaxIterations refinement cycles. Each
// cycle enhances with every profile (reference image attached only on
// the first iteration), generates from the successes, validates
// serially against the original reference, and selects the best
// passing artifact. Parallel mode never chains images across
// iterations: the enhancement and generation input stays the original
// reference for every cycle.
func (e *Engine) runParallel(ctx context.Context, task *Task, profiles []model.Profile) (*scoredArtifact, int, []string) {
	var failures []string

	if len(profiles) == 0 {
		e.logger.Error("no model profiles configured for task", "task_id", task.ID, "category", task.Category)
		return nil, 0, []string{"no model profiles configured"}
	}

	for iteration := 1; iteration <= e.cfg.MaxIterations; iteration++ {
		log := e.logger.With("task_id", task.ID, "iteration", iteration)

		enhanced := e.phases.enhancePhase(ctx, task.Instruction, profiles, task.ReferenceImage, iteration == 1, task.TraceID)
		if len(enhanced) == 0 {
			log.Warn("enhancement failed for every profile")
			failures = append(failures, fmt.Sprintf("iteration %d: enhancement failed for every profile", iteration))
			continue
		}

		artifacts := e.phases.generatePhase(ctx, enhanced, task.ReferenceImage, task.TraceID)
		if len(artifacts) == 0 {
			log.Warn("generation failed for every profile")
			failures = append(failures, fmt.Sprintf("iteration %d: generation failed for every profile", iteration))
			continue
		}

		outcomes := e.phases.validatePhase(ctx, artifacts, task.ReferenceImage, task.Instruction, task.TraceID)
		if winner := selectWinner(artifacts, outcomes); winner != nil {
			return winner, iteration, failures
		}

		summary := summarizeOutcomes(outcomes)
		log.Info("iteration exhausted without a winner", "summary", summary)
		failures = append(failures, fmt.Sprintf("iteration %d: %s", iteration, summary))
	}

	return nil, e.cfg.MaxIterations, failures
}

// transition advances the escalation state machine, flagging any move
// the transition table does not permit.
func (e *Engine) transition(task *Task, from, to Status) Status {
	if !from.CanTransitionTo(to) {
		e.logger.Error("invalid status transition",
			"task_id", task.ID,
			"from", from.String(),
			"to", to.String())
	} else {
		e.logger.Debug("status transition",
			"task_id", task.ID,
			"from", from.String(),
			"to", to.String())
	}
	if e.observer != nil {
		e.observer.OnTransition(task.ID, from, to)
	}
	return to
}

// summarizeOutcomes renders a reviewer-facing one-liner for a batch of
// validation outcomes that produced no winner.
func summarizeOutcomes(outcomes []*Outcome) string {
	best := -1
	faults := 0
	var issues []string
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		if o.Status == OutcomeError {
			faults++
			continue
		}
		if o.Score > best {
			best = o.Score
			issues = o.Issues
		}
	}

	switch {
	case best < 0 && faults > 0:
		return fmt.Sprintf("all %d validation calls faulted", faults)
	case best < 0:
		return "no validation outcomes"
	case len(issues) > 0:
		return fmt.Sprintf("best score %d/10, issues: %s", best, truncate(strings.Join(issues, "; "), 200))
	default:
		return fmt.Sprintf("best score %d/10", best)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
