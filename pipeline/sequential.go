package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/retouch/model"
)

// ChainResult describes one sequential execution run.
type ChainResult struct {
	// Completed is true when every step succeeded.
	Completed bool

	// Final is the last successful step's winning artifact; nil when
	// the chain aborted.
	Final *Artifact

	// StepsCompleted counts steps that reached a passing outcome.
	StepsCompleted int

	// Attempts records the attempt count per step, in step order, up to
	// and including the step that aborted the chain.
	Attempts []int

	// Failures carries reviewer-facing context for an aborted chain.
	Failures []string
}

// Sequencer executes decomposed steps in order, chaining each step's
// winning image into the next step's visual input while always
// validating against the task's original reference image. Each step
// gets its own bounded attempt budget; a step that exhausts it aborts
// the entire chain, because later steps are meaningless without the
// earlier edit applied. Partial completion is not a terminal state.
type Sequencer struct {
	cfg    Config
	phases *phaseRunner
	logger *slog.Logger
}

// NewSequencer creates a sequencer sharing the engine's phase runner.
func NewSequencer(cfg Config, phases *phaseRunner, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{cfg: cfg, phases: phases, logger: logger}
}

// Run executes the steps against the task. The current image starts as
// the task's reference image and is reassigned to each step's winning
// artifact bytes; the reference bytes themselves are never overwritten
// and remain the validation baseline for every call.
func (s *Sequencer) Run(ctx context.Context, task *Task, steps []string, profiles []model.Profile) ChainResult {
	result := ChainResult{Attempts: make([]int, 0, len(steps))}

	if len(profiles) == 0 {
		result.Failures = append(result.Failures, "no model profiles configured")
		return result
	}

	currentImage := task.ReferenceImage

	for stepIdx, step := range steps {
		log := s.logger.With(
			"task_id", task.ID,
			"step", stepIdx+1,
			"steps_total", len(steps))

		var winner *scoredArtifact
		attempts := 0

		for attempt := 1; attempt <= s.cfg.MaxAttemptsPerStep; attempt++ {
			attempts = attempt

			// The step instruction is re-run unchanged on retry; the
			// previous attempt's grader reasoning is only logged.
			enhanced := s.phases.enhancePhase(ctx, step, profiles, currentImage, true, task.TraceID)
			if len(enhanced) == 0 {
				log.Warn("enhancement failed for every profile", "attempt", attempt)
				continue
			}

			artifacts := s.phases.generatePhase(ctx, enhanced, currentImage, task.TraceID)
			if len(artifacts) == 0 {
				log.Warn("generation failed for every profile", "attempt", attempt)
				continue
			}

			outcomes := s.phases.validatePhase(ctx, artifacts, task.ReferenceImage, step, task.TraceID)
			if winner = selectWinner(artifacts, outcomes); winner != nil {
				break
			}

			log.Debug("step attempt failed",
				"attempt", attempt,
				"feedback", summarizeOutcomes(outcomes))
		}

		result.Attempts = append(result.Attempts, attempts)

		if winner == nil {
			log.Warn("step exhausted all attempts, aborting chain", "attempts", attempts)
			result.Failures = append(result.Failures, fmt.Sprintf(
				"step %d/%d (%s) exhausted %d attempts",
				stepIdx+1, len(steps), truncate(step, 80), attempts))
			// Earlier steps' artifacts are intermediate images, not a
			// result; an aborted chain surfaces nothing.
			result.Final = nil
			return result
		}

		log.Info("step succeeded",
			"attempt", attempts,
			"profile", winner.artifact.Profile,
			"score", winner.outcome.Score)

		currentImage = winner.artifact.Image
		result.Final = winner.artifact
		result.StepsCompleted++
	}

	result.Completed = true
	return result
}
