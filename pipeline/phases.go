package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360studio/retouch/model"
)

// enhancedInstruction pairs a model profile with the instruction text
// the enhancement phase produced for it.
type enhancedInstruction struct {
	profile model.Profile
	text    string
}

// phaseRunner executes the three provider phases under the shared
// concurrency rules: bounded fan-out for enhancement and generation,
// strictly serial paced calls for validation. Both execution modes
// (parallel iterations and sequential steps) run their phases through
// the same runner.
type phaseRunner struct {
	enhancer  Enhancer
	generator Generator
	validator Validator

	enhanceGate  *Gate
	generateGate *Gate

	validationDelay time.Duration
	passThreshold   int

	logger   *slog.Logger
	observer Observer
}

// phaseFailed reports one model's failure in a phase to the observer.
func (p *phaseRunner) phaseFailed(phase, profile string) {
	if p.observer != nil {
		p.observer.OnPhaseFailure(phase, profile)
	}
}

// enhancePhase fans the instruction out to every profile, bounded by
// the enhancement gate. Per-profile failures are logged and excluded;
// the returned slice holds only the successful expansions, in profile
// order. Empty means every profile failed.
func (p *phaseRunner) enhancePhase(ctx context.Context, instruction string, profiles []model.Profile, image []byte, includeImage bool, traceID string) []enhancedInstruction {
	results := fanOut(ctx, p.enhanceGate, profiles, func(ctx context.Context, profile model.Profile) (string, error) {
		req := EnhanceRequest{
			Instruction:  instruction,
			Profile:      profile,
			IncludeImage: includeImage,
			TraceID:      traceID,
		}
		if includeImage {
			req.Image = image
		}
		return p.enhancer.Enhance(ctx, req)
	})

	enhanced := make([]enhancedInstruction, 0, len(profiles))
	for i, r := range results {
		if r.err != nil {
			p.logger.Warn("enhancement failed",
				"profile", profiles[i].Name,
				"trace_id", traceID,
				"error", r.err)
			p.phaseFailed("enhance", profiles[i].Name)
			continue
		}
		enhanced = append(enhanced, enhancedInstruction{profile: profiles[i], text: r.value})
	}
	return enhanced
}

// generatePhase fans out over the enhanced instructions, bounded by the
// generation gate, producing one artifact per successful call in input
// order. The base image is the reference image in parallel mode and the
// current chained image in sequential mode.
func (p *phaseRunner) generatePhase(ctx context.Context, enhanced []enhancedInstruction, baseImage []byte, traceID string) []*Artifact {
	results := fanOut(ctx, p.generateGate, enhanced, func(ctx context.Context, in enhancedInstruction) (*Artifact, error) {
		return p.generator.Generate(ctx, GenerateRequest{
			Instruction: in.text,
			Profile:     in.profile,
			BaseImage:   baseImage,
			TraceID:     traceID,
		})
	})

	artifacts := make([]*Artifact, 0, len(enhanced))
	for i, r := range results {
		if r.err != nil {
			p.logger.Warn("generation failed",
				"profile", enhanced[i].profile.Name,
				"trace_id", traceID,
				"error", r.err)
			p.phaseFailed("generate", enhanced[i].profile.Name)
			continue
		}
		artifact := r.value
		if artifact.Profile == "" {
			artifact.Profile = enhanced[i].profile.Name
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts
}

// validatePhase grades each artifact against the original reference
// image, strictly serially in production order with a fixed pacing
// delay between calls. A faulted call maps to a failing ERROR outcome
// and never aborts the batch. The returned slice is parallel to the
// artifacts slice.
func (p *phaseRunner) validatePhase(ctx context.Context, artifacts []*Artifact, reference []byte, instruction string, traceID string) []*Outcome {
	outcomes := make([]*Outcome, len(artifacts))
	pacer := NewPacer(p.validationDelay)

	for i, artifact := range artifacts {
		if err := pacer.Wait(ctx); err != nil {
			outcomes[i] = faultOutcome(err)
			continue
		}

		outcome, err := p.validator.Validate(ctx, ValidateRequest{
			Candidate:   artifact.Image,
			Reference:   reference,
			Instruction: instruction,
			TraceID:     traceID,
		})
		if err != nil {
			p.logger.Warn("validation call failed",
				"profile", artifact.Profile,
				"trace_id", traceID,
				"error", err)
			p.phaseFailed("validate", artifact.Profile)
			outcomes[i] = faultOutcome(err)
			continue
		}

		// Passed is derived here, not trusted from the collaborator:
		// score at or above threshold AND a PASS verdict.
		outcome.Passed = outcome.Status == OutcomePass && outcome.Score >= p.passThreshold
		outcomes[i] = outcome
	}
	return outcomes
}

// faultOutcome represents a validation call that faulted rather than
// judged: score 0, not passed, status ERROR.
func faultOutcome(err error) *Outcome {
	return &Outcome{
		Score:     0,
		Passed:    false,
		Status:    OutcomeError,
		Reasoning: err.Error(),
	}
}

// scoredArtifact is a selection candidate: an artifact together with
// its validation outcome.
type scoredArtifact struct {
	artifact *Artifact
	outcome  *Outcome
}

// selectWinner picks the highest-scoring passing artifact. Ties are
// broken by first-encountered order (strict greater-than comparison).
// Returns nil when nothing passed.
func selectWinner(artifacts []*Artifact, outcomes []*Outcome) *scoredArtifact {
	var best *scoredArtifact
	for i, outcome := range outcomes {
		if outcome == nil || !outcome.Passed {
			continue
		}
		if best == nil || outcome.Score > best.outcome.Score {
			best = &scoredArtifact{artifact: artifacts[i], outcome: outcome}
		}
	}
	return best
}
