package scenarios

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/retouch/pipeline"
	"github.com/c360studio/retouch/test/e2e/client"
	"github.com/c360studio/retouch/test/e2e/config"
)

// ParallelSuccessScenario submits one edit task and verifies the
// parallel iteration path end to end: the task record reaches success,
// the winning image lands in the object store, exactly one result
// event is published, and the provider saw the expected traffic.
type ParallelSuccessScenario struct {
	cfg     *config.Config
	env     *env
	results *client.MessageCapture
	taskID  string

	baselineCalls int64
}

// NewParallelSuccessScenario creates the scenario.
func NewParallelSuccessScenario(cfg *config.Config) *ParallelSuccessScenario {
	return &ParallelSuccessScenario{cfg: cfg}
}

// Name returns the scenario name.
func (s *ParallelSuccessScenario) Name() string {
	return "parallel-success"
}

// Description describes what the scenario verifies.
func (s *ParallelSuccessScenario) Description() string {
	return "Submits an edit task and verifies the parallel iteration path: success status, stored winning image, one result event, provider traffic"
}

// Setup connects the clients and starts capturing result events.
func (s *ParallelSuccessScenario) Setup(ctx context.Context) error {
	s.env = newEnv(s.cfg)
	if err := s.env.connect(ctx); err != nil {
		return err
	}

	capture, err := s.env.nats.CaptureMessages(config.ResultSubjectPrefix + ".>")
	if err != nil {
		_ = s.env.close(ctx)
		return err
	}
	s.results = capture
	s.taskID = fmt.Sprintf("e2e-parallel-%d", time.Now().UnixNano())

	stats, err := s.env.provider.GetStats(ctx)
	if err != nil {
		_ = capture.Stop()
		_ = s.env.close(ctx)
		return fmt.Errorf("provider stats baseline: %w", err)
	}
	s.baselineCalls = stats.TotalCalls

	return nil
}

// Execute runs the scenario.
func (s *ParallelSuccessScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()

	err := runStage(ctx, result, "submit task", func(ctx context.Context) error {
		ack, err := s.env.gateway.SubmitTask(ctx, client.TaskSubmission{
			TaskID:      s.taskID,
			Instruction: "Remove the desk lamp from the photo",
			Image:       referenceImage(),
		})
		if err != nil {
			return err
		}
		if ack.TaskID != s.taskID {
			return fmt.Errorf("ack task id %q, want %q", ack.TaskID, s.taskID)
		}
		if ack.Status != "accepted" {
			return fmt.Errorf("ack status %q, want accepted", ack.Status)
		}
		if ack.ImageObject == "" {
			return fmt.Errorf("ack has no image object")
		}
		result.SetDetail("trace_id", ack.TraceID)
		result.SetDetail("image_object", ack.ImageObject)
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = runStage(ctx, result, "await terminal status", func(ctx context.Context) error {
		taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
		defer cancel()

		rec, err := s.env.store.WaitForTerminal(taskCtx, s.taskID, config.DefaultPollInterval)
		if err != nil {
			return err
		}
		if rec.Status != pipeline.StatusSuccess {
			return fmt.Errorf("terminal status %q, want %q", rec.Status, pipeline.StatusSuccess)
		}
		result.SetMetric("status_transitions", len(rec.StatusChange))
		return nil
	})
	if err != nil {
		return result, nil
	}

	var artifactObject string
	err = runStage(ctx, result, "verify result record", func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
		defer cancel()

		rec, err := s.env.store.WaitForResult(waitCtx, s.taskID, config.DefaultPollInterval)
		if err != nil {
			return err
		}
		if rec.Status != pipeline.StatusSuccess {
			return fmt.Errorf("result status %q, want %q", rec.Status, pipeline.StatusSuccess)
		}
		if rec.Iterations < 1 {
			return fmt.Errorf("result records %d iterations", rec.Iterations)
		}
		if rec.WinningProfile == "" {
			return fmt.Errorf("result has no winning profile")
		}
		if rec.ArtifactObject == "" {
			return fmt.Errorf("result has no artifact object")
		}
		artifactObject = rec.ArtifactObject
		result.SetMetric("iterations", rec.Iterations)
		result.SetMetric("elapsed_ms", rec.ElapsedMS)
		result.SetDetail("winning_profile", rec.WinningProfile)
		result.SetDetail("artifact_object", rec.ArtifactObject)
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = runStage(ctx, result, "verify stored artifact", func(ctx context.Context) error {
		img, err := s.env.store.GetImage(ctx, artifactObject)
		if err != nil {
			return err
		}
		if len(img) == 0 {
			return fmt.Errorf("stored artifact %s is empty", artifactObject)
		}
		result.SetMetric("artifact_bytes", len(img))
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = runStage(ctx, result, "verify result event", func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
		defer cancel()
		if err := s.results.WaitForCount(waitCtx, 1); err != nil {
			return fmt.Errorf("no result event arrived: %w", err)
		}

		events := resultEventsFor(s.results, s.taskID)
		if len(events) != 1 {
			return fmt.Errorf("%d result events for task, want 1", len(events))
		}
		if events[0].Status != string(pipeline.StatusSuccess) {
			return fmt.Errorf("result event status %q, want %q", events[0].Status, pipeline.StatusSuccess)
		}

		// The terminal status rides on the subject's final token.
		for _, msg := range s.results.Messages() {
			if strings.Contains(string(msg.Data), s.taskID) && !strings.HasSuffix(msg.Subject, "."+string(pipeline.StatusSuccess)) {
				return fmt.Errorf("result published on %q, want suffix .%s", msg.Subject, pipeline.StatusSuccess)
			}
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = runStage(ctx, result, "verify provider traffic", func(ctx context.Context) error {
		stats, err := s.env.provider.GetStats(ctx)
		if err != nil {
			return err
		}
		delta := stats.TotalCalls - s.baselineCalls
		// One passing iteration costs at least an enhancement, a
		// generation, and a grading call.
		if delta < 3 {
			return fmt.Errorf("provider saw %d calls, want at least 3", delta)
		}
		result.SetMetric("provider_calls", delta)
		return nil
	})
	if err != nil {
		return result, nil
	}

	result.Success = true
	return result, nil
}

// Teardown stops captures and closes connections.
func (s *ParallelSuccessScenario) Teardown(ctx context.Context) error {
	if s.results != nil {
		_ = s.results.Stop()
	}
	if s.env != nil {
		return s.env.close(ctx)
	}
	return nil
}
