package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/retouch/pipeline"
	"github.com/c360studio/retouch/test/e2e/client"
	"github.com/c360studio/retouch/test/e2e/config"
)

// DuplicateRejectionScenario submits the same task id twice in quick
// succession and verifies the duplicate delivery is absorbed: the task
// runs once, exactly one result event is published, and the record
// keeps a single clean transition history.
//
// The duplicate must arrive while the first run is still in flight, so
// the mock provider should run with -latency high enough to hold the
// first run open (2s is plenty).
type DuplicateRejectionScenario struct {
	cfg     *config.Config
	env     *env
	results *client.MessageCapture
	taskID  string

	firstSubmit time.Time
}

// NewDuplicateRejectionScenario creates the scenario.
func NewDuplicateRejectionScenario(cfg *config.Config) *DuplicateRejectionScenario {
	return &DuplicateRejectionScenario{cfg: cfg}
}

// Name returns the scenario name.
func (s *DuplicateRejectionScenario) Name() string {
	return "duplicate-rejection"
}

// Description describes what the scenario verifies.
func (s *DuplicateRejectionScenario) Description() string {
	return "Submits the same task id twice while the first run is in flight and verifies the duplicate is absorbed: one run, one result event"
}

// Setup connects the clients and starts capturing result events.
func (s *DuplicateRejectionScenario) Setup(ctx context.Context) error {
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
	s.taskID = fmt.Sprintf("e2e-duplicate-%d", time.Now().UnixNano())
	return nil
}

// Execute runs the scenario.
func (s *DuplicateRejectionScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()

	err := runStage(ctx, result, "submit task twice", func(ctx context.Context) error {
		submission := client.TaskSubmission{
			TaskID:      s.taskID,
			Instruction: "Brighten the background behind the subject",
			Image:       referenceImage(),
		}

		s.firstSubmit = time.Now()
		first, err := s.env.gateway.SubmitTask(ctx, submission)
		if err != nil {
			return fmt.Errorf("first submission: %w", err)
		}

		// The gateway accepts both; absorption happens downstream at
		// the lock.
		second, err := s.env.gateway.SubmitTask(ctx, submission)
		if err != nil {
			return fmt.Errorf("second submission: %w", err)
		}

		if first.TaskID != s.taskID || second.TaskID != s.taskID {
			return fmt.Errorf("acks carry ids %q and %q, want %q", first.TaskID, second.TaskID, s.taskID)
		}
		if first.TraceID == second.TraceID {
			return fmt.Errorf("both submissions share trace id %q", first.TraceID)
		}
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

		elapsed := time.Since(s.firstSubmit)
		result.SetMetric("run_duration_ms", elapsed.Milliseconds())
		if elapsed < time.Second {
			result.AddWarning(fmt.Sprintf(
				"run completed in %v; without provider latency the duplicate may have arrived after release and this scenario proves little",
				elapsed.Round(time.Millisecond)))
		}

		// One run means one pass through the ladder: a duplicate that
		// slipped past the lock would append a second locked edge.
		locked := 0
		for _, change := range rec.StatusChange {
			if change.To == pipeline.StatusLocked {
				locked++
			}
		}
		if locked != 1 {
			return fmt.Errorf("record shows %d locked transitions, want 1", locked)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = runStage(ctx, result, "verify single result event", func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
		defer cancel()
		if err := s.results.WaitForCount(waitCtx, 1); err != nil {
			return fmt.Errorf("no result event arrived: %w", err)
		}

		// The rejected duplicate publishes nothing; give a late second
		// event time to show up before counting.
		select {
		case <-time.After(config.QuietPeriod):
		case <-ctx.Done():
			return ctx.Err()
		}

		events := resultEventsFor(s.results, s.taskID)
		if len(events) != 1 {
			return fmt.Errorf("%d result events for task, want exactly 1", len(events))
		}
		if events[0].Status != string(pipeline.StatusSuccess) {
			return fmt.Errorf("result event status %q, want %q", events[0].Status, pipeline.StatusSuccess)
		}
		return nil
	})
	if err != nil {
		return result, nil
	}

	err = runStage(ctx, result, "verify result record", func(ctx context.Context) error {
		rec, err := s.env.store.GetResult(ctx, s.taskID)
		if err != nil {
			return err
		}
		if rec.Status != pipeline.StatusSuccess {
			return fmt.Errorf("result status %q, want %q", rec.Status, pipeline.StatusSuccess)
		}
		result.SetMetric("iterations", rec.Iterations)
		return nil
	})
	if err != nil {
		return result, nil
	}

	result.Success = true
	return result, nil
}

// Teardown stops captures and closes connections.
func (s *DuplicateRejectionScenario) Teardown(ctx context.Context) error {
	if s.results != nil {
		_ = s.results.Stop()
	}
	if s.env != nil {
		return s.env.close(ctx)
	}
	return nil
}
