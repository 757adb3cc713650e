package pipeline

import (
	"context"
	"log/slog"
)

// Fallback is the terminal escalation: it reports an unresolved task to
// the human-review collaborator. Notification is strictly best-effort;
// a failure to notify is logged, never retried, and never changes the
// task's terminal status.
type Fallback struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewFallback creates a fallback trigger. A nil notifier is allowed and
// turns Trigger into a log-only operation.
func NewFallback(notifier Notifier, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{notifier: notifier, logger: logger}
}

// Trigger hands the task over for human review with the accumulated
// failure context.
func (f *Fallback) Trigger(ctx context.Context, task *Task, iterations int, failures []string) {
	f.logger.Info("escalating to human review",
		"task_id", task.ID,
		"trace_id", task.TraceID,
		"iterations", iterations,
		"failures", len(failures))

	if f.notifier == nil {
		return
	}

	err := f.notifier.Notify(ctx, Escalation{
		Task:       task,
		Iterations: iterations,
		Failures:   failures,
	})
	if err != nil {
		f.logger.Error("human review notification failed",
			"task_id", task.ID,
			"error", err)
	}
}
