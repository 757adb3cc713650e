// Package storage persists task and result records in NATS KV and image
// bytes in a JetStream object store.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/retouch/pipeline"
)

// Bucket names for each record type.
const (
	BucketTasks   = "RETOUCH_TASKS"
	BucketResults = "RETOUCH_RESULTS"
)

// TaskRecord is the persisted view of one delivered task, keyed by its
// external id. The gateway restricts task ids to a KV-safe charset, so
// the external id doubles as the KV key.
type TaskRecord struct {
	ID           string          `json:"id"`
	Instruction  string          `json:"instruction"`
	Category     string          `json:"category,omitempty"`
	ImageObject  string          `json:"image_object"`
	Status       pipeline.Status `json:"status"`
	StatusChange []StatusChange  `json:"status_changes,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// StatusChange records a status transition.
type StatusChange struct {
	From      pipeline.Status `json:"from"`
	To        pipeline.Status `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
}

// applyStatus mutates the record for a transition to the given status.
func (t *TaskRecord) applyStatus(to pipeline.Status, now time.Time) {
	from := t.Status
	t.Status = to
	t.UpdatedAt = now
	t.StatusChange = append(t.StatusChange, StatusChange{
		From:      from,
		To:        to,
		Timestamp: now,
	})

	// Track start/completion times
	if to == pipeline.StatusLocked && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if to.IsTerminal() && t.CompletedAt == nil {
		t.CompletedAt = &now
	}
}

// ResultRecord is the persisted terminal outcome of one task run, keyed
// by task id. ArtifactObject names the winning image in the object
// store; ArtifactLocator is the provider's remote reference for it.
type ResultRecord struct {
	TaskID           string          `json:"task_id"`
	Status           pipeline.Status `json:"status"`
	WinningProfile   string          `json:"winning_profile,omitempty"`
	Iterations       int             `json:"iterations"`
	StepsCompleted   int             `json:"steps_completed,omitempty"`
	StepsTotal       int             `json:"steps_total,omitempty"`
	StepAttempts     []int           `json:"step_attempts,omitempty"`
	ElapsedMS        int64           `json:"elapsed_ms"`
	FailureSummaries []string        `json:"failure_summaries,omitempty"`
	ArtifactObject   string          `json:"artifact_object,omitempty"`
	ArtifactLocator  string          `json:"artifact_locator,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewResultRecord builds a result record from a terminal run result.
// artifactObject names the stored winning image; empty when the run
// produced none.
func NewResultRecord(res *pipeline.Result, artifactObject string) *ResultRecord {
	rec := &ResultRecord{
		TaskID:           res.TaskID,
		Status:           res.Status,
		WinningProfile:   res.WinningProfile,
		Iterations:       res.Iterations,
		StepsCompleted:   res.StepsCompleted,
		StepsTotal:       res.StepsTotal,
		StepAttempts:     res.StepAttempts,
		ElapsedMS:        res.Elapsed.Milliseconds(),
		FailureSummaries: res.FailureSummaries,
		ArtifactObject:   artifactObject,
		CreatedAt:        time.Now(),
	}
	if res.Artifact != nil {
		rec.ArtifactLocator = res.Artifact.Locator
	}
	return rec
}

// Store provides record storage operations backed by NATS KV.
type Store struct {
	tasks   jetstream.KeyValue
	results jetstream.KeyValue
}

// NewStore creates a new Store with the given JetStream context.
// It creates the necessary KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	tasks, err := getOrCreateBucket(ctx, js, BucketTasks, "Retouch task records")
	if err != nil {
		return nil, fmt.Errorf("create tasks bucket: %w", err)
	}

	results, err := getOrCreateBucket(ctx, js, BucketResults, "Retouch terminal results")
	if err != nil {
		return nil, fmt.Errorf("create results bucket: %w", err)
	}

	return &Store{
		tasks:   tasks,
		results: results,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name, description string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		History:     5, // Keep last 5 revisions
	})
}

// PutTask stores a task record keyed by its external id. A redelivery of
// the same id overwrites the previous record.
func (s *Store) PutTask(ctx context.Context, rec *TaskRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("task record id is required")
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = pipeline.StatusReceived
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}

	if _, err := s.tasks.Put(ctx, rec.ID, data); err != nil {
		return fmt.Errorf("store task record: %w", err)
	}

	return nil
}

// GetTask retrieves a task record by external id.
func (s *Store) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	entry, err := s.tasks.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task record: %w", err)
	}

	var rec TaskRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal task record: %w", err)
	}

	return &rec, nil
}

// UpdateTaskStatus transitions a task record to the given status and
// records the change in its history.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, to pipeline.Status) error {
	rec, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}

	rec.applyStatus(to, time.Now())

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal task record: %w", err)
	}

	if _, err := s.tasks.Put(ctx, id, data); err != nil {
		return fmt.Errorf("update task record: %w", err)
	}

	return nil
}

// ListTasks returns all task records.
func (s *Store) ListTasks(ctx context.Context) ([]*TaskRecord, error) {
	keys, err := s.tasks.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list task keys: %w", err)
	}

	records := make([]*TaskRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := s.tasks.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var rec TaskRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}

	return records, nil
}

// PutResult stores the terminal result record for a task. One result per
// task id; a redelivered run's result overwrites the previous one.
func (s *Store) PutResult(ctx context.Context, rec *ResultRecord) error {
	if rec.TaskID == "" {
		return fmt.Errorf("result record task id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result record: %w", err)
	}

	if _, err := s.results.Put(ctx, rec.TaskID, data); err != nil {
		return fmt.Errorf("store result record: %w", err)
	}

	return nil
}

// GetResult retrieves the terminal result record for a task.
func (s *Store) GetResult(ctx context.Context, taskID string) (*ResultRecord, error) {
	entry, err := s.results.Get(ctx, taskID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get result record: %w", err)
	}

	var rec ResultRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal result record: %w", err)
	}

	return &rec, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}
