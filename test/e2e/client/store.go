package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/retouch/storage"
)

// StoreClient reads task records, results, and stored images for e2e
// assertions. It opens the same buckets the orchestrator writes to.
type StoreClient struct {
	store  *storage.Store
	images *storage.ImageStore
}

// NewStoreClient opens the task and image stores over an existing
// JetStream context.
func NewStoreClient(ctx context.Context, js jetstream.JetStream) (*StoreClient, error) {
	store, err := storage.NewStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	images, err := storage.NewImageStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("open image store: %w", err)
	}
	return &StoreClient{store: store, images: images}, nil
}

// GetTask fetches one task record.
func (c *StoreClient) GetTask(ctx context.Context, taskID string) (*storage.TaskRecord, error) {
	return c.store.GetTask(ctx, taskID)
}

// GetResult fetches one result record.
func (c *StoreClient) GetResult(ctx context.Context, taskID string) (*storage.ResultRecord, error) {
	return c.store.GetResult(ctx, taskID)
}

// GetImage fetches stored image bytes by object name.
func (c *StoreClient) GetImage(ctx context.Context, objectName string) ([]byte, error) {
	return c.images.Get(ctx, objectName)
}

// WaitForTerminal polls the task record until it reaches a terminal
// status or the context expires. A record that does not exist yet is
// treated as still pending.
func (c *StoreClient) WaitForTerminal(ctx context.Context, taskID string, pollInterval time.Duration) (*storage.TaskRecord, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for task %s to complete: %w", taskID, ctx.Err())
		case <-ticker.C:
			rec, err := c.store.GetTask(ctx, taskID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("get task %s: %w", taskID, err)
			}
			if rec.Status.IsTerminal() {
				return rec, nil
			}
		}
	}
}

// WaitForResult polls for the result record until it exists or the
// context expires. The task record turns terminal shortly before the
// result record is written, so readers that saw the terminal status
// still need a short wait here.
func (c *StoreClient) WaitForResult(ctx context.Context, taskID string, pollInterval time.Duration) (*storage.ResultRecord, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for result of task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
			rec, err := c.store.GetResult(ctx, taskID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("get result %s: %w", taskID, err)
			}
			return rec, nil
		}
	}
}
