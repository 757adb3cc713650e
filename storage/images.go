package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// BucketImages is the object store bucket holding reference images and
// winning artifacts.
const BucketImages = "RETOUCH_IMAGES"

// contentTypeKey is the object metadata key carrying the image MIME type.
const contentTypeKey = "content-type"

// ImageStore provides image byte storage backed by a JetStream object
// store. Objects are keyed by generated uuid names so callers never
// collide, whatever their task ids look like.
type ImageStore struct {
	bucket jetstream.ObjectStore
}

// NewImageStore creates a new ImageStore with the given JetStream
// context. It creates the object store bucket if it doesn't exist.
func NewImageStore(ctx context.Context, js jetstream.JetStream) (*ImageStore, error) {
	bucket, err := js.ObjectStore(ctx, BucketImages)
	if err == nil {
		return &ImageStore{bucket: bucket}, nil
	}
	// Bucket doesn't exist, create it
	bucket, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      BucketImages,
		Description: "Retouch reference and artifact images",
	})
	if err != nil {
		return nil, fmt.Errorf("create image bucket: %w", err)
	}
	return &ImageStore{bucket: bucket}, nil
}

// Put stores image bytes under a fresh uuid object name and returns the
// name. The content type rides along as object metadata.
func (s *ImageStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image data is empty")
	}

	name := uuid.New().String()
	meta := jetstream.ObjectMeta{Name: name}
	if contentType != "" {
		meta.Metadata = map[string]string{contentTypeKey: contentType}
	}

	if _, err := s.bucket.Put(ctx, meta, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("store image %s: %w", name, err)
	}

	return name, nil
}

// Get retrieves image bytes by object name.
func (s *ImageStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get image %s: %w", name, err)
	}
	return data, nil
}

// ContentType returns the stored MIME type for an object, or empty when
// none was recorded.
func (s *ImageStore) ContentType(ctx context.Context, name string) (string, error) {
	info, err := s.bucket.GetInfo(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get image info %s: %w", name, err)
	}
	return info.Metadata[contentTypeKey], nil
}

// Delete removes an image object. Deleting an unknown name returns
// ErrNotFound.
func (s *ImageStore) Delete(ctx context.Context, name string) error {
	if err := s.bucket.Delete(ctx, name); err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete image %s: %w", name, err)
	}
	return nil
}
