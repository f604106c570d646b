// Package jobcache provides a NATS-based implementation of the JobCache
// interface used for preview/confirm checkpoints.
package jobcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrNotFound indicates no checkpoint exists under the requested key. Expired
// entries look identical to entries that never existed.
var ErrNotFound = errors.New("job checkpoint not found")

// NatsJobCache implements the core.JobCache interface using a NATS JetStream
// object store bucket with a per-bucket TTL. Checkpoints expire on their own;
// Delete exists for the explicit cleanup after a confirmed job.
type NatsJobCache struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// New creates and initializes a new NatsJobCache. Entries written to the
// bucket expire after ttl.
func New(jetstreamContext nats.JetStreamContext, bucketName string, ttl time.Duration) (*NatsJobCache, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Preview checkpoints for the %s bucket.", bucketName),
		TTL:         ttl,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing cache bucket '%s': %w", bucketName, err)
			}
		} else {
			// For any other error, fail.
			return nil, fmt.Errorf("failed to create cache bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsJobCache{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
	}, nil
}

// Set stores a checkpoint blob under key, replacing any previous value.
func (n *NatsJobCache) Set(_ context.Context, key string, value []byte) error {
	reader := bytes.NewReader(value)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader)
	if err != nil {
		return fmt.Errorf("failed to put checkpoint '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Get retrieves a checkpoint blob. A missing or expired key returns
// ErrNotFound.
func (n *NatsJobCache) Get(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key)
		}

		return nil, fmt.Errorf("failed to get checkpoint '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read checkpoint '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close checkpoint '%s': %w", key, closeErr)
	}

	return data, nil
}

// Delete removes a checkpoint. Deleting an absent key is not an error.
func (n *NatsJobCache) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil
		}

		return fmt.Errorf("failed to delete checkpoint '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
