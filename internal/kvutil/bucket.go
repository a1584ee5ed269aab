// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrBucketMismatch is returned when a bucket with the requested name exists
// but stores data differently than requested. Retrying cannot fix it.
var ErrBucketMismatch = errors.New("existing KV bucket has incompatible configuration")

// EnsureBucket creates the inventory bucket, or opens it if another instance
// created it first.
//
// An existing bucket is only accepted when its history depth and storage type
// match config; descriptive fields may differ. Transient failures are retried
// with exponential backoff (10ms, 20ms, 40ms...).
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - attempts: Maximum number of attempts (default: 3)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: ErrBucketMismatch, the context error, or the last error after all attempts
func EnsureBucket(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	attempts int,
) (jetstream.KeyValue, error) {
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := range attempts {
		kv, err := openOrCreate(ctx, js, config)
		if err == nil || errors.Is(err, ErrBucketMismatch) {
			return kv, err
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("ensure KV bucket %s: %w", config.Bucket, ctx.Err())
		}

		if attempt < attempts-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is small
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("ensure KV bucket %s: %w", config.Bucket, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("ensure KV bucket %s: gave up after %d attempts: %w",
		config.Bucket, attempts, lastErr)
}

func openOrCreate(ctx context.Context, js jetstream.JetStream, config jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	kv, err := js.CreateKeyValue(ctx, config)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketExists) {
		return nil, err
	}

	kv, err = js.KeyValue(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open existing bucket: %w", err)
	}

	if err := checkCompatible(ctx, kv, config); err != nil {
		return nil, err
	}

	return kv, nil
}

// checkCompatible compares the settings that change how entries are stored.
func checkCompatible(ctx context.Context, kv jetstream.KeyValue, config jetstream.KeyValueConfig) error {
	status, err := kv.Status(ctx)
	if err != nil {
		return fmt.Errorf("read bucket status: %w", err)
	}

	wantHistory := max(int64(config.History), 1)
	if status.History() != wantHistory {
		return fmt.Errorf("%w: bucket %s keeps %d revisions, want %d",
			ErrBucketMismatch, config.Bucket, status.History(), wantHistory)
	}

	bucketStatus, ok := status.(*jetstream.KeyValueBucketStatus)
	if !ok {
		return nil
	}

	if storage := bucketStatus.StreamInfo().Config.Storage; storage != config.Storage {
		return fmt.Errorf("%w: bucket %s uses %s storage, want %s",
			ErrBucketMismatch, config.Bucket, storage, config.Storage)
	}

	return nil
}
