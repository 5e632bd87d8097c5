// Package kvutil provides utilities for working with NATS JetStream KeyValue stores.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucketRetries is the attempt budget EnsureBucket uses.
const DefaultBucketRetries = 5

// initialBackoff doubles after every failed attempt.
const initialBackoff = 10 * time.Millisecond

// EnsureBucket creates or opens a single-history KV bucket.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - bucket: Bucket name
//   - ttl: Entry TTL; zero keeps entries until deleted
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Error naming the bucket after all retries
func EnsureBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	cfg := jetstream.KeyValueConfig{Bucket: bucket, History: 1}
	if ttl > 0 {
		cfg.TTL = ttl
	}

	kv, err := EnsureKVBucketWithRetry(ctx, js, cfg, DefaultBucketRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to create/open KV bucket %s: %w", bucket, err)
	}

	return kv, nil
}

// EnsureKVBucketWithRetry creates or opens a KV bucket with retry logic.
//
// Every member of a cluster ensures the same buckets at startup, so a
// concurrent create of one bucket is expected and resolved by opening it.
// Other failures are retried with exponential backoff (10ms, 20ms, 40ms, ...).
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (<= 0 means 3)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: The last error once attempts run out, or the context error
//
// Example:
//
//	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
//	    Bucket: "custodian-heartbeat",
//	    TTL:    3 * time.Second,
//	}, 3)
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		kv, err := createOrOpen(ctx, js, config)
		if err == nil {
			return kv, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}
		if attempt >= maxRetries {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

func createOrOpen(ctx context.Context, js jetstream.JetStream, config jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	kv, err := js.CreateKeyValue(ctx, config)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketExists) {
		return nil, err
	}

	kv, err = js.KeyValue(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket exists but failed to open: %w", err)
	}

	return kv, nil
}
