package kvutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/internal/natsutil"
)

// LatencyRecorder receives KV operation latencies. types.MemberMetrics satisfies it.
type LatencyRecorder interface {
	RecordKVOperationDuration(operation string, duration float64)
}

// ListKeys returns the bucket keys with the given prefix.
//
// An empty bucket is not an error: NATS reports it as "no keys found",
// which is mapped to an empty result.
//
// Parameters:
//   - ctx: Context for cancellation
//   - kv: KV bucket
//   - prefix: Key prefix to keep; empty keeps every key
//   - metrics: Optional latency recorder (may be nil)
//
// Returns:
//   - []string: Matching keys in bucket order
//   - error: KV error other than an empty bucket
func ListKeys(ctx context.Context, kv jetstream.KeyValue, prefix string, metrics LatencyRecorder) ([]string, error) {
	start := time.Now()
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if natsutil.IsNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	observe(metrics, "keys", start)

	return keys, nil
}

// PutJSON stores v as JSON under key.
//
// Returns:
//   - uint64: Revision of the stored entry
//   - error: Encoding or KV error
func PutJSON(ctx context.Context, kv jetstream.KeyValue, key string, v any, metrics LatencyRecorder) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s: %w", key, err)
	}

	start := time.Now()
	rev, err := kv.Put(ctx, key, data)
	if err != nil {
		return 0, fmt.Errorf("failed to put %s: %w", key, err)
	}
	observe(metrics, "put", start)

	return rev, nil
}

// GetJSON decodes the JSON value stored under key into v.
//
// Returns:
//   - bool: false when the key does not exist (v is left untouched)
//   - error: Decoding or KV error
func GetJSON(ctx context.Context, kv jetstream.KeyValue, key string, v any, metrics LatencyRecorder) (bool, error) {
	start := time.Now()
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if natsutil.IsNotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	observe(metrics, "get", start)

	if err := json.Unmarshal(entry.Value(), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}

	return true, nil
}

// Delete removes key, treating a missing key as success.
func Delete(ctx context.Context, kv jetstream.KeyValue, key string, metrics LatencyRecorder) error {
	start := time.Now()
	if err := kv.Delete(ctx, key); err != nil && !natsutil.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	observe(metrics, "delete", start)

	return nil
}

func observe(metrics LatencyRecorder, op string, start time.Time) {
	if metrics != nil {
		metrics.RecordKVOperationDuration(op, time.Since(start).Seconds())
	}
}
