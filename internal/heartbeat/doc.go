// Package heartbeat publishes member liveness records to NATS KV.
//
// Every member periodically writes its Member description under
// "{prefix}.{memberID}" in a bucket whose TTL is about three heartbeat
// intervals. The membership monitor watches the bucket:
//
//   - a new key is a member join;
//   - a deleted key (Publisher.Stop) is a graceful leave;
//   - a key that disappears by TTL expiry is a failure.
//
// Example:
//
//	publisher := heartbeat.New(kv, "member", 2*time.Second,
//	    heartbeat.WithLogger(logger),
//	    heartbeat.WithMetrics(metrics),
//	)
//	publisher.SetMember(member)
//
//	if err := publisher.Start(ctx); err != nil {
//	    return err
//	}
//	defer publisher.Stop()
//
// The Publisher is safe for concurrent use.
package heartbeat
