// Package membership turns heartbeat KV activity into member join and leave events.
//
// The Monitor uses a hybrid approach:
//   - Watcher (primary): fast detection through NATS KV Watch, debounced
//   - Polling (fallback): a full key scan every heartbeat TTL/2
//
// A heartbeat key that appears is a join. A key removed by the member's own
// Delete (observed by the watcher) is a graceful leave. A key that vanishes
// without a delete marker expired by TTL and is reported as a failure.
package membership
