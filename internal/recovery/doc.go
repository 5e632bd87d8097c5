// Package recovery restores partition ownership from persisted stores after
// a cluster restart.
//
// A recovery episode collects the Recovery Tokens each member holds, waits
// until enough members have joined, then assigns every orphaned partition
// to the live member holding its newest store. Partitions no member holds
// a store for are placed like fresh partitions.
//
// The Collector runs off the event loop; the Coordinator runs on it.
package recovery
