// Package delta replicates ownership records from the senior member to the
// rest of the grid through a NATS KV bucket.
//
// The senior's Publisher writes every record whose version changed under
// "<prefix>.<partition>". Every member runs a Follower that watches those
// keys and hands each record to its service; records that are not newer
// than the local copy are ignored there.
//
// A member that joins late receives the full ownership map from the
// watcher's initial replay.
package delta
