// Package store provides built-in StoreManager, TokenSource and
// QuorumInfoStore implementations.
//
// The package includes:
//
//   - MemoryManager, MemorySource, MemoryQuorumInfo: in-process
//     implementations for tests and embedded single-process clusters
//   - KVManager, KVTokenSource, KVQuorumInfo: NATS JetStream KV backed
//     implementations used by custodian.Node
//
// Custom storage engines can be plugged in by satisfying types.StoreManager.
// Only recovery tokens matter to ownership recovery; the store contents are
// opaque to this library.
package store
