// Package ownership implements the versioned partition ownership map.
//
// The Map is a plain in-memory table owned by a single writer (the service
// event loop, through the ownership coordinator). It performs no locking and
// never touches the network. Every mutation validates the record invariants
// before applying, so a failed call leaves the map unchanged:
//
//   - a primary never appears among its own backups
//   - backups never contain the same non-zero member twice
//   - record versions never decrease
//
// Readers on other goroutines must use Snapshot, which returns an immutable
// deep copy.
package ownership
