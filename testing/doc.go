// Package testing provides test utilities for the custodian library.
//
// It follows Go's convention of shipping testing helpers in a dedicated
// package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS: In-process NATS server with JetStream
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - NewTestLogger: types.Logger writing through t.Logf
//   - NewMember, NewTopology: Topology fixtures
//   - WaitAllState, WaitAnyState: Parallel waits on service states
//   - AssertOwnershipConsistent: Cross-member ownership invariants
//
// Example usage:
//
//	import (
//	    "testing"
//	    custodiantest "github.com/arloliu/custodian/testing"
//	)
//
//	func TestMyBinding(t *testing.T) {
//	    _, nc := custodiantest.StartEmbeddedNATS(t)
//	    kv := custodiantest.CreateJetStreamKV(t, nc, "stores")
//	    // Use kv for your tests
//	}
package testing
