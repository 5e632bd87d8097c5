// Package election elects the senior member over NATS KV.
//
// Exactly one member, the senior, runs ownership mutations: rebalancing,
// recovery and manual ownership commands. Other members track topology and
// reject mutations. Seniority is a TTL-bound lease on one KV key:
//
//  1. Request: RequestLeadership creates the key atomically
//  2. Renew: the senior renews with a revision-checked Update every TTL/3
//  3. Release: ReleaseLeadership deletes the key on graceful shutdown
//  4. Failover: a crashed senior's key expires and the next request wins
//
// Errors:
//   - ErrNotLeader: the operation requires seniority
//   - ErrLeadershipLost: another member took the lease
//   - ErrInvalidDuration: the lease duration must be positive
package election
