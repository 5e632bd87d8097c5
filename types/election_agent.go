package types

import "context"

// ElectionAgent elects the senior member that runs ownership mutations.
//
// Only the senior member's service rebalances, recovers and applies manual
// ownership commands; every other member tracks topology and ownership
// deltas but rejects mutations with ErrNotSenior.
//
// Implementations can use:
//   - NATS KV (built-in, see internal/election)
//   - External coordination services
type ElectionAgent interface {
	// RequestLeadership attempts to acquire or keep seniority.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - member: The member requesting seniority
	//   - leaseDuration: Lease duration in seconds
	//
	// Returns:
	//   - bool: true if seniority acquired/held, false otherwise
	//   - error: Election error (nil on success)
	RequestLeadership(ctx context.Context, member MemberID, leaseDuration int64) (bool, error)

	// RenewLeadership renews the current lease. Fails if seniority was lost.
	RenewLeadership(ctx context.Context) error

	// ReleaseLeadership voluntarily releases seniority during graceful shutdown.
	ReleaseLeadership(ctx context.Context) error

	// IsLeader checks if this member is currently senior.
	IsLeader(ctx context.Context) (bool, error)
}
