package types

import "time"

// RecoveryReport summarizes a persistence recovery episode.
type RecoveryReport struct {
	// EpisodeID uniquely identifies the episode.
	EpisodeID string

	// StartedAt and CompletedAt bound the episode; CompletedAt is zero while active.
	StartedAt   time.Time
	CompletedAt time.Time

	// Quorum is the resolved recovery quorum (cQuorum); 0 until resolved.
	Quorum int

	// Joined is the ownership-enabled member count at the last step.
	Joined int

	// Recovered counts partitions assigned from a persisted store.
	Recovered int

	// Placed counts partitions assigned by ordinary placement with no store.
	Placed int

	// Discarded counts tokens dropped as inconsistent.
	Discarded int

	// Orphans is the number of partitions still without a primary.
	Orphans int

	// Forced is true once an operator forced the episode past its
	// quorum and capacity checks.
	Forced bool

	// Restored lists the winning token of every recovered partition.
	Restored []RecoveryToken

	// Superseded lists tokens that lost to a newer store of the same partition.
	Superseded []RecoveryToken
}

// Done reports whether the episode completed.
func (r RecoveryReport) Done() bool {
	return !r.CompletedAt.IsZero()
}
