package strategy

import (
	"fmt"

	"github.com/arloliu/custodian/types"
)

// LeastLoaded places partitions on the candidate holding the fewest copies.
type LeastLoaded struct{}

var _ types.PlacementStrategy = (*LeastLoaded)(nil)

// NewLeastLoaded creates a least-loaded strategy.
//
// Primaries go to the candidate with the fewest copies, ties broken by the
// lowest member id. Placement is even but does not keep a partition on the
// same member across membership changes.
func NewLeastLoaded() *LeastLoaded {
	return &LeastLoaded{}
}

// PlacePrimary returns the least loaded candidate.
func (ll *LeastLoaded) PlacePrimary(partition int, candidates []types.Member, load map[types.MemberID]int) (types.MemberID, error) {
	if len(candidates) == 0 {
		return types.NoMember, fmt.Errorf("%w: partition %d", types.ErrNoEligibleMember, partition)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if lighter(c, best, load) {
			best = c
		}
	}

	return best.ID, nil
}

// PlaceBackup returns the candidate most distant from the holders, then the
// least loaded among those.
func (ll *LeastLoaded) PlaceBackup(partition int, holders []types.Member, candidates []types.Member, load map[types.MemberID]int) (types.MemberID, error) {
	if len(candidates) == 0 {
		return types.NoMember, fmt.Errorf("%w: partition %d", types.ErrNoEligibleMember, partition)
	}

	best := candidates[0]
	bestDistance := distance(best, holders)
	for _, c := range candidates[1:] {
		d := distance(c, holders)
		if d > bestDistance || (d == bestDistance && lighter(c, best, load)) {
			best, bestDistance = c, d
		}
	}

	return best.ID, nil
}

func lighter(a, b types.Member, load map[types.MemberID]int) bool {
	if load[a.ID] != load[b.ID] {
		return load[a.ID] < load[b.ID]
	}

	return a.ID < b.ID
}
