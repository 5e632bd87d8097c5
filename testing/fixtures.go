package testing

import (
	"fmt"
	"time"

	"github.com/arloliu/custodian/types"
)

// NewMember builds an ownership-enabled member located on its own machine.
//
// Parameters:
//   - id: Member id
//   - site: Site label (rack and machine are derived from site and id)
//
// Returns:
//   - types.Member: Normalized member
func NewMember(id types.MemberID, site string) types.Member {
	return types.Member{
		ID:               id,
		Site:             site,
		Rack:             site + "-rack",
		Machine:          fmt.Sprintf("%s-host-%d", site, id),
		OwnershipEnabled: true,
		JoinedAt:         time.Unix(int64(id), 0).UTC(),
	}.Normalize()
}

// NewMembers builds count members with ids 1..count spread round-robin across sites.
//
// With no sites every member is placed in "site-a".
func NewMembers(count int, sites ...string) []types.Member {
	if len(sites) == 0 {
		sites = []string{"site-a"}
	}

	members := make([]types.Member, 0, count)
	for i := range count {
		members = append(members, NewMember(types.MemberID(i+1), sites[i%len(sites)])) //nolint:gosec // test fixture ids stay small
	}

	return members
}

// NewTopology builds a topology at version 1 from the given members.
func NewTopology(members ...types.Member) *types.Topology {
	return types.NewTopology(1, members...)
}
