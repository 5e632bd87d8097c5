package strategy

import (
	"fmt"

	"github.com/arloliu/custodian/internal/hash"
	"github.com/arloliu/custodian/types"
)

// ConsistentHash places partitions with a consistent hash ring of the candidates.
type ConsistentHash struct {
	virtualNodes int
	hashSeed     uint64
}

var _ types.PlacementStrategy = (*ConsistentHash)(nil)

// ConsistentHashOption configures a ConsistentHash strategy.
type ConsistentHashOption func(*ConsistentHash)

// NewConsistentHash creates a consistent hash strategy.
//
// Parameters:
//   - opts: Optional configuration (WithVirtualNodes, WithHashSeed)
//
// Returns:
//   - *ConsistentHash: Initialized strategy
//
// Example:
//
//	svc, err := custodian.New(&cfg, custodian.WithPlacementStrategy(
//	    strategy.NewConsistentHash(strategy.WithVirtualNodes(300)),
//	))
func NewConsistentHash(opts ...ConsistentHashOption) *ConsistentHash {
	ch := &ConsistentHash{virtualNodes: hash.DefaultVirtualNodes}
	for _, opt := range opts {
		opt(ch)
	}

	return ch
}

// WithVirtualNodes sets the number of virtual nodes per member.
//
// Higher values spread partitions more evenly at the cost of ring size.
func WithVirtualNodes(nodes int) ConsistentHashOption {
	return func(ch *ConsistentHash) {
		ch.virtualNodes = nodes
	}
}

// WithHashSeed sets the hash seed of the ring.
func WithHashSeed(seed uint64) ConsistentHashOption {
	return func(ch *ConsistentHash) {
		ch.hashSeed = seed
	}
}

// PlacePrimary returns the ring owner of the partition among the candidates.
func (ch *ConsistentHash) PlacePrimary(partition int, candidates []types.Member, _ map[types.MemberID]int) (types.MemberID, error) {
	if len(candidates) == 0 {
		return types.NoMember, fmt.Errorf("%w: partition %d", types.ErrNoEligibleMember, partition)
	}

	return ch.ring(candidates).Node(partition), nil
}

// PlaceBackup returns the candidate most distant from the holders.
// Candidates at equal distance are ordered by ring position.
func (ch *ConsistentHash) PlaceBackup(partition int, holders []types.Member, candidates []types.Member, _ map[types.MemberID]int) (types.MemberID, error) {
	if len(candidates) == 0 {
		return types.NoMember, fmt.Errorf("%w: partition %d", types.ErrNoEligibleMember, partition)
	}

	byID := make(map[types.MemberID]types.Member, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	best := types.NoMember
	bestDistance := types.HAEndangered
	for _, id := range ch.ring(candidates).Successors(partition) {
		d := distance(byID[id], holders)
		if best == types.NoMember || d > bestDistance {
			best, bestDistance = id, d
		}
	}

	return best, nil
}

func (ch *ConsistentHash) ring(candidates []types.Member) *hash.Ring {
	ids := make([]types.MemberID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	return hash.NewRing(ids, ch.virtualNodes, ch.hashSeed)
}

// distance is the weakest safety level between the candidate and any holder.
// With no holders every candidate is maximally distant.
func distance(candidate types.Member, holders []types.Member) types.HAStatus {
	d := types.HASiteSafe
	for _, h := range holders {
		d = types.MinHAStatus(d, candidate.SafetyFrom(h))
	}

	return d
}
