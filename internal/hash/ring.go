// Package hash provides the consistent hash ring used for partition placement.
package hash

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/custodian/types"
)

// DefaultVirtualNodes is the number of ring positions per member.
const DefaultVirtualNodes = 150

// Ring is a consistent hash ring of members with virtual nodes.
//
// Partition ids hash onto the ring; the first virtual node clockwise owns
// the partition. Adding or removing one member moves only the partitions
// adjacent to its virtual nodes.
type Ring struct {
	// nodes are sorted by hash
	nodes []virtualNode

	// members holds the unique members in insertion order
	members []types.MemberID

	seed uint64
}

type virtualNode struct {
	hash   uint64
	member types.MemberID
}

// NewRing creates a ring for the given members.
//
// Parameters:
//   - members: Members to place on the ring; duplicates are ignored
//   - virtualNodes: Positions per member (DefaultVirtualNodes when <= 0)
//   - seed: Hash seed; 0 hashes unseeded
//
// Returns:
//   - *Ring: Immutable ring
//
// Example:
//
//	ring := hash.NewRing([]types.MemberID{1, 2, 3}, 0, 0)
//	owner := ring.Node(17)
func NewRing(members []types.MemberID, virtualNodes int, seed uint64) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}

	r := &Ring{seed: seed}

	seen := make(map[types.MemberID]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		r.members = append(r.members, m)
	}

	r.nodes = make([]virtualNode, 0, len(r.members)*virtualNodes)
	for _, m := range r.members {
		r.addMember(m, virtualNodes)
	}

	slices.SortFunc(r.nodes, func(a, b virtualNode) int {
		if c := cmp.Compare(a.hash, b.hash); c != 0 {
			return c
		}

		return cmp.Compare(a.member, b.member)
	})

	return r
}

// Node returns the member owning the partition, or types.NoMember for an empty ring.
func (r *Ring) Node(partition int) types.MemberID {
	if len(r.nodes) == 0 {
		return types.NoMember
	}

	return r.nodes[r.search(r.PartitionHash(partition))].member
}

// Successors returns every member in ring order starting at the partition's
// owner. Each member appears once.
func (r *Ring) Successors(partition int) []types.MemberID {
	if len(r.nodes) == 0 {
		return nil
	}

	out := make([]types.MemberID, 0, len(r.members))
	seen := make(map[types.MemberID]struct{}, len(r.members))

	start := r.search(r.PartitionHash(partition))
	for i := 0; i < len(r.nodes) && len(out) < len(r.members); i++ {
		m := r.nodes[(start+i)%len(r.nodes)].member
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}

	return out
}

// Members returns the unique members on the ring.
func (r *Ring) Members() []types.MemberID {
	return slices.Clone(r.members)
}

// Size returns the total number of virtual nodes.
func (r *Ring) Size() int {
	return len(r.nodes)
}

// PartitionHash returns the ring position of a partition id.
func (r *Ring) PartitionHash(partition int) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(partition)) //nolint:gosec

	if r.seed != 0 {
		return xxh3.HashSeed(b[:], r.seed)
	}

	return xxh3.Hash(b[:])
}

func (r *Ring) addMember(m types.MemberID, virtualNodes int) {
	var mb [4]byte
	binary.LittleEndian.PutUint32(mb[:], uint32(m)) //nolint:gosec

	// Fold the member id, then the vnode index seeded by the member hash.
	var h uint64
	if r.seed != 0 {
		h = xxh3.HashSeed(mb[:], r.seed)
	} else {
		h = xxh3.Hash(mb[:])
	}

	for i := range virtualNodes {
		var ib [8]byte
		binary.LittleEndian.PutUint64(ib[:], uint64(i)) //nolint:gosec
		r.nodes = append(r.nodes, virtualNode{hash: xxh3.HashSeed(ib[:], h), member: m})
	}
}

// search returns the index of the first node at or after target, wrapping to 0.
func (r *Ring) search(target uint64) int {
	idx, _ := slices.BinarySearchFunc(r.nodes, target, func(n virtualNode, t uint64) int {
		return cmp.Compare(n.hash, t)
	})
	if idx >= len(r.nodes) {
		idx = 0
	}

	return idx
}
