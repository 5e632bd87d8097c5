package types

import "slices"

// Topology is an immutable, versioned view of the current cluster members.
//
// A Topology is never patched in place: WithMember and WithoutMember return
// a new snapshot with the next version. Readers holding an older snapshot
// continue to see a consistent view.
type Topology struct {
	version uint64
	members []Member // sorted by ID
	index   map[MemberID]int
}

// NewTopology creates a topology snapshot from the given members.
//
// Members are normalized and sorted by id. Duplicate ids keep the last entry.
//
// Parameters:
//   - version: Snapshot version (monotonic per service)
//   - members: Live members
//
// Returns:
//   - *Topology: Immutable snapshot
func NewTopology(version uint64, members ...Member) *Topology {
	byID := make(map[MemberID]Member, len(members))
	for _, m := range members {
		byID[m.ID] = m.Normalize()
	}

	sorted := make([]Member, 0, len(byID))
	for _, m := range byID {
		sorted = append(sorted, m)
	}
	slices.SortFunc(sorted, func(a, b Member) int {
		return int(a.ID) - int(b.ID)
	})

	index := make(map[MemberID]int, len(sorted))
	for i, m := range sorted {
		index[m.ID] = i
	}

	return &Topology{version: version, members: sorted, index: index}
}

// EmptyTopology returns a version-zero topology without members.
func EmptyTopology() *Topology {
	return NewTopology(0)
}

// Version returns the snapshot version.
func (t *Topology) Version() uint64 {
	return t.version
}

// Size returns the number of live members.
func (t *Topology) Size() int {
	return len(t.members)
}

// Members returns a copy of the members sorted by id.
func (t *Topology) Members() []Member {
	return slices.Clone(t.members)
}

// Member returns the member with the given id.
func (t *Topology) Member(id MemberID) (Member, bool) {
	i, ok := t.index[id]
	if !ok {
		return Member{}, false
	}

	return t.members[i], true
}

// Contains reports whether the member is live in this snapshot.
func (t *Topology) Contains(id MemberID) bool {
	_, ok := t.index[id]
	return ok
}

// OwnershipMembers returns the ownership-enabled members sorted by id.
func (t *Topology) OwnershipMembers() []Member {
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		if m.OwnershipEnabled {
			out = append(out, m)
		}
	}

	return out
}

// OwnershipCount returns the number of ownership-enabled members.
func (t *Topology) OwnershipCount() int {
	n := 0
	for _, m := range t.members {
		if m.OwnershipEnabled {
			n++
		}
	}

	return n
}

// IsEligible reports whether the member is live and ownership-enabled.
func (t *Topology) IsEligible(id MemberID) bool {
	m, ok := t.Member(id)
	return ok && m.OwnershipEnabled
}

// CountInScope returns the live count a quorum rule with the given scope measures.
//
// Member scopes count members; location scopes count distinct locations at
// that level, using the same hierarchy as Member.SafetyFrom.
//
// Parameters:
//   - scope: Rule scope
//
// Returns:
//   - int: Count of members or distinct locations in scope
func (t *Topology) CountInScope(scope Scope) int {
	switch scope.Kind {
	case ScopeAllMembers:
		return len(t.members)
	case ScopeRole:
		n := 0
		for _, m := range t.members {
			if m.Role == scope.Role {
				n++
			}
		}

		return n
	case ScopeMachine, ScopeRack, ScopeSite:
		seen := make(map[string]struct{}, len(t.members))
		for _, m := range t.members {
			seen[locationKey(m, scope.Kind)] = struct{}{}
		}

		return len(seen)
	default:
		return 0
	}
}

// WithMember returns a new snapshot with m added or replaced.
func (t *Topology) WithMember(version uint64, m Member) *Topology {
	members := make([]Member, 0, len(t.members)+1)
	for _, existing := range t.members {
		if existing.ID != m.ID {
			members = append(members, existing)
		}
	}
	members = append(members, m)

	return NewTopology(version, members...)
}

// WithoutMember returns a new snapshot with the member removed.
func (t *Topology) WithoutMember(version uint64, id MemberID) *Topology {
	members := make([]Member, 0, len(t.members))
	for _, existing := range t.members {
		if existing.ID != id {
			members = append(members, existing)
		}
	}

	return NewTopology(version, members...)
}

func locationKey(m Member, kind ScopeKind) string {
	switch kind {
	case ScopeSite:
		return m.Site
	case ScopeRack:
		return m.Site + "/" + m.Rack
	default:
		return m.Site + "/" + m.Rack + "/" + m.Machine
	}
}
