package types

import (
	"fmt"
	"strconv"
	"time"
)

// MemberID identifies a cluster member for the lifetime of one incarnation.
//
// Valid ids are positive. NoMember (0) marks an unowned primary or an empty
// backup slot in an OwnershipRecord.
type MemberID int32

// NoMember is the zero MemberID used for empty ownership slots.
const NoMember MemberID = 0

// UnknownLocation is the default value for unset machine, rack and site labels.
const UnknownLocation = "n/a"

// IsValid reports whether the id names a member.
func (id MemberID) IsValid() bool {
	return id > 0
}

// String returns the decimal form of the id.
func (id MemberID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseMemberID parses the decimal form produced by MemberID.String.
//
// Parameters:
//   - s: Decimal member id
//
// Returns:
//   - MemberID: Parsed id
//   - error: ErrInvalidMember if s is not a positive 32-bit integer
func ParseMemberID(s string) (MemberID, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil || v <= 0 {
		return NoMember, fmt.Errorf("%w: %q", ErrInvalidMember, s)
	}

	return MemberID(v), nil
}

// Member describes a cluster member and its location.
//
// A Member is immutable for the member's lifetime; a restarted process joins
// as a new incarnation with a new id.
type Member struct {
	// ID is the member id, unique per incarnation.
	ID MemberID `json:"id"`

	// Machine, Rack and Site locate the member. Unset labels are UnknownLocation.
	Machine string `json:"machine"`
	Rack    string `json:"rack"`
	Site    string `json:"site"`

	// Role is a free-form label used by role-scoped quorum rules.
	Role string `json:"role"`

	// OwnershipEnabled marks members that may own partitions and hold stores.
	OwnershipEnabled bool `json:"ownershipEnabled"`

	// JoinedAt is when the member joined the cluster.
	JoinedAt time.Time `json:"joinedAt"`
}

// Normalize returns a copy with empty location labels set to UnknownLocation.
func (m Member) Normalize() Member {
	if m.Machine == "" {
		m.Machine = UnknownLocation
	}
	if m.Rack == "" {
		m.Rack = UnknownLocation
	}
	if m.Site == "" {
		m.Site = UnknownLocation
	}

	return m
}

// SafetyFrom returns the highest HA level at which m and other differ.
//
// Locations are hierarchical: two machines are only the same machine when
// they also share rack and site, and two racks only match when they share
// a site. This keeps the level monotonic in topology diversity.
//
// Parameters:
//   - other: Member holding another copy of the same partition
//
// Returns:
//   - HAStatus: HASiteSafe for distinct sites, down to HANodeSafe for distinct
//     members on one machine, HAEndangered when both are the same member
func (m Member) SafetyFrom(other Member) HAStatus {
	a, b := m.Normalize(), other.Normalize()

	switch {
	case a.Site != b.Site:
		return HASiteSafe
	case a.Rack != b.Rack:
		return HARackSafe
	case a.Machine != b.Machine:
		return HAMachineSafe
	case a.ID != b.ID:
		return HANodeSafe
	default:
		return HAEndangered
	}
}

// String returns a compact description used in logs.
func (m Member) String() string {
	n := m.Normalize()

	return fmt.Sprintf("Member(id=%d, site=%s, rack=%s, machine=%s, role=%s)", n.ID, n.Site, n.Rack, n.Machine, n.Role)
}

// MachineKey names the machine of m, qualified by its rack and site.
func (m Member) MachineKey() string {
	n := m.Normalize()

	return n.Site + "/" + n.Rack + "/" + n.Machine
}

// MachineCounts returns the number of members per machine key.
//
// Returns:
//   - map[string]int: Member count per MachineKey, nil when members is empty
//     or any member has no machine label
func MachineCounts(members []Member) map[string]int {
	if len(members) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, m := range members {
		if m.Machine == "" || m.Machine == UnknownLocation {
			return nil
		}
		counts[m.MachineKey()]++
	}

	return counts
}
