package types

import (
	"fmt"
	"slices"
)

// OwnershipRecord is the ownership entry for one partition.
//
// Invariants:
//   - Primary does not appear in Backups
//   - Backups contain no duplicate non-zero ids
//   - Version never decreases
type OwnershipRecord struct {
	// Partition is the partition id in [0, partitionCount).
	Partition int `json:"partition"`

	// Primary is the owning member, NoMember when orphaned.
	Primary MemberID `json:"primary"`

	// Backups is ordered with length backupCount; NoMember marks an empty slot.
	Backups []MemberID `json:"backups"`

	// Version increments on every applied mutation.
	Version uint64 `json:"version"`
}

// Clone returns a deep copy of the record.
func (r OwnershipRecord) Clone() OwnershipRecord {
	r.Backups = slices.Clone(r.Backups)
	return r
}

// IsOrphaned reports whether the partition has no primary.
func (r OwnershipRecord) IsOrphaned() bool {
	return r.Primary == NoMember
}

// FilledBackups returns the number of non-empty backup slots.
func (r OwnershipRecord) FilledBackups() int {
	n := 0
	for _, b := range r.Backups {
		if b != NoMember {
			n++
		}
	}

	return n
}

// EmptySlot returns the first empty backup slot, or -1 when all are filled.
func (r OwnershipRecord) EmptySlot() int {
	return slices.Index(r.Backups, NoMember)
}

// Holders returns the non-zero members holding a copy, primary first.
func (r OwnershipRecord) Holders() []MemberID {
	out := make([]MemberID, 0, len(r.Backups)+1)
	if r.Primary != NoMember {
		out = append(out, r.Primary)
	}
	for _, b := range r.Backups {
		if b != NoMember {
			out = append(out, b)
		}
	}

	return out
}

// Holds reports whether the member holds any copy of the partition.
func (r OwnershipRecord) Holds(id MemberID) bool {
	if id == NoMember {
		return false
	}

	return r.Primary == id || slices.Contains(r.Backups, id)
}

// BackupSlot returns the slot the member occupies, or -1.
func (r OwnershipRecord) BackupSlot(id MemberID) int {
	if id == NoMember {
		return -1
	}

	return slices.Index(r.Backups, id)
}

// Validate checks the record invariants against the configured backup count.
//
// Parameters:
//   - backupCount: Expected number of backup slots
//
// Returns:
//   - error: ErrDuplicateHolder or ErrInvalidSlot wrapped with details, nil if valid
func (r OwnershipRecord) Validate(backupCount int) error {
	if len(r.Backups) != backupCount {
		return fmt.Errorf("%w: partition %d has %d backup slots, want %d",
			ErrInvalidSlot, r.Partition, len(r.Backups), backupCount)
	}

	for i, b := range r.Backups {
		if b < NoMember {
			return fmt.Errorf("%w: partition %d slot %d holds %d", ErrInvalidMember, r.Partition, i, b)
		}
		if b == NoMember {
			continue
		}
		if b == r.Primary {
			return fmt.Errorf("%w: partition %d member %d is primary and backup %d",
				ErrDuplicateHolder, r.Partition, b, i)
		}
		if slices.Index(r.Backups[i+1:], b) >= 0 {
			return fmt.Errorf("%w: partition %d member %d appears twice in backups",
				ErrDuplicateHolder, r.Partition, b)
		}
	}

	if r.Primary < NoMember {
		return fmt.Errorf("%w: partition %d primary %d", ErrInvalidMember, r.Partition, r.Primary)
	}

	return nil
}

// PartitionState is the per-partition ownership lifecycle state.
//
//	PartitionUnowned → PartitionPrimaryAssigned → PartitionBackup(1..n) → PartitionSteady
type PartitionState int

const (
	// PartitionUnowned indicates no primary owner.
	PartitionUnowned PartitionState = iota

	// PartitionPrimaryAssigned indicates a primary without any backup.
	PartitionPrimaryAssigned

	// PartitionBackup indicates a primary with some, but not all, backup slots filled.
	PartitionBackup

	// PartitionSteady indicates a primary with every backup slot filled.
	PartitionSteady
)

// String returns the string representation of the partition state.
func (s PartitionState) String() string {
	switch s {
	case PartitionUnowned:
		return "Unowned"
	case PartitionPrimaryAssigned:
		return "PrimaryAssigned"
	case PartitionBackup:
		return "Backup"
	case PartitionSteady:
		return "Steady"
	default:
		return "Unknown"
	}
}

// StateOf derives the partition state from a record.
//
// Returns:
//   - PartitionState: Lifecycle state
//   - int: Number of filled backup slots
func StateOf(r OwnershipRecord) (PartitionState, int) {
	filled := r.FilledBackups()

	switch {
	case r.Primary == NoMember:
		return PartitionUnowned, filled
	case filled == len(r.Backups):
		return PartitionSteady, filled
	case filled == 0:
		return PartitionPrimaryAssigned, filled
	default:
		return PartitionBackup, filled
	}
}
