package ownership

import (
	"slices"

	"github.com/arloliu/custodian/types"
)

// Snapshot is an immutable copy of the ownership map.
//
// All accessors return copies; a Snapshot may be shared freely across goroutines.
type Snapshot struct {
	records     []types.OwnershipRecord
	backupCount int
}

// EmptySnapshot returns a snapshot of a freshly created map.
func EmptySnapshot(partitionCount, backupCount int) *Snapshot {
	return New(partitionCount, backupCount).Snapshot()
}

// PartitionCount returns the number of partitions.
func (s *Snapshot) PartitionCount() int {
	return len(s.records)
}

// BackupCount returns the number of backup slots per partition.
func (s *Snapshot) BackupCount() int {
	return s.backupCount
}

// Owner returns the primary, or NoMember if orphaned or out of range.
func (s *Snapshot) Owner(p int) types.MemberID {
	if p < 0 || p >= len(s.records) {
		return types.NoMember
	}

	return s.records[p].Primary
}

// Backups returns a copy of the ordered backup slots, nil if out of range.
func (s *Snapshot) Backups(p int) []types.MemberID {
	if p < 0 || p >= len(s.records) {
		return nil
	}

	return slices.Clone(s.records[p].Backups)
}

// Record returns a copy of the partition's record.
func (s *Snapshot) Record(p int) (types.OwnershipRecord, bool) {
	if p < 0 || p >= len(s.records) {
		return types.OwnershipRecord{}, false
	}

	return s.records[p].Clone(), true
}

// Records returns copies of every record in partition order.
func (s *Snapshot) Records() []types.OwnershipRecord {
	out := make([]types.OwnershipRecord, len(s.records))
	for p, r := range s.records {
		out[p] = r.Clone()
	}

	return out
}

// Holders returns the members holding a copy of the partition, primary first.
func (s *Snapshot) Holders(p int) []types.MemberID {
	if p < 0 || p >= len(s.records) {
		return nil
	}

	return s.records[p].Holders()
}

// Orphans returns the partitions without a primary, ascending.
func (s *Snapshot) Orphans() []int {
	var out []int
	for p, r := range s.records {
		if r.IsOrphaned() {
			out = append(out, p)
		}
	}

	return out
}

// OrphanCount returns the number of partitions without a primary.
func (s *Snapshot) OrphanCount() int {
	n := 0
	for _, r := range s.records {
		if r.IsOrphaned() {
			n++
		}
	}

	return n
}

// OwnedBy returns the partitions whose primary is the member.
func (s *Snapshot) OwnedBy(id types.MemberID) []int {
	var out []int
	for p, r := range s.records {
		if id != types.NoMember && r.Primary == id {
			out = append(out, p)
		}
	}

	return out
}

// Load returns how many copies each member holds.
func (s *Snapshot) Load() map[types.MemberID]int {
	load := make(map[types.MemberID]int)
	for _, r := range s.records {
		for _, id := range r.Holders() {
			load[id]++
		}
	}

	return load
}

// ChangedSince returns the partitions whose version differs from prev, ascending.
//
// A nil prev or one with a different partition count reports every partition.
func (s *Snapshot) ChangedSince(prev *Snapshot) []int {
	var out []int
	for p, r := range s.records {
		if prev == nil || len(prev.records) != len(s.records) || prev.records[p].Version != r.Version {
			out = append(out, p)
		}
	}

	return out
}
