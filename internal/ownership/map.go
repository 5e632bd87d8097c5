package ownership

import (
	"fmt"
	"slices"

	"github.com/arloliu/custodian/types"
)

// Map is the partition ownership table.
//
// Map is not safe for concurrent use; it is designed for a single writer.
type Map struct {
	records     []types.OwnershipRecord
	backupCount int

	// detached marks records changed by DetachMember. Their version still
	// names the last authoritative record, so Apply accepts a record at
	// that same version.
	detached []bool
}

// New creates a fully populated, all-zero ownership map.
//
// Parameters:
//   - partitionCount: Number of partitions (must be > 0)
//   - backupCount: Backup slots per partition (must be >= 0)
//
// Returns:
//   - *Map: Map with every record unowned at version 0
func New(partitionCount, backupCount int) *Map {
	if partitionCount < 0 {
		partitionCount = 0
	}
	if backupCount < 0 {
		backupCount = 0
	}

	records := make([]types.OwnershipRecord, partitionCount)
	for p := range records {
		records[p] = types.OwnershipRecord{
			Partition: p,
			Backups:   make([]types.MemberID, backupCount),
		}
	}

	return &Map{records: records, backupCount: backupCount, detached: make([]bool, partitionCount)}
}

// PartitionCount returns the number of partitions.
func (m *Map) PartitionCount() int {
	return len(m.records)
}

// BackupCount returns the number of backup slots per partition.
func (m *Map) BackupCount() int {
	return m.backupCount
}

// Owner returns the primary of the partition, or NoMember if orphaned or out of range.
func (m *Map) Owner(p int) types.MemberID {
	if !m.valid(p) {
		return types.NoMember
	}

	return m.records[p].Primary
}

// Backups returns a copy of the ordered backup slots, nil if out of range.
func (m *Map) Backups(p int) []types.MemberID {
	if !m.valid(p) {
		return nil
	}

	return slices.Clone(m.records[p].Backups)
}

// Version returns the record version of the partition.
func (m *Map) Version(p int) uint64 {
	if !m.valid(p) {
		return 0
	}

	return m.records[p].Version
}

// Record returns a copy of the partition's record.
func (m *Map) Record(p int) (types.OwnershipRecord, error) {
	if !m.valid(p) {
		return types.OwnershipRecord{}, m.partitionErr(p)
	}

	return m.records[p].Clone(), nil
}

// SetPrimary sets the primary owner of a partition.
//
// Parameters:
//   - p: Partition id
//   - id: New primary, NoMember to orphan the partition
//   - expectedVersion: Version the caller read; mismatches fail
//
// Returns:
//   - error: *types.ConcurrentModificationError on version mismatch,
//     ErrDuplicateHolder if id is a backup of p, nil on success
func (m *Map) SetPrimary(p int, id types.MemberID, expectedVersion uint64) error {
	if !m.valid(p) {
		return m.partitionErr(p)
	}

	next := m.records[p].Clone()
	next.Primary = id

	return m.commit(p, next, expectedVersion)
}

// SetBackup sets one backup slot of a partition.
//
// Parameters:
//   - p: Partition id
//   - slot: Backup slot in [0, backupCount)
//   - id: New backup, NoMember to empty the slot
//   - expectedVersion: Version the caller read; mismatches fail
//
// Returns:
//   - error: *types.ConcurrentModificationError on version mismatch,
//     ErrInvalidSlot or ErrDuplicateHolder on invariant violation, nil on success
func (m *Map) SetBackup(p int, slot int, id types.MemberID, expectedVersion uint64) error {
	if !m.valid(p) {
		return m.partitionErr(p)
	}
	if slot < 0 || slot >= m.backupCount {
		return fmt.Errorf("%w: slot %d, backup count %d", types.ErrInvalidSlot, slot, m.backupCount)
	}

	next := m.records[p].Clone()
	next.Backups[slot] = id

	return m.commit(p, next, expectedVersion)
}

// SetRecord replaces primary and backups of a partition in one mutation.
//
// Used for swaps and promotions that would pass through an invalid
// intermediate state if applied slot by slot.
func (m *Map) SetRecord(p int, primary types.MemberID, backups []types.MemberID, expectedVersion uint64) error {
	if !m.valid(p) {
		return m.partitionErr(p)
	}

	next := types.OwnershipRecord{
		Partition: p,
		Primary:   primary,
		Backups:   slices.Clone(backups),
		Version:   m.records[p].Version,
	}

	return m.commit(p, next, expectedVersion)
}

// Apply installs an externally delivered record if it is newer than the current one.
//
// A record detached by DetachMember also accepts a record at its current
// version, since the local change never took a version of its own.
//
// Parameters:
//   - r: Delta record carrying its own version
//
// Returns:
//   - error: ErrStaleRecord if r.Version is not newer, invariant errors, nil on success
func (m *Map) Apply(r types.OwnershipRecord) error {
	if !m.valid(r.Partition) {
		return m.partitionErr(r.Partition)
	}

	current := m.records[r.Partition].Version
	if r.Version < current || (r.Version == current && !m.detached[r.Partition]) {
		return fmt.Errorf("%w: partition %d version %d, current %d", types.ErrStaleRecord, r.Partition, r.Version, current)
	}

	next := r.Clone()
	if err := next.Validate(m.backupCount); err != nil {
		return err
	}
	m.records[r.Partition] = next
	m.detached[r.Partition] = false

	return nil
}

// Detached reports whether the partition carries a local, unversioned change.
func (m *Map) Detached(p int) bool {
	return m.valid(p) && m.detached[p]
}

// ClearMember zeroes every slot naming the member in one pass, bumping the
// version of each changed record.
//
// Returns:
//   - []int: Partitions whose record changed, in ascending order
func (m *Map) ClearMember(id types.MemberID) []int {
	return m.clear(id, true)
}

// DetachMember zeroes every slot naming the member without taking a version.
//
// Members that replicate the map from another member use it: the version
// stays free for the authoritative record that replaces the local change.
//
// Returns:
//   - []int: Partitions whose record changed, in ascending order
func (m *Map) DetachMember(id types.MemberID) []int {
	return m.clear(id, false)
}

func (m *Map) clear(id types.MemberID, versioned bool) []int {
	if id == types.NoMember {
		return nil
	}

	var affected []int
	for p := range m.records {
		r := &m.records[p]
		changed := false
		if r.Primary == id {
			r.Primary = types.NoMember
			changed = true
		}
		for i, b := range r.Backups {
			if b == id {
				r.Backups[i] = types.NoMember
				changed = true
			}
		}
		if !changed {
			continue
		}
		if versioned {
			r.Version++
			m.detached[p] = false
		} else {
			m.detached[p] = true
		}
		affected = append(affected, p)
	}

	return affected
}

// Reset zeroes every record, keeping versions monotonic.
func (m *Map) Reset() {
	for p := range m.records {
		r := &m.records[p]
		if r.Primary == types.NoMember && r.FilledBackups() == 0 {
			continue
		}
		r.Primary = types.NoMember
		clear(r.Backups)
		r.Version++
		m.detached[p] = false
	}
}

// Snapshot returns an immutable deep copy of the map.
func (m *Map) Snapshot() *Snapshot {
	records := make([]types.OwnershipRecord, len(m.records))
	for p, r := range m.records {
		records[p] = r.Clone()
	}

	return &Snapshot{records: records, backupCount: m.backupCount}
}

// commit validates next and installs it with the version incremented.
func (m *Map) commit(p int, next types.OwnershipRecord, expectedVersion uint64) error {
	current := m.records[p].Version
	if current != expectedVersion {
		return &types.ConcurrentModificationError{Partition: p, Expected: expectedVersion, Actual: current}
	}

	if err := next.Validate(m.backupCount); err != nil {
		return err
	}

	next.Partition = p
	next.Version = current + 1
	m.records[p] = next
	m.detached[p] = false

	return nil
}

func (m *Map) valid(p int) bool {
	return p >= 0 && p < len(m.records)
}

func (m *Map) partitionErr(p int) error {
	return fmt.Errorf("%w: %d not in [0, %d)", types.ErrInvalidPartition, p, len(m.records))
}
