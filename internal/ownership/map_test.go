package ownership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/custodian/types"
)

// requireInvariants checks that no member appears twice in any record.
func requireInvariants(t *testing.T, s *Snapshot) {
	t.Helper()

	for p, r := range s.Records() {
		require.Equal(t, p, r.Partition)
		require.GreaterOrEqual(t, r.Primary, types.NoMember)

		seen := map[types.MemberID]bool{}
		for _, id := range r.Holders() {
			require.False(t, seen[id], "partition %d: member %d appears twice", p, id)
			seen[id] = true
		}
	}
}

func TestNew(t *testing.T) {
	m := New(4, 2)

	require.Equal(t, 4, m.PartitionCount())
	require.Equal(t, 2, m.BackupCount())
	for p := range 4 {
		require.Equal(t, types.NoMember, m.Owner(p))
		require.Equal(t, []types.MemberID{0, 0}, m.Backups(p))
		require.Equal(t, uint64(0), m.Version(p))
	}

	require.Equal(t, types.NoMember, m.Owner(-1))
	require.Equal(t, types.NoMember, m.Owner(4))
	require.Nil(t, m.Backups(4))
}

func TestSetPrimary(t *testing.T) {
	t.Run("increments version", func(t *testing.T) {
		m := New(2, 1)

		require.NoError(t, m.SetPrimary(0, 5, 0))
		require.Equal(t, types.MemberID(5), m.Owner(0))
		require.Equal(t, uint64(1), m.Version(0))

		require.NoError(t, m.SetPrimary(0, 6, 1))
		require.Equal(t, uint64(2), m.Version(0))
		require.Equal(t, uint64(0), m.Version(1), "other partitions untouched")
	})

	t.Run("version mismatch is a concurrent modification", func(t *testing.T) {
		m := New(1, 1)
		require.NoError(t, m.SetPrimary(0, 5, 0))

		err := m.SetPrimary(0, 6, 0)
		require.ErrorIs(t, err, types.ErrConcurrentModification)

		var cm *types.ConcurrentModificationError
		require.ErrorAs(t, err, &cm)
		require.Equal(t, uint64(0), cm.Expected)
		require.Equal(t, uint64(1), cm.Actual)

		require.Equal(t, types.MemberID(5), m.Owner(0), "failed mutation leaves record unchanged")
		require.Equal(t, uint64(1), m.Version(0))
	})

	t.Run("primary cannot be a backup", func(t *testing.T) {
		m := New(1, 1)
		require.NoError(t, m.SetBackup(0, 0, 7, 0))

		err := m.SetPrimary(0, 7, 1)
		require.ErrorIs(t, err, types.ErrDuplicateHolder)
		require.Equal(t, types.NoMember, m.Owner(0))
		require.Equal(t, uint64(1), m.Version(0))
	})

	t.Run("invalid partition", func(t *testing.T) {
		m := New(1, 1)
		require.ErrorIs(t, m.SetPrimary(3, 1, 0), types.ErrInvalidPartition)
	})
}

func TestSetBackup(t *testing.T) {
	m := New(1, 2)
	require.NoError(t, m.SetPrimary(0, 1, 0))

	require.NoError(t, m.SetBackup(0, 0, 2, 1))
	require.NoError(t, m.SetBackup(0, 1, 3, 2))
	require.Equal(t, []types.MemberID{2, 3}, m.Backups(0))

	require.ErrorIs(t, m.SetBackup(0, 1, 2, 3), types.ErrDuplicateHolder)
	require.ErrorIs(t, m.SetBackup(0, 0, 1, 3), types.ErrDuplicateHolder)
	require.ErrorIs(t, m.SetBackup(0, 2, 4, 3), types.ErrInvalidSlot)
	require.ErrorIs(t, m.SetBackup(0, -1, 4, 3), types.ErrInvalidSlot)
	require.ErrorIs(t, m.SetBackup(0, 0, 4, 1), types.ErrConcurrentModification)

	require.Equal(t, []types.MemberID{2, 3}, m.Backups(0))
	require.Equal(t, uint64(3), m.Version(0))

	// Emptying a slot is a normal mutation.
	require.NoError(t, m.SetBackup(0, 0, types.NoMember, 3))
	require.Equal(t, []types.MemberID{0, 3}, m.Backups(0))
}

func TestSetRecord(t *testing.T) {
	m := New(1, 2)
	require.NoError(t, m.SetRecord(0, 1, []types.MemberID{2, 3}, 0))

	// Swap primary and backup atomically.
	require.NoError(t, m.SetRecord(0, 2, []types.MemberID{1, 3}, 1))
	rec, err := m.Record(0)
	require.NoError(t, err)
	require.Equal(t, types.MemberID(2), rec.Primary)
	require.Equal(t, []types.MemberID{1, 3}, rec.Backups)
	require.Equal(t, uint64(2), rec.Version)

	require.ErrorIs(t, m.SetRecord(0, 1, []types.MemberID{1, 3}, 2), types.ErrDuplicateHolder)
	require.ErrorIs(t, m.SetRecord(0, 1, []types.MemberID{2}, 2), types.ErrInvalidSlot)
}

func TestApply(t *testing.T) {
	m := New(2, 1)
	require.NoError(t, m.SetPrimary(0, 1, 0))

	require.NoError(t, m.Apply(types.OwnershipRecord{Partition: 0, Primary: 2, Backups: []types.MemberID{3}, Version: 5}))
	require.Equal(t, types.MemberID(2), m.Owner(0))
	require.Equal(t, uint64(5), m.Version(0))

	require.ErrorIs(t, m.Apply(types.OwnershipRecord{Partition: 0, Primary: 9, Backups: []types.MemberID{0}, Version: 5}), types.ErrStaleRecord)
	require.ErrorIs(t, m.Apply(types.OwnershipRecord{Partition: 0, Primary: 9, Backups: []types.MemberID{9}, Version: 6}), types.ErrDuplicateHolder)
	require.ErrorIs(t, m.Apply(types.OwnershipRecord{Partition: 7, Version: 1}), types.ErrInvalidPartition)
	require.Equal(t, types.MemberID(2), m.Owner(0))
}

func TestClearMember(t *testing.T) {
	m := New(4, 2)
	require.NoError(t, m.SetRecord(0, 1, []types.MemberID{2, 3}, 0))
	require.NoError(t, m.SetRecord(1, 2, []types.MemberID{1, 0}, 0))
	require.NoError(t, m.SetRecord(2, 3, []types.MemberID{0, 0}, 0))

	affected := m.ClearMember(1)
	require.Equal(t, []int{0, 1}, affected)

	require.Equal(t, types.NoMember, m.Owner(0))
	require.Equal(t, []types.MemberID{2, 3}, m.Backups(0))
	require.Equal(t, types.MemberID(2), m.Owner(1))
	require.Equal(t, []types.MemberID{0, 0}, m.Backups(1))
	require.Equal(t, uint64(2), m.Version(0))
	require.Equal(t, uint64(1), m.Version(2), "unaffected record keeps its version")

	require.Empty(t, m.ClearMember(42))
	require.Empty(t, m.ClearMember(types.NoMember))
	requireInvariants(t, m.Snapshot())
}

func TestDetachMember(t *testing.T) {
	m := New(2, 1)
	require.NoError(t, m.Apply(types.OwnershipRecord{Partition: 0, Primary: 3, Backups: []types.MemberID{2}, Version: 1}))
	require.NoError(t, m.Apply(types.OwnershipRecord{Partition: 1, Primary: 2, Backups: []types.MemberID{1}, Version: 1}))

	require.Equal(t, []int{0}, m.DetachMember(3))
	require.Equal(t, types.NoMember, m.Owner(0))
	require.Equal(t, uint64(1), m.Version(0), "detaching takes no version")
	require.True(t, m.Detached(0))
	require.False(t, m.Detached(1))

	// The authoritative record at the same version replaces the local change.
	replacement := types.OwnershipRecord{Partition: 0, Primary: 2, Backups: []types.MemberID{1}, Version: 1}
	require.NoError(t, m.Apply(replacement))
	require.Equal(t, types.MemberID(2), m.Owner(0))
	require.False(t, m.Detached(0))
	require.ErrorIs(t, m.Apply(replacement), types.ErrStaleRecord)

	require.ErrorIs(t, m.Apply(types.OwnershipRecord{Partition: 1, Primary: 1, Backups: []types.MemberID{2}, Version: 1}),
		types.ErrStaleRecord, "records never detached keep strict ordering")

	require.Equal(t, []int{0}, m.DetachMember(2))
	require.NoError(t, m.SetPrimary(0, 4, 1))
	require.False(t, m.Detached(0), "a versioned mutation ends the detached state")
	require.Equal(t, uint64(2), m.Version(0))
	requireInvariants(t, m.Snapshot())
}

func TestReset(t *testing.T) {
	m := New(2, 1)
	require.NoError(t, m.SetRecord(0, 1, []types.MemberID{2}, 0))

	m.Reset()

	s := m.Snapshot()
	require.Equal(t, 2, s.OrphanCount())
	require.Equal(t, uint64(2), m.Version(0), "reset never lowers versions")
	require.Equal(t, uint64(0), m.Version(1))
}

func TestSnapshotIsImmutable(t *testing.T) {
	m := New(3, 1)
	require.NoError(t, m.SetRecord(0, 1, []types.MemberID{2}, 0))
	require.NoError(t, m.SetPrimary(2, 2, 0))

	s := m.Snapshot()
	require.NoError(t, m.SetPrimary(0, 3, 1))

	require.Equal(t, types.MemberID(1), s.Owner(0))
	require.Equal(t, types.MemberID(3), m.Owner(0))

	backups := s.Backups(0)
	backups[0] = 99
	require.Equal(t, []types.MemberID{2}, s.Backups(0))

	require.Equal(t, []int{1}, s.Orphans())
	require.Equal(t, 1, s.OrphanCount())
	require.Equal(t, []int{2}, s.OwnedBy(2))
	require.Equal(t, map[types.MemberID]int{1: 1, 2: 2}, s.Load())
	require.Equal(t, []types.MemberID{1, 2}, s.Holders(0))

	_, ok := s.Record(5)
	require.False(t, ok)
}

func TestRandomMutationsKeepInvariants(t *testing.T) {
	m := New(16, 2)
	members := []types.MemberID{1, 2, 3, 4, 5}

	// Deterministic pseudo-random walk over all mutation kinds.
	seed := uint32(7)
	next := func(n int) int {
		seed = seed*1664525 + 1013904223
		return int(seed>>16) % n
	}

	for range 2000 {
		p := next(16)
		id := members[next(len(members))]
		v := m.Version(p)

		switch next(4) {
		case 0:
			_ = m.SetPrimary(p, id, v)
		case 1:
			_ = m.SetBackup(p, next(2), id, v)
		case 2:
			_ = m.ClearMember(id)
		case 3:
			_ = m.SetBackup(p, next(2), types.NoMember, v)
		}
	}

	requireInvariants(t, m.Snapshot())
}

func TestSnapshotChangedSince(t *testing.T) {
	m := New(4, 1)
	first := m.Snapshot()
	require.Equal(t, []int{0, 1, 2, 3}, first.ChangedSince(nil))
	require.Empty(t, first.ChangedSince(first))

	require.NoError(t, m.SetPrimary(1, 7, 0))
	require.NoError(t, m.SetPrimary(3, 8, 0))
	second := m.Snapshot()
	require.Equal(t, []int{1, 3}, second.ChangedSince(first))

	require.Len(t, second.ChangedSince(EmptySnapshot(2, 1)), 4)
}
