package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOwnershipRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  OwnershipRecord
		wantErr error
	}{
		{"all zero", OwnershipRecord{Backups: []MemberID{0, 0}}, nil},
		{"steady", OwnershipRecord{Primary: 1, Backups: []MemberID{2, 3}}, nil},
		{"orphan with backups", OwnershipRecord{Backups: []MemberID{2, 0}}, nil},
		{"primary in backups", OwnershipRecord{Primary: 1, Backups: []MemberID{1, 0}}, ErrDuplicateHolder},
		{"duplicate backups", OwnershipRecord{Primary: 1, Backups: []MemberID{2, 2}}, ErrDuplicateHolder},
		{"wrong slot count", OwnershipRecord{Primary: 1, Backups: []MemberID{2}}, ErrInvalidSlot},
		{"negative member", OwnershipRecord{Primary: 1, Backups: []MemberID{-2, 0}}, ErrInvalidMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate(2)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOwnershipRecordHelpers(t *testing.T) {
	r := OwnershipRecord{Partition: 4, Primary: 1, Backups: []MemberID{0, 3, 0}}

	require.False(t, r.IsOrphaned())
	require.Equal(t, 1, r.FilledBackups())
	require.Equal(t, 0, r.EmptySlot())
	require.Equal(t, []MemberID{1, 3}, r.Holders())
	require.True(t, r.Holds(3))
	require.False(t, r.Holds(0))
	require.Equal(t, 1, r.BackupSlot(3))
	require.Equal(t, -1, r.BackupSlot(1))

	c := r.Clone()
	c.Backups[0] = 9
	require.Equal(t, MemberID(0), r.Backups[0], "Clone must deep copy backups")
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		record OwnershipRecord
		state  PartitionState
		filled int
	}{
		{OwnershipRecord{Backups: []MemberID{0, 0}}, PartitionUnowned, 0},
		{OwnershipRecord{Backups: []MemberID{2, 0}}, PartitionUnowned, 1},
		{OwnershipRecord{Primary: 1, Backups: []MemberID{0, 0}}, PartitionPrimaryAssigned, 0},
		{OwnershipRecord{Primary: 1, Backups: []MemberID{0, 2}}, PartitionBackup, 1},
		{OwnershipRecord{Primary: 1, Backups: []MemberID{3, 2}}, PartitionSteady, 2},
		{OwnershipRecord{Primary: 1, Backups: []MemberID{}}, PartitionSteady, 0},
	}

	for _, tt := range tests {
		state, filled := StateOf(tt.record)
		require.Equal(t, tt.state, state, "record %+v", tt.record)
		require.Equal(t, tt.filled, filled)
	}
}

func TestHAStatusOrdering(t *testing.T) {
	require.Less(t, HAEndangered, HANodeSafe)
	require.Less(t, HANodeSafe, HAMachineSafe)
	require.Less(t, HAMachineSafe, HARackSafe)
	require.Less(t, HARackSafe, HASiteSafe)

	require.Equal(t, -1, HANodeSafe.Compare(HARackSafe))
	require.Equal(t, 0, HARackSafe.Compare(HARackSafe))
	require.Equal(t, 1, HASiteSafe.Compare(HAEndangered))

	require.Equal(t, HASiteSafe, MinHAStatus())
	require.Equal(t, HANodeSafe, MinHAStatus(HASiteSafe, HANodeSafe, HARackSafe))
	require.Equal(t, "MACHINE_SAFE", HAMachineSafe.String())
	require.Equal(t, "UNKNOWN", HAStatus(99).String())
}
