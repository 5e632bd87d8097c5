package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/custodian/types"
)

func member(id types.MemberID, site, rack, machine string) types.Member {
	return types.Member{ID: id, Site: site, Rack: rack, Machine: machine, OwnershipEnabled: true}.Normalize()
}

func strategies() map[string]types.PlacementStrategy {
	return map[string]types.PlacementStrategy{
		"consistent_hash": NewConsistentHash(),
		"least_loaded":    NewLeastLoaded(),
	}
}

func TestStrategies_NoCandidates(t *testing.T) {
	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			_, err := s.PlacePrimary(1, nil, nil)
			require.ErrorIs(t, err, types.ErrNoEligibleMember)

			_, err = s.PlaceBackup(1, []types.Member{member(1, "a", "r", "m")}, nil, nil)
			require.ErrorIs(t, err, types.ErrNoEligibleMember)
		})
	}
}

func TestStrategies_PrimaryFromCandidates(t *testing.T) {
	candidates := []types.Member{member(2, "", "", ""), member(5, "", "", ""), member(9, "", "", "")}

	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			for p := range 50 {
				id, err := s.PlacePrimary(p, candidates, nil)
				require.NoError(t, err)
				require.Contains(t, []types.MemberID{2, 5, 9}, id)
			}
		})
	}
}

func TestStrategies_BackupPrefersDistance(t *testing.T) {
	holder := member(1, "east", "r1", "m1")
	candidates := []types.Member{
		member(2, "east", "r1", "m1"), // same machine
		member(3, "east", "r1", "m2"), // same rack
		member(4, "east", "r2", "m3"), // same site
		member(5, "west", "r9", "m9"), // other site
	}

	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			for p := range 20 {
				id, err := s.PlaceBackup(p, []types.Member{holder}, candidates, map[types.MemberID]int{5: 100})
				require.NoError(t, err)
				require.Equal(t, types.MemberID(5), id, "other site wins regardless of load")
			}

			id, err := s.PlaceBackup(0, []types.Member{holder}, candidates[:3], nil)
			require.NoError(t, err)
			require.Equal(t, types.MemberID(4), id, "other rack is next best")
		})
	}
}

func TestStrategies_BackupWeakestHolderCounts(t *testing.T) {
	holders := []types.Member{member(1, "east", "r1", "m1"), member(2, "west", "r1", "m1")}
	candidates := []types.Member{
		member(3, "west", "r1", "m2"), // only machine-safe from member 2
		member(4, "north", "r1", "m1"),
	}

	for name, s := range strategies() {
		t.Run(name, func(t *testing.T) {
			id, err := s.PlaceBackup(0, holders, candidates, nil)
			require.NoError(t, err)
			require.Equal(t, types.MemberID(4), id)
		})
	}
}

func TestConsistentHash_Deterministic(t *testing.T) {
	candidates := []types.Member{member(1, "", "", ""), member(2, "", "", ""), member(3, "", "", "")}
	reversed := []types.Member{candidates[2], candidates[1], candidates[0]}

	a := NewConsistentHash()
	b := NewConsistentHash(WithVirtualNodes(150), WithHashSeed(0))

	for p := range 100 {
		x, err := a.PlacePrimary(p, candidates, nil)
		require.NoError(t, err)
		y, err := b.PlacePrimary(p, reversed, nil)
		require.NoError(t, err)
		require.Equal(t, x, y)
	}
}

func TestConsistentHash_SpreadsPrimaries(t *testing.T) {
	candidates := []types.Member{member(1, "", "", ""), member(2, "", "", ""), member(3, "", "", "")}
	s := NewConsistentHash()

	counts := make(map[types.MemberID]int)
	for p := range 300 {
		id, err := s.PlacePrimary(p, candidates, nil)
		require.NoError(t, err)
		counts[id]++
	}

	require.Len(t, counts, 3)
	for id, n := range counts {
		require.Greater(t, n, 40, "member %d", id)
	}
}

func TestLeastLoaded_Primary(t *testing.T) {
	candidates := []types.Member{member(1, "", "", ""), member(2, "", "", ""), member(3, "", "", "")}
	s := NewLeastLoaded()

	id, err := s.PlacePrimary(0, candidates, map[types.MemberID]int{1: 4, 2: 1, 3: 1})
	require.NoError(t, err)
	require.Equal(t, types.MemberID(2), id, "tie on load breaks to the lowest id")

	id, err = s.PlacePrimary(0, candidates, nil)
	require.NoError(t, err)
	require.Equal(t, types.MemberID(1), id)

	load := map[types.MemberID]int{}
	for p := range 9 {
		id, err := s.PlacePrimary(p, candidates, load)
		require.NoError(t, err)
		load[id]++
	}
	require.Equal(t, map[types.MemberID]int{1: 3, 2: 3, 3: 3}, load)
}

func TestLeastLoaded_BackupTieBreaksOnLoad(t *testing.T) {
	holder := member(1, "east", "r1", "m1")
	candidates := []types.Member{member(2, "west", "r1", "m1"), member(3, "south", "r1", "m1")}

	id, err := NewLeastLoaded().PlaceBackup(0, []types.Member{holder}, candidates, map[types.MemberID]int{2: 5, 3: 1})
	require.NoError(t, err)
	require.Equal(t, types.MemberID(3), id)
}
