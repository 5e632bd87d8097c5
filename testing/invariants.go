package testing

import (
	"slices"
	"testing"

	"github.com/arloliu/custodian/types"
)

// AssertOwnershipConsistent checks ownership snapshots taken from several
// members: each covers every partition exactly once with a primary, no
// member holds two copies of one partition, and all snapshots agree.
//
// Parameters:
//   - t: testing handle
//   - partitions: Expected partition count
//   - snapshots: One snapshot per member
func AssertOwnershipConsistent(t testing.TB, partitions int, snapshots ...[]types.OwnershipRecord) {
	t.Helper()

	for i, snap := range snapshots {
		if len(snap) != partitions {
			t.Fatalf("snapshot[%d] has %d records, want %d", i, len(snap), partitions)
		}

		for p, r := range snap {
			if r.Partition != p {
				t.Fatalf("snapshot[%d] record %d is for partition %d", i, p, r.Partition)
			}
			if !r.Primary.IsValid() {
				t.Fatalf("snapshot[%d] partition %d has no primary", i, p)
			}

			seen := map[types.MemberID]bool{r.Primary: true}
			for _, b := range r.Backups {
				if !b.IsValid() {
					continue
				}
				if seen[b] {
					t.Fatalf("snapshot[%d] partition %d: member %d holds two copies", i, p, b)
				}
				seen[b] = true
			}
		}

		if i == 0 {
			continue
		}
		for p, r := range snap {
			want := snapshots[0][p]
			if r.Primary != want.Primary || !slices.Equal(r.Backups, want.Backups) {
				t.Fatalf("snapshot[%d] partition %d is %v/%v, snapshot[0] has %v/%v",
					i, p, r.Primary, r.Backups, want.Primary, want.Backups)
			}
		}
	}
}
