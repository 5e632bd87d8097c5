// Package hastatus classifies partition replication safety from topology.
//
// Evaluation is a pure function of an ownership snapshot, a topology snapshot
// and the backup count, so it may run concurrently on any goroutine.
package hastatus

import (
	"github.com/arloliu/custodian/internal/ownership"
	"github.com/arloliu/custodian/types"
)

// EvaluatePartition returns the HA status of a single ownership record.
//
// A partition is ENDANGERED when it has no primary, an empty backup slot,
// or a copy-holder that is not live in the topology. Otherwise its status is
// the lowest SafetyFrom level over every pair of copy-holders.
//
// Parameters:
//   - r: Ownership record
//   - topo: Live topology
//   - backupCount: Configured backup count
//
// Returns:
//   - types.HAStatus: Partition status
func EvaluatePartition(r types.OwnershipRecord, topo *types.Topology, backupCount int) types.HAStatus {
	if r.Primary == types.NoMember || len(r.Backups) < backupCount {
		return types.HAEndangered
	}

	holders := make([]types.Member, 0, backupCount+1)
	for _, id := range append([]types.MemberID{r.Primary}, r.Backups[:backupCount]...) {
		if id == types.NoMember {
			return types.HAEndangered
		}
		m, ok := topo.Member(id)
		if !ok {
			return types.HAEndangered
		}
		holders = append(holders, m)
	}

	status := types.HASiteSafe
	for i := range holders {
		for j := i + 1; j < len(holders); j++ {
			status = min(status, holders[i].SafetyFrom(holders[j]))
			if status == types.HAEndangered {
				return status
			}
		}
	}

	return status
}

// Evaluate returns the service HA status: the minimum over all partitions.
//
// Parameters:
//   - snap: Ownership snapshot
//   - topo: Live topology
//   - backupCount: Configured backup count
//
// Returns:
//   - types.HAStatus: Service status
func Evaluate(snap *ownership.Snapshot, topo *types.Topology, backupCount int) types.HAStatus {
	status := types.HASiteSafe
	for _, r := range snap.Records() {
		status = min(status, EvaluatePartition(r, topo, backupCount))
		if status == types.HAEndangered {
			break
		}
	}

	return status
}
