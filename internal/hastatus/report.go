package hastatus

import (
	"github.com/arloliu/custodian/internal/ownership"
	"github.com/arloliu/custodian/types"
)

// maxWeakest bounds the partitions listed in a Report.
const maxWeakest = 16

// Report is a detailed HA evaluation used for logging and metrics.
type Report struct {
	// Status is the service status.
	Status types.HAStatus

	// Counts is the number of partitions at each status.
	Counts map[types.HAStatus]int

	// Weakest lists up to 16 partitions at Status, ascending.
	Weakest []int
}

// Evaluate walks every partition once and builds a Report.
func (r *Report) Evaluate(snap *ownership.Snapshot, topo *types.Topology, backupCount int) {
	r.Status = types.HASiteSafe
	r.Counts = make(map[types.HAStatus]int, 5)
	r.Weakest = r.Weakest[:0]

	for _, rec := range snap.Records() {
		s := EvaluatePartition(rec, topo, backupCount)
		r.Counts[s]++

		switch {
		case s < r.Status:
			r.Status = s
			r.Weakest = append(r.Weakest[:0], rec.Partition)
		case s == r.Status && len(r.Weakest) < maxWeakest:
			r.Weakest = append(r.Weakest, rec.Partition)
		}
	}
}

// NewReport evaluates and returns a Report.
func NewReport(snap *ownership.Snapshot, topo *types.Topology, backupCount int) Report {
	var r Report
	r.Evaluate(snap, topo, backupCount)

	return r
}
