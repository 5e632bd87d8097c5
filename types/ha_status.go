package types

// HAStatus is the replication-safety classification of a partition or service.
//
// Levels are ordered by increasing safety, so the service status is simply
// the minimum over its partitions.
type HAStatus int

const (
	// HAEndangered indicates an orphaned primary, an empty backup slot, or a lost copy.
	HAEndangered HAStatus = iota

	// HANodeSafe indicates distinct members, at least two on one machine.
	HANodeSafe

	// HAMachineSafe indicates distinct machines, at least two in one rack.
	HAMachineSafe

	// HARackSafe indicates distinct racks, at least two in one site.
	HARackSafe

	// HASiteSafe indicates every copy-holder is in a different site.
	HASiteSafe
)

// String returns the conventional upper-case name of the status.
func (s HAStatus) String() string {
	switch s {
	case HAEndangered:
		return "ENDANGERED"
	case HANodeSafe:
		return "NODE_SAFE"
	case HAMachineSafe:
		return "MACHINE_SAFE"
	case HARackSafe:
		return "RACK_SAFE"
	case HASiteSafe:
		return "SITE_SAFE"
	default:
		return "UNKNOWN"
	}
}

// Compare returns -1, 0 or 1 as s is less safe, equal to, or safer than other.
func (s HAStatus) Compare(other HAStatus) int {
	switch {
	case s < other:
		return -1
	case s > other:
		return 1
	default:
		return 0
	}
}

// MinHAStatus returns the least safe of the given statuses.
//
// With no arguments it returns HASiteSafe, the identity for minimum.
func MinHAStatus(statuses ...HAStatus) HAStatus {
	lowest := HASiteSafe
	for _, s := range statuses {
		if s < lowest {
			lowest = s
		}
	}

	return lowest
}
