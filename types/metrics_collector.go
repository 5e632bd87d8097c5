package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	ServiceMetrics
	OwnershipMetrics
	RecoveryMetrics
	MemberMetrics
}

// ServiceMetrics defines metrics for service-level state and observability attributes.
type ServiceMetrics interface {
	// RecordStateTransition records a service state transition event.
	RecordStateTransition(from, to State)

	// RecordHAStatus sets the current service HA status (gauge metric).
	RecordHAStatus(status HAStatus)

	// RecordOrphanCount sets the number of partitions without a primary (gauge metric).
	RecordOrphanCount(count int)

	// RecordQuorumVerdict sets whether an action class is currently allowed (gauge metric).
	RecordQuorumVerdict(action ActionClass, allowed bool)

	// RecordEventBatch records how many queued events one loop iteration coalesced.
	RecordEventBatch(events int)
}

// OwnershipMetrics defines metrics for ownership mutations.
type OwnershipMetrics interface {
	// RecordOwnershipMutation records an ownership mutation attempt.
	//
	// Parameters:
	//   - op: Operation ("assign_primary", "create_backup", "transfer_backup",
	//     "transfer_primary", "promote_backup", "place_primary", "config_update")
	//   - result: "ok", "quorum_violation", "conflict" or "rejected"
	RecordOwnershipMutation(op string, result string)

	// RecordMemberDeparture records a departure and how many slots it cleared.
	RecordMemberDeparture(clearedSlots int)
}

// RecoveryMetrics defines metrics for persistence recovery episodes.
type RecoveryMetrics interface {
	// RecordRecoveryStarted records the start of a recovery episode.
	RecordRecoveryStarted()

	// RecordRecoveryCompleted records a completed episode.
	//
	// Parameters:
	//   - duration: Episode duration in seconds
	//   - recovered: Partitions assigned from persisted stores
	//   - placed: Partitions assigned by ordinary placement
	RecordRecoveryCompleted(duration float64, recovered, placed int)

	// RecordTokensCollected records tokens reported by one member.
	RecordTokensCollected(count int)

	// RecordTokenDiscarded records a discarded inconsistent token.
	RecordTokenDiscarded(reason string)

	// RecordRecoveryTimeout records an orphaned-partition timeout report.
	RecordRecoveryTimeout(orphans int)
}

// MemberMetrics defines metrics for membership and the NATS binding.
type MemberMetrics interface {
	// RecordHeartbeat records a heartbeat publish from this member.
	RecordHeartbeat(member MemberID, success bool)

	// RecordActiveMembers sets the current live member count (gauge metric).
	RecordActiveMembers(count int)

	// RecordKVOperationDuration records NATS KV operation latency.
	//
	// Parameters:
	//   - operation: Operation type ("get", "put", "delete", "keys")
	//   - duration: Time taken in seconds
	RecordKVOperationDuration(operation string, duration float64)
}
