package metrics

import "github.com/arloliu/custodian/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	svc, err := custodian.New(&cfg, custodian.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ServiceMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State) {}

// RecordHAStatus discards the HA status metric.
func (n *NopMetrics) RecordHAStatus(_ /* status */ types.HAStatus) {}

// RecordOrphanCount discards the orphan gauge.
func (n *NopMetrics) RecordOrphanCount(_ /* count */ int) {}

// RecordQuorumVerdict discards the quorum verdict gauge.
func (n *NopMetrics) RecordQuorumVerdict(_ /* action */ types.ActionClass, _ /* allowed */ bool) {}

// RecordEventBatch discards the event batch size.
func (n *NopMetrics) RecordEventBatch(_ /* events */ int) {}

// OwnershipMetrics implementation

// RecordOwnershipMutation discards the mutation counter.
func (n *NopMetrics) RecordOwnershipMutation(_ /* op */, _ /* result */ string) {}

// RecordMemberDeparture discards the departure metric.
func (n *NopMetrics) RecordMemberDeparture(_ /* clearedSlots */ int) {}

// RecoveryMetrics implementation

// RecordRecoveryStarted discards the recovery start counter.
func (n *NopMetrics) RecordRecoveryStarted() {}

// RecordRecoveryCompleted discards the recovery completion metrics.
func (n *NopMetrics) RecordRecoveryCompleted(_ /* duration */ float64, _ /* recovered */, _ /* placed */ int) {
}

// RecordTokensCollected discards the token collection counter.
func (n *NopMetrics) RecordTokensCollected(_ /* count */ int) {}

// RecordTokenDiscarded discards the token discard counter.
func (n *NopMetrics) RecordTokenDiscarded(_ /* reason */ string) {}

// RecordRecoveryTimeout discards the recovery timeout counter.
func (n *NopMetrics) RecordRecoveryTimeout(_ /* orphans */ int) {}

// MemberMetrics implementation

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* member */ types.MemberID, _ /* success */ bool) {}

// RecordActiveMembers discards the active member gauge.
func (n *NopMetrics) RecordActiveMembers(_ /* count */ int) {}

// RecordKVOperationDuration discards the KV latency metric.
func (n *NopMetrics) RecordKVOperationDuration(_ /* operation */ string, _ /* duration */ float64) {}
