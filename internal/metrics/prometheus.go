package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/custodian/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	// Service
	stateTransitions *prometheus.CounterVec
	haStatus         prometheus.Gauge
	orphans          prometheus.Gauge
	quorumAllowed    *prometheus.GaugeVec
	eventBatch       prometheus.Histogram

	// Ownership
	mutations    *prometheus.CounterVec
	departures   prometheus.Counter
	clearedSlots prometheus.Counter

	// Recovery
	recoveryStarted  prometheus.Counter
	recoveryDuration prometheus.Histogram
	recoveredTotal   *prometheus.CounterVec
	tokensCollected  prometheus.Counter
	tokensDiscarded  *prometheus.CounterVec
	recoveryTimeouts prometheus.Counter
	orphansAtTimeout prometheus.Gauge

	// Members
	heartbeats    *prometheus.CounterVec
	activeMembers prometheus.Gauge
	kvLatency     *prometheus.HistogramVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "custodian" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "custodian"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Total service state transitions by source and target state.",
		}, []string{"from", "to"})
		p.haStatus = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "service",
			Name:      "ha_status",
			Help:      "Service HA status (0=ENDANGERED .. 4=SITE_SAFE).",
		})
		p.orphans = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "ownership",
			Name:      "orphaned_partitions",
			Help:      "Current number of partitions without a primary.",
		})
		p.quorumAllowed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "quorum",
			Name:      "action_allowed",
			Help:      "Whether an action class is allowed (1) or disallowed (0).",
		}, []string{"action"})
		p.eventBatch = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "service",
			Name:      "event_batch_size",
			Help:      "Events processed per event loop batch.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		})

		p.mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "ownership",
			Name:      "mutations_total",
			Help:      "Ownership mutations by operation and result (ok, quorum_violation, rejected).",
		}, []string{"op", "result"})
		p.departures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "ownership",
			Name:      "member_departures_total",
			Help:      "Total member departures applied to the ownership map.",
		})
		p.clearedSlots = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "ownership",
			Name:      "cleared_partitions_total",
			Help:      "Total partition records changed by member departures.",
		})

		p.recoveryStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "episodes_started_total",
			Help:      "Total persistence recovery episodes started.",
		})
		p.recoveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "episode_duration_seconds",
			Help:      "Duration of completed recovery episodes in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		})
		p.recoveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "partitions_total",
			Help:      "Partitions resolved by recovery, by outcome (recovered, placed).",
		}, []string{"outcome"})
		p.tokensCollected = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "tokens_collected_total",
			Help:      "Total recovery tokens collected from members.",
		})
		p.tokensDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "tokens_discarded_total",
			Help:      "Recovery tokens discarded as inconsistent, by reason.",
		}, []string{"reason"})
		p.recoveryTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "timeouts_total",
			Help:      "Total orphaned partition timeouts.",
		})
		p.orphansAtTimeout = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "recovery",
			Name:      "orphans_at_last_timeout",
			Help:      "Orphaned partitions remaining at the last recovery timeout.",
		})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "member",
			Name:      "heartbeats_total",
			Help:      "Heartbeat publications by member and result.",
		}, []string{"member", "result"})
		p.activeMembers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "member",
			Name:      "active",
			Help:      "Current number of live members in the topology.",
		})
		p.kvLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "kv",
			Name:      "operation_duration_seconds",
			Help:      "Latency of NATS KV operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"})

		p.reg.MustRegister(
			p.stateTransitions, p.haStatus, p.orphans, p.quorumAllowed, p.eventBatch,
			p.mutations, p.departures, p.clearedSlots,
			p.recoveryStarted, p.recoveryDuration, p.recoveredTotal, p.tokensCollected,
			p.tokensDiscarded, p.recoveryTimeouts, p.orphansAtTimeout,
			p.heartbeats, p.activeMembers, p.kvLatency,
		)
	})
}

// ServiceMetrics implementation

// RecordStateTransition counts a service state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordHAStatus sets the HA status gauge.
func (p *PrometheusCollector) RecordHAStatus(status types.HAStatus) {
	p.ensureRegistered()
	p.haStatus.Set(float64(status))
}

// RecordOrphanCount sets the orphaned partition gauge.
func (p *PrometheusCollector) RecordOrphanCount(count int) {
	p.ensureRegistered()
	p.orphans.Set(float64(count))
}

// RecordQuorumVerdict sets the per-action allowed gauge.
func (p *PrometheusCollector) RecordQuorumVerdict(action types.ActionClass, allowed bool) {
	p.ensureRegistered()
	p.quorumAllowed.WithLabelValues(action.String()).Set(boolToFloat(allowed))
}

// RecordEventBatch observes the number of events in one loop batch.
func (p *PrometheusCollector) RecordEventBatch(events int) {
	p.ensureRegistered()
	p.eventBatch.Observe(float64(events))
}

// OwnershipMetrics implementation

// RecordOwnershipMutation counts a coordinator mutation by result.
func (p *PrometheusCollector) RecordOwnershipMutation(op string, result string) {
	p.ensureRegistered()
	p.mutations.WithLabelValues(op, result).Inc()
}

// RecordMemberDeparture counts a departure and the records it changed.
func (p *PrometheusCollector) RecordMemberDeparture(clearedSlots int) {
	p.ensureRegistered()
	p.departures.Inc()
	p.clearedSlots.Add(float64(clearedSlots))
}

// RecoveryMetrics implementation

// RecordRecoveryStarted counts a started recovery episode.
func (p *PrometheusCollector) RecordRecoveryStarted() {
	p.ensureRegistered()
	p.recoveryStarted.Inc()
}

// RecordRecoveryCompleted observes episode duration and outcome counts.
func (p *PrometheusCollector) RecordRecoveryCompleted(duration float64, recovered, placed int) {
	p.ensureRegistered()
	p.recoveryDuration.Observe(duration)
	p.recoveredTotal.WithLabelValues("recovered").Add(float64(recovered))
	p.recoveredTotal.WithLabelValues("placed").Add(float64(placed))
}

// RecordTokensCollected counts collected tokens.
func (p *PrometheusCollector) RecordTokensCollected(count int) {
	p.ensureRegistered()
	p.tokensCollected.Add(float64(count))
}

// RecordTokenDiscarded counts a discarded token.
func (p *PrometheusCollector) RecordTokenDiscarded(reason string) {
	p.ensureRegistered()
	p.tokensDiscarded.WithLabelValues(reason).Inc()
}

// RecordRecoveryTimeout counts a timeout and records the remaining orphans.
func (p *PrometheusCollector) RecordRecoveryTimeout(orphans int) {
	p.ensureRegistered()
	p.recoveryTimeouts.Inc()
	p.orphansAtTimeout.Set(float64(orphans))
}

// MemberMetrics implementation

// RecordHeartbeat counts a heartbeat publication.
func (p *PrometheusCollector) RecordHeartbeat(member types.MemberID, success bool) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.heartbeats.WithLabelValues(strconv.Itoa(int(member)), result).Inc()
}

// RecordActiveMembers sets the live member gauge.
func (p *PrometheusCollector) RecordActiveMembers(count int) {
	p.ensureRegistered()
	p.activeMembers.Set(float64(count))
}

// RecordKVOperationDuration observes a KV operation latency in seconds.
func (p *PrometheusCollector) RecordKVOperationDuration(operation string, duration float64) {
	p.ensureRegistered()
	p.kvLatency.WithLabelValues(operation).Observe(duration)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
