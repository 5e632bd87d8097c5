package membership

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/internal/heartbeat"
	"github.com/arloliu/custodian/internal/kvutil"
	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/internal/metrics"
	"github.com/arloliu/custodian/internal/natsutil"
	"github.com/arloliu/custodian/types"
)

// debounceWindow coalesces bursts of watcher events into one reconcile.
const debounceWindow = 100 * time.Millisecond

// Handler receives membership events. *custodian.Service implements it.
type Handler interface {
	MemberJoined(ctx context.Context, member types.Member) error
	MemberLeft(ctx context.Context, member types.Member, graceful bool) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger types.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the collector receiving the live member count and KV latencies.
func WithMetrics(mc types.MemberMetrics) Option {
	return func(m *Monitor) {
		if mc != nil {
			m.metrics = mc
		}
	}
}

// Monitor tracks live members through their heartbeat keys.
type Monitor struct {
	kv      jetstream.KeyValue
	prefix  string
	ttl     time.Duration
	handler Handler
	logger  types.Logger
	metrics types.MemberMetrics

	// Owned by the monitor goroutine.
	watcher  jetstream.KeyWatcher
	beats    map[types.MemberID]types.Member
	deleted  map[types.MemberID]bool
	debounce *time.Timer
	pending  bool

	membersMu sync.RWMutex
	members   map[types.MemberID]types.Member

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a new membership monitor.
//
// Parameters:
//   - kv: NATS KV bucket holding heartbeats
//   - prefix: Heartbeat key prefix (e.g., "member")
//   - ttl: Heartbeat TTL; the fallback poll runs every ttl/2
//   - handler: Receiver of join and leave events
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Monitor: A new monitor instance
func NewMonitor(kv jetstream.KeyValue, prefix string, ttl time.Duration, handler Handler, opts ...Option) *Monitor {
	m := &Monitor{
		kv:      kv,
		prefix:  prefix,
		ttl:     ttl,
		handler: handler,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		beats:   make(map[types.MemberID]types.Member),
		deleted: make(map[types.MemberID]bool),
		members: make(map[types.MemberID]types.Member),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins monitoring in a background goroutine.
//
// Returns:
//   - error: ErrMonitorAlreadyStarted or ErrMonitorAlreadyStopped
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return types.ErrMonitorAlreadyStopped
	}
	if m.started {
		return types.ErrMonitorAlreadyStarted
	}
	m.started = true

	go m.run(ctx)

	return nil
}

// Stop stops the monitor and waits for its goroutine to exit. Repeated calls are no-ops.
//
// Returns:
//   - error: ErrMonitorNotStarted if called before Start
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return types.ErrMonitorNotStarted
	}
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	return nil
}

// Members returns the live members sorted by id.
func (m *Monitor) Members() []types.Member {
	m.membersMu.RLock()
	defer m.membersMu.RUnlock()

	out := make([]types.Member, 0, len(m.members))
	for _, member := range m.members {
		out = append(out, member)
	}
	slices.SortFunc(out, func(a, b types.Member) int { return cmp.Compare(a.ID, b.ID) })

	return out
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	if err := m.startWatcher(ctx); err != nil {
		m.logger.Warn("failed to start heartbeat watcher, falling back to polling only", "error", err)
	}
	defer m.stopWatcher()

	m.debounce = time.NewTimer(debounceWindow)
	m.debounce.Stop()
	defer m.debounce.Stop()

	m.reconcile(ctx)

	interval := m.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var updates <-chan jetstream.KeyValueEntry
	if m.watcher != nil {
		updates = m.watcher.Updates()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reconcile(ctx)
		case entry, ok := <-updates:
			if !ok {
				m.logger.Warn("heartbeat watcher closed, polling only")
				updates = nil

				continue
			}
			m.observe(entry)
		case <-m.debounce.C:
			if m.pending {
				m.pending = false
				m.reconcile(ctx)
			}
		}
	}
}

func (m *Monitor) startWatcher(ctx context.Context) error {
	watcher, err := m.kv.Watch(ctx, m.prefix+".*")
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	m.watcher = watcher
	m.logger.Info("heartbeat watcher started", "pattern", m.prefix+".*")

	return nil
}

func (m *Monitor) stopWatcher() {
	if m.watcher == nil {
		return
	}
	if err := m.watcher.Stop(); err != nil {
		m.logger.Warn("failed to stop heartbeat watcher", "error", err)
	}
	m.watcher = nil
}

// observe records one watcher entry and schedules a debounced reconcile.
func (m *Monitor) observe(entry jetstream.KeyValueEntry) {
	if entry == nil {
		// End of the initial replay.
		return
	}

	id, err := heartbeat.ParseKey(m.prefix, entry.Key())
	if err != nil {
		m.logger.Debug("skipping non-heartbeat key", "key", entry.Key())
		return
	}

	switch entry.Operation() {
	case jetstream.KeyValuePut:
		beat, err := heartbeat.Decode(entry.Value())
		if err != nil || beat.Member.ID != id {
			m.logger.Warn("ignoring malformed heartbeat", "key", entry.Key(), "error", err)
			return
		}
		m.beats[id] = beat.Member
		delete(m.deleted, id)
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		m.deleted[id] = true
		delete(m.beats, id)
	}

	if !m.pending {
		m.pending = true
		m.debounce.Reset(debounceWindow)
	}
}

// reconcile diffs the live heartbeat keys against the known members and
// reports the differences to the handler.
func (m *Monitor) reconcile(ctx context.Context) {
	keys, err := kvutil.ListKeys(ctx, m.kv, m.prefix+".", m.metrics)
	if err != nil {
		if natsutil.IsConnectivityError(err) {
			m.logger.Warn("heartbeat scan skipped, KV unreachable", "error", err)
		} else {
			m.logger.Error("heartbeat scan failed", "error", err)
		}

		return
	}

	live := make(map[types.MemberID]bool, len(keys))
	for _, key := range keys {
		id, err := heartbeat.ParseKey(m.prefix, key)
		if err != nil {
			continue
		}
		live[id] = true
	}

	m.membersMu.RLock()
	known := make(map[types.MemberID]types.Member, len(m.members))
	for id, member := range m.members {
		known[id] = member
	}
	m.membersMu.RUnlock()

	for id, member := range known {
		if live[id] {
			continue
		}
		graceful := m.deleted[id] || m.deletedByOwner(ctx, id)
		m.remove(id)
		m.logger.Info("member left", "member_id", id, "graceful", graceful)
		if err := m.handler.MemberLeft(ctx, member, graceful); err != nil {
			m.logger.Error("member leave handler failed", "member_id", id, "error", err)
		}
	}

	joined := make([]types.MemberID, 0)
	for id := range live {
		if _, ok := known[id]; !ok {
			joined = append(joined, id)
		}
	}
	slices.Sort(joined)

	for _, id := range joined {
		member, err := m.lookup(ctx, id)
		if err != nil {
			m.logger.Warn("failed to read heartbeat of joining member", "member_id", id, "error", err)
			continue
		}

		m.add(member)
		m.logger.Info("member joined", "member_id", id, "site", member.Site)
		if err := m.handler.MemberJoined(ctx, member); err != nil {
			m.logger.Error("member join handler failed", "member_id", id, "error", err)
		}
	}

	clear(m.deleted)
	m.metrics.RecordActiveMembers(len(live))
}

// deletedByOwner reports whether the newest revision of a vanished heartbeat
// key is a delete marker. Expired keys leave no history behind.
func (m *Monitor) deletedByOwner(ctx context.Context, id types.MemberID) bool {
	history, err := m.kv.History(ctx, heartbeat.KeyFor(m.prefix, id))
	if err != nil || len(history) == 0 {
		return false
	}

	op := history[len(history)-1].Operation()

	return op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge
}

// lookup returns the member advertised by a heartbeat, preferring the watcher cache.
func (m *Monitor) lookup(ctx context.Context, id types.MemberID) (types.Member, error) {
	if member, ok := m.beats[id]; ok {
		return member, nil
	}

	entry, err := m.kv.Get(ctx, heartbeat.KeyFor(m.prefix, id))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.Member{}, fmt.Errorf("heartbeat of member %d vanished: %w", id, err)
		}

		return types.Member{}, err
	}

	beat, err := heartbeat.Decode(entry.Value())
	if err != nil {
		return types.Member{}, err
	}
	if beat.Member.ID != id {
		return types.Member{}, fmt.Errorf("%w: heartbeat key %d carries member %d", types.ErrInvalidMember, id, beat.Member.ID)
	}
	m.beats[id] = beat.Member

	return beat.Member, nil
}

func (m *Monitor) add(member types.Member) {
	m.membersMu.Lock()
	defer m.membersMu.Unlock()
	m.members[member.ID] = member
}

func (m *Monitor) remove(id types.MemberID) {
	m.membersMu.Lock()
	defer m.membersMu.Unlock()
	delete(m.members, id)
	delete(m.beats, id)
}
