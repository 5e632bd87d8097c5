package delta

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/internal/kvutil"
	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/types"
)

var (
	// ErrAlreadyStarted is returned when Start is called on a running publisher or follower.
	ErrAlreadyStarted = errors.New("delta replication already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("delta replication not started")
)

// DefaultResyncInterval bounds how long a newly senior member waits before
// publishing records that changed while it was a follower.
const DefaultResyncInterval = time.Second

// Source is the ownership view the publisher replicates. *custodian.Service implements it.
type Source interface {
	IsSenior() bool
	Snapshot() []types.OwnershipRecord
	WatchOwnership() (<-chan uint64, func())
}

// Option configures a Publisher or Follower.
type Option func(*options)

type options struct {
	logger   types.Logger
	metrics  kvutil.LatencyRecorder
	resync   time.Duration
	senderID types.MemberID
}

func newOptions(opts []Option) options {
	o := options{logger: logging.NewNop(), resync: DefaultResyncInterval}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the recorder of KV operation latencies.
func WithMetrics(m kvutil.LatencyRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithResyncInterval sets how often the publisher compares the snapshot with
// what it last wrote, independent of change signals.
func WithResyncInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.resync = d
		}
	}
}

// WithMember stamps published entries with the local member id.
func WithMember(id types.MemberID) Option {
	return func(o *options) {
		o.senderID = id
	}
}

// Publisher writes the senior's ownership records to NATS KV.
//
// It only writes while its source is senior, and only records whose
// version differs from the last one it wrote.
type Publisher struct {
	kv     jetstream.KeyValue
	prefix string
	source Source
	opts   options

	mu        sync.Mutex
	published map[int]uint64
	offsets   map[int]uint64
	tookOver  bool
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewPublisher creates a new ownership publisher.
//
// Parameters:
//   - kv: NATS KV bucket receiving ownership entries
//   - prefix: Key prefix (e.g., DefaultPrefix)
//   - source: Ownership view to replicate
//   - opts: Optional logger, metrics, member and resync interval
//
// Returns:
//   - *Publisher: A new publisher instance
func NewPublisher(kv jetstream.KeyValue, prefix string, source Source, opts ...Option) *Publisher {
	return &Publisher{
		kv:        kv,
		prefix:    prefix,
		source:    source,
		opts:      newOptions(opts),
		published: make(map[int]uint64),
		offsets:   make(map[int]uint64),
	}
}

// Start publishes pending records in the background until Stop.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	changes, unwatch := p.source.WatchOwnership()
	go p.run(ctx, changes, unwatch, p.stopCh, p.doneCh)

	p.opts.logger.Debug("ownership publisher started", "prefix", p.prefix)

	return nil
}

// Stop stops publishing and waits for the background goroutine to exit.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
	p.opts.logger.Debug("ownership publisher stopped", "prefix", p.prefix)

	return nil
}

func (p *Publisher) run(ctx context.Context, changes <-chan uint64, unwatch func(), stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer unwatch()

	ticker := time.NewTicker(p.opts.resync)
	defer ticker.Stop()

	p.sync(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case _, ok := <-changes:
			if !ok {
				// The service stopped.
				return
			}
			p.sync(ctx)
		case <-ticker.C:
			p.sync(ctx)
		}
	}
}

func (p *Publisher) sync(ctx context.Context) {
	if !p.source.IsSenior() {
		p.mu.Lock()
		p.tookOver = false
		clear(p.published)
		clear(p.offsets)
		p.mu.Unlock()

		return
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if n, err := p.Publish(pctx); err != nil {
		p.opts.logger.Warn("ownership publish failed", "published", n, "error", err)
	}
}

// Publish writes every record whose version changed since the last write.
//
// Published versions stay above whatever a previous senior left in the
// bucket: the first call after gaining seniority reads the existing entries
// and offsets the local versions of every partition that diverged from them.
//
// Returns:
//   - int: Number of records written
//   - error: First KV error; remaining records are retried on the next call
func (p *Publisher) Publish(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	records := p.source.Snapshot()
	if !p.tookOver {
		if err := p.takeOverLocked(ctx, records); err != nil {
			return 0, err
		}
	}

	now := time.Now()
	written := 0
	for _, r := range records {
		r.Version += p.offsets[r.Partition]
		if v, ok := p.published[r.Partition]; ok && v == r.Version {
			continue
		}

		entry := Entry{Record: r, Senior: p.opts.senderID, PublishedAt: now}
		if _, err := kvutil.PutJSON(ctx, p.kv, KeyFor(p.prefix, r.Partition), entry, p.opts.metrics); err != nil {
			return written, err
		}
		p.published[r.Partition] = r.Version
		written++
	}

	if written > 0 {
		p.opts.logger.Debug("ownership records published", "records", written)
	}

	return written, nil
}

// takeOverLocked computes per-partition version offsets from the entries in the bucket.
func (p *Publisher) takeOverLocked(ctx context.Context, records []types.OwnershipRecord) error {
	keys, err := kvutil.ListKeys(ctx, p.kv, p.prefix+".", p.opts.metrics)
	if err != nil {
		return fmt.Errorf("failed to discover published versions: %w", err)
	}

	local := make(map[int]types.OwnershipRecord, len(records))
	for _, r := range records {
		local[r.Partition] = r
	}

	highest := uint64(0)
	adjusted := 0
	for _, key := range keys {
		partition, err := ParseKey(p.prefix, key)
		if err != nil {
			continue
		}
		r, ok := local[partition]
		if !ok {
			continue
		}

		var e Entry
		found, err := kvutil.GetJSON(ctx, p.kv, key, &e, p.opts.metrics)
		if err != nil || !found || e.Record.Partition != partition {
			p.opts.logger.Debug("skipping unreadable ownership entry", "key", key, "error", err)
			continue
		}
		highest = max(highest, e.Record.Version)

		if sameRecord(e.Record, r) {
			p.published[partition] = r.Version
			continue
		}
		if e.Record.Version >= r.Version {
			p.offsets[partition] = e.Record.Version - r.Version + 1
			adjusted++
		}
	}
	p.tookOver = true

	if adjusted > 0 {
		p.opts.logger.Info("ownership versions offset past previous senior",
			"partitions", adjusted,
			"highest_version", highest,
		)
	}

	return nil
}

func sameRecord(a, b types.OwnershipRecord) bool {
	return a.Version == b.Version && a.Primary == b.Primary && slices.Equal(a.Backups, b.Backups)
}
