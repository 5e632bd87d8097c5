package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/internal/metrics"
	"github.com/arloliu/custodian/types"
)

// Common errors for heartbeat operations.
var (
	ErrNotStarted     = errors.New("publisher not started")
	ErrAlreadyStarted = errors.New("publisher already started")
	ErrNoMember       = errors.New("member not set")
)

// Beat is the value published under a member's heartbeat key.
type Beat struct {
	Member      types.Member `json:"member"`
	Seq         uint64       `json:"seq"`
	PublishedAt time.Time    `json:"publishedAt"`
}

// Decode parses a heartbeat value.
func Decode(value []byte) (Beat, error) {
	var b Beat
	if err := json.Unmarshal(value, &b); err != nil {
		return Beat{}, fmt.Errorf("invalid heartbeat: %w", err)
	}
	if !b.Member.ID.IsValid() {
		return Beat{}, fmt.Errorf("invalid heartbeat: %w", types.ErrInvalidMember)
	}

	return b, nil
}

// KeyFor returns the heartbeat key of a member.
func KeyFor(prefix string, id types.MemberID) string {
	return prefix + "." + id.String()
}

// ParseKey extracts the member id from a heartbeat key.
func ParseKey(prefix, key string) (types.MemberID, error) {
	rest, ok := strings.CutPrefix(key, prefix+".")
	if !ok {
		return types.NoMember, fmt.Errorf("%w: key %q", types.ErrInvalidMember, key)
	}

	return types.ParseMemberID(rest)
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the publisher logger.
func WithLogger(logger types.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the collector receiving heartbeat results.
func WithMetrics(m types.MemberMetrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Publisher publishes periodic heartbeats to a NATS KV bucket.
type Publisher struct {
	kv       jetstream.KeyValue
	prefix   string
	interval time.Duration
	logger   types.Logger
	metrics  types.MemberMetrics

	mu      sync.Mutex
	member  types.Member
	seq     uint64
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new heartbeat publisher.
//
// The KV bucket should be configured with a TTL of ~3x the heartbeat interval
// so a member is declared failed after 3 missed heartbeats.
//
// Parameters:
//   - kv: JetStream KV bucket for heartbeat storage
//   - prefix: Key prefix for heartbeat keys (e.g., "member")
//   - interval: Heartbeat interval (typically 2s)
//   - opts: Optional logger and metrics
//
// Returns:
//   - *Publisher: New heartbeat publisher instance
func New(kv jetstream.KeyValue, prefix string, interval time.Duration, opts ...Option) *Publisher {
	p := &Publisher{
		kv:       kv,
		prefix:   prefix,
		interval: interval,
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// SetMember sets the member advertised by the heartbeat. Must be called before Start.
func (p *Publisher) SetMember(member types.Member) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.member = member.Normalize()
}

// Start publishes the first heartbeat synchronously, then keeps publishing
// in the background until Stop.
//
// Returns:
//   - error: ErrAlreadyStarted if running, ErrNoMember if no member is set,
//     or the error of the first publish
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if !p.member.ID.IsValid() {
		return ErrNoMember
	}

	if err := p.publishLocked(ctx); err != nil {
		p.metrics.RecordHeartbeat(p.member.ID, false)
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}
	p.metrics.RecordHeartbeat(p.member.ID, true)

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.publishLoop(p.stopCh, p.doneCh)

	p.logger.Debug("heartbeat publisher started", "member_id", p.member.ID, "interval", p.interval)

	return nil
}

// Stop stops publishing and deletes the heartbeat key.
//
// Deleting the key announces a graceful leave instead of waiting for the
// TTL to expire. Blocks until the publisher goroutine exits.
//
// Returns:
//   - error: ErrNotStarted if not running, or the delete error
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.started = false
	close(p.stopCh)
	doneCh := p.doneCh
	id := p.member.ID
	p.mu.Unlock()

	<-doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.kv.Delete(ctx, KeyFor(p.prefix, id)); err != nil {
		return fmt.Errorf("stopped but failed to delete heartbeat: %w", err)
	}
	p.logger.Debug("heartbeat publisher stopped", "member_id", id)

	return nil
}

func (p *Publisher) publishLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.mu.Lock()
			err := p.publishLocked(ctx)
			id := p.member.ID
			p.mu.Unlock()
			cancel()

			p.metrics.RecordHeartbeat(id, err == nil)
			if err != nil {
				p.logger.Warn("heartbeat publish failed", "member_id", id, "error", err)
			}
		}
	}
}

func (p *Publisher) publishLocked(ctx context.Context) error {
	p.seq++
	value, err := json.Marshal(Beat{Member: p.member, Seq: p.seq, PublishedAt: time.Now()})
	if err != nil {
		return err
	}

	if _, err := p.kv.Put(ctx, KeyFor(p.prefix, p.member.ID), value); err != nil {
		return fmt.Errorf("failed to publish heartbeat for %d: %w", p.member.ID, err)
	}

	return nil
}

// Member returns the advertised member.
func (p *Publisher) Member() types.Member {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.member
}

// IsStarted returns whether the publisher is currently running.
func (p *Publisher) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}
