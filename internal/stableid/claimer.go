// Package stableid claims cluster-unique member ids from a NATS KV bucket.
package stableid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/types"
	"github.com/nats-io/nats.go/jetstream"
)

// Common errors returned by the claimer.
var (
	ErrNoAvailableID = errors.New("no available member ID in pool")
	ErrNotClaimed    = errors.New("member ID not claimed")
	ErrAlreadyClosed = errors.New("claimer already closed")
)

// hintKey stores where the next claim starts scanning. It rotates ids so a
// restarted process is unlikely to reuse the id of its previous incarnation.
const hintKey = "next"

// claimRecord is the value stored under a claimed id's key.
type claimRecord struct {
	Member    types.MemberID `json:"member"`
	ClaimedAt time.Time      `json:"claimedAt"`
	RenewedAt time.Time      `json:"renewedAt"`
}

// Claimer handles member ID claiming and renewal.
//
// It uses NATS KV for atomic ID claiming with TTL-based leases. A claim scans
// the pool starting after the last claimed id and wraps around, creating the
// first free "member.<id>" key.
type Claimer struct {
	kv    jetstream.KeyValue
	minID types.MemberID
	maxID types.MemberID
	ttl   time.Duration

	mu        sync.Mutex
	memberID  types.MemberID
	claimedAt time.Time
	renewing  bool
	closed    bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	logger types.Logger
}

// NewClaimer creates a new member ID claimer.
//
// Parameters:
//   - kv: NATS KV bucket for member IDs
//   - minID: Minimum ID (inclusive, at least 1)
//   - maxID: Maximum ID (inclusive)
//   - ttl: TTL of the bucket; claims are renewed every ttl/3
//   - logger: Logger for debug output (nil for no logging)
//
// Returns:
//   - *Claimer: New claimer instance
//
// Example:
//
//	claimer := stableid.NewClaimer(kv, 1, 1024, 30*time.Second, logger)
//	id, err := claimer.Claim(ctx)
func NewClaimer(kv jetstream.KeyValue, minID, maxID types.MemberID, ttl time.Duration, logger types.Logger) *Claimer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if minID < 1 {
		minID = 1
	}

	return &Claimer{
		kv:     kv,
		minID:  minID,
		maxID:  maxID,
		ttl:    ttl,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// Claim claims a free member ID from the pool.
//
// Uses NATS KV Create for atomic claiming; racing claimers for one id are
// resolved by the KV, and the loser moves on to the next id.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - types.MemberID: Claimed member ID
//   - error: ErrNoAvailableID if pool exhausted, context error, or NATS error
func (c *Claimer) Claim(ctx context.Context) (types.MemberID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.NoMember, ErrAlreadyClosed
	}
	if c.memberID.IsValid() {
		return c.memberID, nil
	}
	if c.maxID < c.minID {
		return types.NoMember, ErrNoAvailableID
	}

	start := c.loadHint(ctx)
	poolSize := int(c.maxID-c.minID) + 1
	c.logger.Debug("member ID claim starting", "min", c.minID, "max", c.maxID, "start", start, "ttl", c.ttl)

	for attempt := range poolSize {
		select {
		case <-ctx.Done():
			c.logger.Debug("member ID claim cancelled", "tried_ids", attempt)
			return types.NoMember, ctx.Err()
		default:
		}

		id := c.minID + types.MemberID((int(start-c.minID)+attempt)%poolSize) //nolint:gosec // bounded by pool size
		now := time.Now()
		value, err := json.Marshal(claimRecord{Member: id, ClaimedAt: now, RenewedAt: now})
		if err != nil {
			return types.NoMember, fmt.Errorf("failed to encode claim: %w", err)
		}

		revision, err := c.kv.Create(ctx, KeyForID(id), value)
		if err == nil {
			c.memberID = id
			c.claimedAt = now
			c.storeHint(ctx, id)
			c.logger.Info("member ID claimed", "member_id", id, "revision", revision, "attempts", attempt+1)

			return id, nil
		}

		if !errors.Is(err, jetstream.ErrKeyExists) {
			c.logger.Error("member ID claim failed with unexpected error", "member_id", id, "error", err)
			return types.NoMember, fmt.Errorf("failed to claim ID %d: %w", id, err)
		}
	}

	c.logger.Error("no available member IDs in pool", "min", c.minID, "max", c.maxID, "pool_size", poolSize)

	return types.NoMember, ErrNoAvailableID
}

// loadHint returns the id the scan starts at. Hint errors fall back to minID.
func (c *Claimer) loadHint(ctx context.Context) types.MemberID {
	entry, err := c.kv.Get(ctx, hintKey)
	if err != nil {
		return c.minID
	}

	v, err := strconv.ParseInt(string(entry.Value()), 10, 32)
	if err != nil || types.MemberID(v) < c.minID || types.MemberID(v) > c.maxID {
		return c.minID
	}

	return types.MemberID(v)
}

func (c *Claimer) storeHint(ctx context.Context, claimed types.MemberID) {
	next := claimed + 1
	if next > c.maxID {
		next = c.minID
	}

	if _, err := c.kv.Put(ctx, hintKey, []byte(next.String())); err != nil {
		c.logger.Debug("failed to store claim hint", "error", err)
	}
}

// StartRenewal starts background renewal of the claimed ID.
//
// Renews the claim every ttl/3. The context bounds renewal operations and
// stops the loop when cancelled; Release stops it gracefully.
//
// Returns:
//   - error: ErrNotClaimed if no ID is claimed, ErrAlreadyClosed after Close
func (c *Claimer) StartRenewal(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrAlreadyClosed
	}
	if !c.memberID.IsValid() {
		return ErrNotClaimed
	}
	if c.renewing {
		return nil
	}
	c.renewing = true

	go c.renewalLoop(ctx)

	return nil
}

func (c *Claimer) renewalLoop(ctx context.Context) {
	defer close(c.doneCh)

	interval := c.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.renew(ctx); err != nil {
				c.logger.Warn("member ID renewal failed", "member_id", c.MemberID(), "error", err)
			}
		}
	}
}

// renew rewrites the claim to restart its TTL.
func (c *Claimer) renew(ctx context.Context) error {
	c.mu.Lock()
	id, claimedAt := c.memberID, c.claimedAt
	c.mu.Unlock()

	if !id.IsValid() {
		return ErrNotClaimed
	}

	value, err := json.Marshal(claimRecord{Member: id, ClaimedAt: claimedAt, RenewedAt: time.Now()})
	if err != nil {
		return err
	}

	// Put overwrites regardless of revision so a renewal after a brief KV
	// outage still restores the lease.
	if _, err := c.kv.Put(ctx, KeyForID(id), value); err != nil {
		return fmt.Errorf("failed to renew ID %d: %w", id, err)
	}

	return nil
}

// Release stops renewal and deletes the claim so the id can be reused.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: ErrNotClaimed if nothing is claimed, or the KV delete error
func (c *Claimer) Release(ctx context.Context) error {
	c.mu.Lock()
	id := c.memberID
	if !id.IsValid() {
		c.mu.Unlock()
		return ErrNotClaimed
	}
	renewing := c.renewing
	c.stopLocked()
	c.mu.Unlock()

	if renewing {
		select {
		case <-c.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}

	if err := c.kv.Delete(ctx, KeyForID(id)); err != nil {
		return fmt.Errorf("failed to delete ID %d: %w", id, err)
	}

	c.mu.Lock()
	c.memberID = types.NoMember
	c.mu.Unlock()

	c.logger.Info("member ID released", "member_id", id)

	return nil
}

// Close stops renewal without deleting the claim; it expires with the TTL.
func (c *Claimer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Claimer) stopLocked() {
	if !c.closed {
		c.closed = true
		close(c.stopCh)
	}
}

// MemberID returns the currently claimed member ID, or NoMember.
func (c *Claimer) MemberID() types.MemberID {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.memberID
}

// KeyForID returns the KV key of a member id claim.
func KeyForID(id types.MemberID) string {
	return "member." + id.String()
}
