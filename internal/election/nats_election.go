package election

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/types"
)

// Common errors for election operations.
var (
	ErrNotLeader       = errors.New("not the senior member")
	ErrLeadershipLost  = errors.New("seniority was lost")
	ErrInvalidDuration = errors.New("invalid lease duration")
)

// DefaultKey is the KV key holding the senior member's lease.
const DefaultKey = "senior"

// lease is the value stored under the election key.
type lease struct {
	Member    types.MemberID `json:"member"`
	RenewedAt time.Time      `json:"renewedAt"`
}

// NATSElection elects the senior member using a NATS KV key.
//
// Uses atomic KV operations:
//   - Create: acquire seniority if the key doesn't exist
//   - Update (with revision): renew while still holding the lease
//   - Delete: release seniority
//
// The key expires with the bucket TTL, so a crashed senior is replaced
// automatically.
type NATSElection struct {
	kv  jetstream.KeyValue
	key string

	mu       sync.RWMutex
	member   types.MemberID
	revision uint64
	isLeader bool
}

var _ types.ElectionAgent = (*NATSElection)(nil)

// NewNATSElection creates a new NATS KV-based election agent.
//
// Parameters:
//   - kv: JetStream KV bucket with a short TTL (e.g., 10-30s)
//   - key: Key name for the lease (DefaultKey when empty)
//
// Returns:
//   - *NATSElection: New election agent instance
func NewNATSElection(kv jetstream.KeyValue, key string) *NATSElection {
	if key == "" {
		key = DefaultKey
	}

	return &NATSElection{kv: kv, key: key}
}

// RequestLeadership attempts to acquire or keep seniority.
//
// A holder renews its lease; anyone else tries an atomic Create, which
// only succeeds once the previous lease was released or expired.
//
// Parameters:
//   - ctx: Context for timeout
//   - member: The member requesting seniority
//   - leaseDuration: Lease duration in seconds (the bucket TTL enforces it)
//
// Returns:
//   - bool: true if seniority is held after the call
//   - error: Election error or context cancellation
func (e *NATSElection) RequestLeadership(ctx context.Context, member types.MemberID, leaseDuration int64) (bool, error) {
	if leaseDuration <= 0 {
		return false, ErrInvalidDuration
	}
	if !member.IsValid() {
		return false, fmt.Errorf("%w: %d", types.ErrInvalidMember, member)
	}

	isLeader, current, _ := e.state()
	if isLeader && current == member {
		if err := e.RenewLeadership(ctx); err == nil {
			return true, nil
		}
	}

	value, err := encodeLease(member)
	if err != nil {
		return false, err
	}

	revision, err := e.kv.Create(ctx, e.key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create senior key: %w", err)
	}

	e.setState(true, member, revision)

	return true, nil
}

// RenewLeadership renews the current lease with a revision-checked Update.
//
// Returns:
//   - error: ErrNotLeader if not senior, ErrLeadershipLost if the lease was taken
func (e *NATSElection) RenewLeadership(ctx context.Context) error {
	isLeader, member, revision := e.state()
	if !isLeader {
		return ErrNotLeader
	}

	value, err := encodeLease(member)
	if err != nil {
		return err
	}

	newRevision, err := e.kv.Update(ctx, e.key, value, revision)
	if err != nil {
		e.clear()

		return fmt.Errorf("%w: %w", ErrLeadershipLost, err)
	}

	e.mu.Lock()
	e.revision = newRevision
	e.mu.Unlock()

	return nil
}

// ReleaseLeadership deletes the lease so another member can take over at once.
func (e *NATSElection) ReleaseLeadership(ctx context.Context) error {
	isLeader, _, _ := e.state()
	if !isLeader {
		return ErrNotLeader
	}

	if err := e.kv.Delete(ctx, e.key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete senior key: %w", err)
	}

	e.setState(false, types.NoMember, 0)

	return nil
}

// IsLeader verifies against the KV that this member still holds the lease.
func (e *NATSElection) IsLeader(ctx context.Context) (bool, error) {
	isLeader, _, revision := e.state()
	if !isLeader {
		return false, nil
	}

	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			e.clear()
			return false, nil
		}

		return false, fmt.Errorf("failed to get senior key: %w", err)
	}

	if entry.Revision() != revision {
		e.clear()
		return false, nil
	}

	return true, nil
}

// Senior returns the member currently holding the lease, or NoMember.
func (e *NATSElection) Senior(ctx context.Context) (types.MemberID, error) {
	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.NoMember, nil
		}

		return types.NoMember, fmt.Errorf("failed to get senior key: %w", err)
	}

	var l lease
	if err := json.Unmarshal(entry.Value(), &l); err != nil {
		return types.NoMember, fmt.Errorf("invalid senior lease: %w", err)
	}

	return l.Member, nil
}

func encodeLease(member types.MemberID) ([]byte, error) {
	value, err := json.Marshal(lease{Member: member, RenewedAt: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lease: %w", err)
	}

	return value, nil
}

func (e *NATSElection) state() (isLeader bool, member types.MemberID, revision uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isLeader, e.member, e.revision
}

func (e *NATSElection) setState(isLeader bool, member types.MemberID, revision uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isLeader = isLeader
	e.member = member
	e.revision = revision
}

func (e *NATSElection) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isLeader = false
}
