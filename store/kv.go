package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/internal/kvutil"
	"github.com/arloliu/custodian/types"
)

// Key layout inside the store bucket.
const (
	storesPrefix = "stores."
	tokensPrefix = "tokens."

	// DefaultQuorumInfoKey holds the last-known-healthy membership.
	DefaultQuorumInfoKey = "quorum-info"
)

// KVOption configures the KV-backed implementations.
type KVOption func(*kvOptions)

type kvOptions struct {
	metrics kvutil.LatencyRecorder
	now     func() time.Time
}

// WithKVMetrics records KV operation latency.
func WithKVMetrics(m types.MemberMetrics) KVOption {
	return func(o *kvOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithKVClock overrides the clock used to stamp new tokens.
func WithKVClock(now func() time.Time) KVOption {
	return func(o *kvOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func newKVOptions(opts []KVOption) kvOptions {
	o := kvOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

type storeRecord struct {
	Token     types.RecoveryToken `json:"token"`
	Owner     string              `json:"owner"`
	CreatedAt time.Time           `json:"createdAt"`
}

// KVManager is a StoreManager that keeps its store catalog in NATS KV.
//
// Stores are catalogued under "stores.<owner>.<token>". The owner names the
// durable storage (a host or volume name) and outlives member incarnations,
// so a restarted process finds the stores of its previous incarnation.
type KVManager struct {
	kv     jetstream.KeyValue
	owner  string
	opts   kvOptions
	member atomic.Int32
	last   atomic.Int64
}

var _ types.StoreManager = (*KVManager)(nil)

// NewKVManager creates a KV-backed store manager.
//
// Parameters:
//   - kv: Store bucket (no TTL)
//   - owner: Durable storage name, letters, digits, '-' and '_' only
//   - opts: Optional metrics and clock
//
// Returns:
//   - *KVManager: New manager
//   - error: ErrInvalidOwner for an unusable owner name
func NewKVManager(kv jetstream.KeyValue, owner string, opts ...KVOption) (*KVManager, error) {
	if !validOwner(owner) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}

	return &KVManager{kv: kv, owner: owner, opts: newKVOptions(opts)}, nil
}

// SetMember sets the member stamped on stores created from now on.
func (m *KVManager) SetMember(id types.MemberID) {
	m.member.Store(int32(id))
}

// Owner returns the durable storage name.
func (m *KVManager) Owner() string {
	return m.owner
}

// CreateStore catalogues a new store for the partition.
func (m *KVManager) CreateStore(ctx context.Context, partition int) (types.RecoveryToken, error) {
	member := types.MemberID(m.member.Load())
	if !member.IsValid() {
		return types.RecoveryToken{}, ErrNoMember
	}
	if partition < 0 {
		return types.RecoveryToken{}, fmt.Errorf("%w: %d", types.ErrInvalidPartition, partition)
	}

	now := m.opts.now()
	ts := now.UnixNano()
	for {
		last := m.last.Load()
		if ts <= last {
			ts = last + 1
		}
		if m.last.CompareAndSwap(last, ts) {
			break
		}
	}

	token := types.RecoveryToken{Partition: partition, Member: member, Timestamp: ts}
	rec := storeRecord{Token: token, Owner: m.owner, CreatedAt: now}
	if _, err := kvutil.PutJSON(ctx, m.kv, m.key(token), rec, m.opts.metrics); err != nil {
		return types.RecoveryToken{}, err
	}

	return token, nil
}

// ListStores returns the catalogued tokens sorted by partition then timestamp.
//
// Keys that do not decode as tokens are skipped.
func (m *KVManager) ListStores(ctx context.Context) ([]types.RecoveryToken, error) {
	prefix := storesPrefix + m.owner + "."
	keys, err := kvutil.ListKeys(ctx, m.kv, prefix, m.opts.metrics)
	if err != nil {
		return nil, err
	}

	tokens := make([]types.RecoveryToken, 0, len(keys))
	for _, key := range keys {
		token, err := types.ParseRecoveryToken(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		tokens = append(tokens, token)
	}
	slices.SortFunc(tokens, func(a, b types.RecoveryToken) int {
		if a.Partition != b.Partition {
			return a.Partition - b.Partition
		}

		return a.Compare(b)
	})

	return tokens, nil
}

// OpenStore checks the catalog and returns a handle.
func (m *KVManager) OpenStore(ctx context.Context, token types.RecoveryToken) (types.StoreHandle, error) {
	var rec storeRecord
	found, err := kvutil.GetJSON(ctx, m.kv, m.key(token), &rec, m.opts.metrics)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", types.ErrStoreNotFound, token)
	}

	return &KVHandle{token: token, createdAt: rec.CreatedAt}, nil
}

// DeleteStore removes the store from the catalog.
func (m *KVManager) DeleteStore(ctx context.Context, token types.RecoveryToken) error {
	return kvutil.Delete(ctx, m.kv, m.key(token), m.opts.metrics)
}

func (m *KVManager) key(token types.RecoveryToken) string {
	return storesPrefix + m.owner + "." + token.String()
}

// KVHandle is an opened KVManager store.
type KVHandle struct {
	token     types.RecoveryToken
	createdAt time.Time
}

var _ types.StoreHandle = (*KVHandle)(nil)

// Token returns the store token.
func (h *KVHandle) Token() types.RecoveryToken { return h.token }

// CreatedAt returns when the store was catalogued.
func (h *KVHandle) CreatedAt() time.Time { return h.createdAt }

// Close is a no-op; the catalog holds no per-handle resources.
func (h *KVHandle) Close() error { return nil }

type tokenReport struct {
	Member      types.MemberID        `json:"member"`
	Tokens      []types.RecoveryToken `json:"tokens"`
	PublishedAt time.Time             `json:"publishedAt"`
}

// KVTokenSource exchanges self-reported token lists through NATS KV.
//
// Every member publishes the tokens it holds under "tokens.<member>"; the
// senior reads them during recovery.
type KVTokenSource struct {
	kv   jetstream.KeyValue
	opts kvOptions
}

var _ types.TokenSource = (*KVTokenSource)(nil)

// NewKVTokenSource creates a KV-backed token source.
func NewKVTokenSource(kv jetstream.KeyValue, opts ...KVOption) *KVTokenSource {
	return &KVTokenSource{kv: kv, opts: newKVOptions(opts)}
}

// Publish stores the member's own token list.
func (s *KVTokenSource) Publish(ctx context.Context, member types.MemberID, tokens []types.RecoveryToken) error {
	report := tokenReport{Member: member, Tokens: tokens, PublishedAt: s.opts.now()}
	if report.Tokens == nil {
		report.Tokens = []types.RecoveryToken{}
	}
	_, err := kvutil.PutJSON(ctx, s.kv, tokensPrefix+member.String(), report, s.opts.metrics)

	return err
}

// Withdraw removes the member's token list.
func (s *KVTokenSource) Withdraw(ctx context.Context, member types.MemberID) error {
	return kvutil.Delete(ctx, s.kv, tokensPrefix+member.String(), s.opts.metrics)
}

// ReportTokens returns the list the member published.
//
// The reporter is the member named inside the published value, so a list
// stored under another member's key surfaces as an inconsistent report.
//
// Returns:
//   - types.TokenReport: Published tokens and their reporter
//   - error: ErrUnknownMember when the member has not published yet
func (s *KVTokenSource) ReportTokens(ctx context.Context, member types.MemberID) (types.TokenReport, error) {
	var report tokenReport
	found, err := kvutil.GetJSON(ctx, s.kv, tokensPrefix+member.String(), &report, s.opts.metrics)
	if err != nil {
		return types.TokenReport{}, err
	}
	if !found {
		return types.TokenReport{}, fmt.Errorf("%w: %d", ErrUnknownMember, member)
	}

	return types.TokenReport{Reporter: report.Member, Tokens: report.Tokens}, nil
}

// KVQuorumInfo persists QuorumInfo under one KV key.
type KVQuorumInfo struct {
	kv   jetstream.KeyValue
	key  string
	opts kvOptions
}

var _ types.QuorumInfoStore = (*KVQuorumInfo)(nil)

// NewKVQuorumInfo creates a KV-backed QuorumInfoStore using DefaultQuorumInfoKey.
func NewKVQuorumInfo(kv jetstream.KeyValue, opts ...KVOption) *KVQuorumInfo {
	return &KVQuorumInfo{kv: kv, key: DefaultQuorumInfoKey, opts: newKVOptions(opts)}
}

// LoadQuorumInfo returns the saved info.
func (q *KVQuorumInfo) LoadQuorumInfo(ctx context.Context) (types.QuorumInfo, bool, error) {
	var info types.QuorumInfo
	found, err := kvutil.GetJSON(ctx, q.kv, q.key, &info, q.opts.metrics)
	if err != nil {
		return types.QuorumInfo{}, false, err
	}

	return info, found, nil
}

// SaveQuorumInfo replaces the saved info.
func (q *KVQuorumInfo) SaveQuorumInfo(ctx context.Context, info types.QuorumInfo) error {
	if _, err := kvutil.PutJSON(ctx, q.kv, q.key, info, q.opts.metrics); err != nil {
		return fmt.Errorf("failed to save quorum info: %w", err)
	}

	return nil
}

func validOwner(owner string) bool {
	if owner == "" {
		return false
	}
	for _, r := range owner {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}

	return true
}

// IsUnknownMember reports whether err means a member has not published tokens yet.
func IsUnknownMember(err error) bool {
	return errors.Is(err, ErrUnknownMember)
}
