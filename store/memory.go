package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/custodian/types"
)

// MemoryManager is an in-process StoreManager.
//
// It keeps a token catalog in a concurrent map; store contents are a byte
// slice per store. Timestamps are strictly increasing even when the clock
// does not advance between two CreateStore calls.
type MemoryManager struct {
	member atomic.Int32
	now    func() time.Time
	last   atomic.Int64
	stores *xsync.Map[types.RecoveryToken, *memoryStore]
}

type memoryStore struct {
	mu    sync.Mutex
	data  []byte
	opens int
}

var _ types.StoreManager = (*MemoryManager)(nil)

// MemoryOption configures a MemoryManager.
type MemoryOption func(*MemoryManager)

// WithClock overrides the clock used to stamp new tokens.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryManager creates an empty in-process store manager.
//
// Parameters:
//   - member: Member stamped on new tokens (may be NoMember and set later)
//   - opts: Optional clock
//
// Returns:
//   - *MemoryManager: New manager
//
// Example:
//
//	mgr := store.NewMemoryManager(memberID)
//	token, err := mgr.CreateStore(ctx, 7)
func NewMemoryManager(member types.MemberID, opts ...MemoryOption) *MemoryManager {
	m := &MemoryManager{
		now:    time.Now,
		stores: xsync.NewMap[types.RecoveryToken, *memoryStore](),
	}
	m.member.Store(int32(member))
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetMember sets the member stamped on stores created from now on.
//
// Existing stores keep their creator; a restarted process holds the stores
// of its previous incarnation.
func (m *MemoryManager) SetMember(id types.MemberID) {
	m.member.Store(int32(id))
}

// CreateStore creates an empty store for the partition.
func (m *MemoryManager) CreateStore(_ context.Context, partition int) (types.RecoveryToken, error) {
	member := types.MemberID(m.member.Load())
	if !member.IsValid() {
		return types.RecoveryToken{}, ErrNoMember
	}
	if partition < 0 {
		return types.RecoveryToken{}, fmt.Errorf("%w: %d", types.ErrInvalidPartition, partition)
	}

	token := types.RecoveryToken{Partition: partition, Member: member, Timestamp: m.stamp()}
	m.stores.Store(token, &memoryStore{})

	return token, nil
}

// stamp returns the clock in Unix nanoseconds, bumped past the last stamp.
func (m *MemoryManager) stamp() int64 {
	for {
		last := m.last.Load()
		ts := m.now().UnixNano()
		if ts <= last {
			ts = last + 1
		}
		if m.last.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

// Adopt registers an existing store, e.g. one restored from a backup.
func (m *MemoryManager) Adopt(token types.RecoveryToken, data []byte) {
	m.stores.Store(token, &memoryStore{data: slices.Clone(data)})
}

// ListStores returns every held token sorted by partition then timestamp.
func (m *MemoryManager) ListStores(_ context.Context) ([]types.RecoveryToken, error) {
	tokens := make([]types.RecoveryToken, 0, m.stores.Size())
	m.stores.Range(func(t types.RecoveryToken, _ *memoryStore) bool {
		tokens = append(tokens, t)
		return true
	})
	slices.SortFunc(tokens, func(a, b types.RecoveryToken) int {
		if a.Partition != b.Partition {
			return a.Partition - b.Partition
		}

		return a.Compare(b)
	})

	return tokens, nil
}

// OpenStore opens a held store.
func (m *MemoryManager) OpenStore(_ context.Context, token types.RecoveryToken) (types.StoreHandle, error) {
	s, ok := m.stores.Load(token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrStoreNotFound, token)
	}

	s.mu.Lock()
	s.opens++
	s.mu.Unlock()

	return &MemoryHandle{token: token, store: s}, nil
}

// DeleteStore destroys a held store.
func (m *MemoryManager) DeleteStore(_ context.Context, token types.RecoveryToken) error {
	if _, ok := m.stores.LoadAndDelete(token); !ok {
		return fmt.Errorf("%w: %s", types.ErrStoreNotFound, token)
	}

	return nil
}

// OpenHandles returns how many handles of the store are open.
func (m *MemoryManager) OpenHandles(token types.RecoveryToken) int {
	s, ok := m.stores.Load(token)
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opens
}

// Len returns the number of held stores.
func (m *MemoryManager) Len() int {
	return m.stores.Size()
}

// MemoryHandle is an opened MemoryManager store.
type MemoryHandle struct {
	token  types.RecoveryToken
	store  *memoryStore
	closed atomic.Bool
}

var _ types.StoreHandle = (*MemoryHandle)(nil)

// Token returns the store token.
func (h *MemoryHandle) Token() types.RecoveryToken {
	return h.token
}

// Data returns a copy of the store contents.
func (h *MemoryHandle) Data() []byte {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	return slices.Clone(h.store.data)
}

// Write replaces the store contents.
func (h *MemoryHandle) Write(data []byte) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.data = slices.Clone(data)
}

// Close releases the handle. Closing twice is a no-op.
func (h *MemoryHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.store.mu.Lock()
		h.store.opens--
		h.store.mu.Unlock()
	}

	return nil
}
