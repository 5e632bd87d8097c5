package store

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/custodian/types"
)

// MemorySource is an in-process TokenSource over registered store managers.
//
// Each member registers its own StoreManager; a report lists that manager's
// stores, which keeps reports self-reported.
type MemorySource struct {
	managers *xsync.Map[types.MemberID, types.StoreManager]
}

var _ types.TokenSource = (*MemorySource)(nil)

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{managers: xsync.NewMap[types.MemberID, types.StoreManager]()}
}

// Register makes a member's stores reportable.
func (s *MemorySource) Register(member types.MemberID, manager types.StoreManager) {
	s.managers.Store(member, manager)
}

// Unregister removes a member, e.g. when its process stops.
func (s *MemorySource) Unregister(member types.MemberID) {
	s.managers.Delete(member)
}

// ReportTokens lists the stores of the member's registered manager.
//
// Returns:
//   - types.TokenReport: Tokens the member holds
//   - error: ErrUnknownMember when the member never registered
func (s *MemorySource) ReportTokens(ctx context.Context, member types.MemberID) (types.TokenReport, error) {
	manager, ok := s.managers.Load(member)
	if !ok {
		return types.TokenReport{}, fmt.Errorf("%w: %d", ErrUnknownMember, member)
	}

	tokens, err := manager.ListStores(ctx)
	if err != nil {
		return types.TokenReport{}, err
	}

	return types.TokenReport{Reporter: member, Tokens: tokens}, nil
}

// MemoryQuorumInfo is an in-process QuorumInfoStore.
type MemoryQuorumInfo struct {
	mu    sync.Mutex
	info  types.QuorumInfo
	saved bool
}

var _ types.QuorumInfoStore = (*MemoryQuorumInfo)(nil)

// NewMemoryQuorumInfo creates an empty store.
func NewMemoryQuorumInfo() *MemoryQuorumInfo {
	return &MemoryQuorumInfo{}
}

// LoadQuorumInfo returns the saved info.
func (q *MemoryQuorumInfo) LoadQuorumInfo(_ context.Context) (types.QuorumInfo, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info := q.info
	info.Members = append([]types.MemberID(nil), q.info.Members...)
	info.Machines = maps.Clone(q.info.Machines)

	return info, q.saved, nil
}

// SaveQuorumInfo replaces the saved info.
func (q *MemoryQuorumInfo) SaveQuorumInfo(_ context.Context, info types.QuorumInfo) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.info = info
	q.info.Members = append([]types.MemberID(nil), info.Members...)
	q.info.Machines = maps.Clone(info.Machines)
	q.saved = true

	return nil
}
