package types

import (
	"context"
	"time"
)

// StoreHandle is an opened persisted partition store.
type StoreHandle interface {
	// Token returns the token of the opened store.
	Token() RecoveryToken

	// Close releases the handle.
	Close() error
}

// StoreManager is the pluggable storage engine of one member.
//
// The byte-level store format is opaque to this library; only the recovery
// tokens matter for ownership recovery.
type StoreManager interface {
	// CreateStore persists a new store for the partition owned by this member.
	//
	// Returns:
	//   - RecoveryToken: Token identifying the new store
	//   - error: Storage error
	CreateStore(ctx context.Context, partition int) (RecoveryToken, error)

	// ListStores returns the tokens of every store this member physically holds.
	ListStores(ctx context.Context) ([]RecoveryToken, error)

	// OpenStore opens the store identified by the token.
	OpenStore(ctx context.Context, token RecoveryToken) (StoreHandle, error)

	// DeleteStore destroys the store identified by the token.
	DeleteStore(ctx context.Context, token RecoveryToken) error
}

// TokenReport is a member's self-reported list of the stores it holds.
type TokenReport struct {
	// Reporter is the member that produced the list.
	Reporter MemberID

	// Tokens are the stores the reporter holds.
	Tokens []RecoveryToken
}

// TokenSource reports, per member, the recovery tokens that member holds.
//
// Reports must be self-reported: a source only returns tokens the member
// itself listed from its own StoreManager. A report whose Reporter is not
// the member asked for is inconsistent, and recovery discards its tokens.
type TokenSource interface {
	ReportTokens(ctx context.Context, member MemberID) (TokenReport, error)
}

// QuorumInfo is the last membership seen while every partition was owned.
//
// Machines counts the members per MachineKey. It is nil when a member had no
// machine label, which disables the per-machine recovery check.
type QuorumInfo struct {
	MemberCount int            `json:"memberCount"`
	Members     []MemberID     `json:"members"`
	Machines    map[string]int `json:"machines,omitempty"`
	SavedAt     time.Time      `json:"savedAt"`
}

// QuorumInfoStore persists QuorumInfo across service restarts.
type QuorumInfoStore interface {
	// LoadQuorumInfo returns the saved info; ok is false when nothing was saved.
	LoadQuorumInfo(ctx context.Context) (info QuorumInfo, ok bool, err error)

	// SaveQuorumInfo replaces the saved info.
	SaveQuorumInfo(ctx context.Context, info QuorumInfo) error
}
