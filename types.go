package custodian

import "github.com/arloliu/custodian/types"

// Re-export types from the internal types package.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the `types`
// subpackage, which internal packages depend on without importing the root
// package.
type (
	State           = types.State
	MemberID        = types.MemberID
	Member          = types.Member
	Topology        = types.Topology
	OwnershipRecord = types.OwnershipRecord
	PartitionState  = types.PartitionState
	HAStatus        = types.HAStatus
	ActionClass     = types.ActionClass
	Scope           = types.Scope
	QuorumRule      = types.QuorumRule
	RecoveryToken   = types.RecoveryToken
	RecoveryReport  = types.RecoveryReport
	QuorumInfo      = types.QuorumInfo
)

// Re-export interfaces from the internal types package for convenience.
type (
	StoreManager      = types.StoreManager
	StoreHandle       = types.StoreHandle
	TokenSource       = types.TokenSource
	QuorumInfoStore   = types.QuorumInfoStore
	PlacementStrategy = types.PlacementStrategy
	ElectionAgent     = types.ElectionAgent
	MetricsCollector  = types.MetricsCollector
	Logger            = types.Logger
	Hooks             = types.Hooks
)

// Re-export State constants from the internal types package.
const (
	StateInit       = types.StateInit
	StateRecovering = types.StateRecovering
	StateRunning    = types.StateRunning
	StateSuspended  = types.StateSuspended
	StateShutdown   = types.StateShutdown
)

// Re-export HAStatus constants from the internal types package.
const (
	HAEndangered  = types.HAEndangered
	HANodeSafe    = types.HANodeSafe
	HAMachineSafe = types.HAMachineSafe
	HARackSafe    = types.HARackSafe
	HASiteSafe    = types.HASiteSafe
)

// Re-export ActionClass constants from the internal types package.
const (
	ActionDistribute = types.ActionDistribute
	ActionRestore    = types.ActionRestore
	ActionRead       = types.ActionRead
	ActionWrite      = types.ActionWrite
	ActionBackup     = types.ActionBackup
	ActionRecover    = types.ActionRecover
)

// NoMember marks an empty ownership slot.
const NoMember = types.NoMember

// ParseQuorumRule parses the textual form of a quorum rule, e.g. ("write", "site", "50%").
func ParseQuorumRule(action, scope, threshold string) (QuorumRule, error) {
	return types.ParseQuorumRule(action, scope, threshold)
}

// ParseRecoveryToken decodes a token produced by RecoveryToken.String.
func ParseRecoveryToken(s string) (RecoveryToken, error) {
	return types.ParseRecoveryToken(s)
}

// NewTopology creates an immutable topology snapshot.
func NewTopology(version uint64, members ...Member) *Topology {
	return types.NewTopology(version, members...)
}
