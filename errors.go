package custodian

import "github.com/arloliu/custodian/types"

// Sentinel errors returned by the Service and Node.
//
// They alias the definitions in the types package so errors.Is works no
// matter which package the caller imports.
var (
	ErrInvalidConfig          = types.ErrInvalidConfig
	ErrNATSConnectionRequired = types.ErrNATSConnectionRequired
	ErrAlreadyStarted         = types.ErrAlreadyStarted
	ErrNotStarted             = types.ErrNotStarted
	ErrServiceSuspended       = types.ErrServiceSuspended
	ErrNotSenior              = types.ErrNotSenior
	ErrPersistenceDisabled    = types.ErrPersistenceDisabled
	ErrIDClaimFailed          = types.ErrIDClaimFailed
	ErrElectionFailed         = types.ErrElectionFailed

	ErrConcurrentModification = types.ErrConcurrentModification
	ErrInvalidPartition       = types.ErrInvalidPartition
	ErrInvalidSlot            = types.ErrInvalidSlot
	ErrInvalidMember          = types.ErrInvalidMember
	ErrMemberNotEligible      = types.ErrMemberNotEligible
	ErrDuplicateHolder        = types.ErrDuplicateHolder
	ErrStaleRecord            = types.ErrStaleRecord
	ErrNoEligibleMember       = types.ErrNoEligibleMember
	ErrPartitionOrphaned      = types.ErrPartitionOrphaned

	ErrQuorumViolation     = types.ErrQuorumViolation
	ErrInvalidQuorumRule   = types.ErrInvalidQuorumRule
	ErrInvalidRecoverySpec = types.ErrInvalidRecoverySpec

	ErrNoActiveRecovery          = types.ErrNoActiveRecovery
	ErrOrphanedPartitionTimeout  = types.ErrOrphanedPartitionTimeout
	ErrInconsistentRecoveryToken = types.ErrInconsistentRecoveryToken
	ErrInvalidRecoveryToken      = types.ErrInvalidRecoveryToken
	ErrStoreNotFound             = types.ErrStoreNotFound
)

// Structured error types; match them with errors.As.
type (
	QuorumViolationError           = types.QuorumViolationError
	ConcurrentModificationError    = types.ConcurrentModificationError
	OrphanedPartitionTimeoutError  = types.OrphanedPartitionTimeoutError
	InconsistentRecoveryTokenError = types.InconsistentRecoveryTokenError
)
