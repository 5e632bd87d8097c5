package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the custodian library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).
//
// Error Naming Convention:
//   - Use descriptive names with Err prefix
//   - Group by component (Service, Ownership, Quorum, Recovery, etc.)
//   - Use consistent messages across similar error types

// Service errors - Public API errors returned by the Service and Node.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNATSConnectionRequired is returned when NATS connection is nil.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrAlreadyStarted is returned when Start is called on an already running service.
	ErrAlreadyStarted = errors.New("service already started")

	// ErrNotStarted is returned when operations require a started service.
	ErrNotStarted = errors.New("service not started")

	// ErrServiceSuspended is returned for gated operations while the service is suspended.
	ErrServiceSuspended = errors.New("service suspended")

	// ErrNotSenior is returned for ownership mutations on a member that is not senior.
	ErrNotSenior = errors.New("member is not the ownership senior")

	// ErrPersistenceDisabled is returned by recovery operations when persistence is off.
	ErrPersistenceDisabled = errors.New("persistence not enabled")

	// ErrConnectivity indicates a NATS/KV connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrIDClaimFailed is returned when member ID claiming fails.
	ErrIDClaimFailed = errors.New("failed to claim member ID")

	// ErrElectionFailed is returned when senior election fails.
	ErrElectionFailed = errors.New("senior election failed")
)

// Ownership errors - Ownership map and coordinator errors.
var (
	// ErrConcurrentModification is matched by *ConcurrentModificationError.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrInvalidPartition is returned for a partition outside [0, partitionCount).
	ErrInvalidPartition = errors.New("invalid partition")

	// ErrInvalidSlot is returned for a backup slot outside [0, backupCount).
	ErrInvalidSlot = errors.New("invalid backup slot")

	// ErrInvalidMember is returned for a malformed member id.
	ErrInvalidMember = errors.New("invalid member")

	// ErrMemberNotEligible is returned when the target member is not live and ownership-enabled.
	ErrMemberNotEligible = errors.New("member not eligible for ownership")

	// ErrDuplicateHolder is returned when a mutation would place a member twice in one record.
	ErrDuplicateHolder = errors.New("member already holds a copy")

	// ErrStaleRecord is returned when an ownership delta is older than the current record.
	ErrStaleRecord = errors.New("stale ownership record")

	// ErrNoEligibleMember is returned when placement finds no candidate.
	ErrNoEligibleMember = errors.New("no eligible member")

	// ErrPartitionOrphaned is returned by access checks on a partition without a primary.
	ErrPartitionOrphaned = errors.New("partition orphaned")
)

// Quorum errors - Quorum policy errors.
var (
	// ErrQuorumViolation is matched by *QuorumViolationError.
	ErrQuorumViolation = errors.New("quorum violation")

	// ErrInvalidQuorumRule is returned for a malformed quorum rule.
	ErrInvalidQuorumRule = errors.New("invalid quorum rule")

	// ErrInvalidRecoverySpec is returned for a malformed recovery quorum spec.
	ErrInvalidRecoverySpec = errors.New("invalid recovery quorum spec")
)

// Recovery errors - Persistence recovery errors.
var (
	// ErrNoActiveRecovery is returned by ForceRecovery when no episode is in progress.
	ErrNoActiveRecovery = errors.New("no active recovery episode")

	// ErrOrphanedPartitionTimeout is matched by *OrphanedPartitionTimeoutError.
	ErrOrphanedPartitionTimeout = errors.New("orphaned partition timeout")

	// ErrInconsistentRecoveryToken is matched by *InconsistentRecoveryTokenError.
	ErrInconsistentRecoveryToken = errors.New("inconsistent recovery token")

	// ErrInvalidRecoveryToken is returned when a token cannot be decoded.
	ErrInvalidRecoveryToken = errors.New("invalid recovery token")

	// ErrStoreNotFound is returned when a store manager has no store for a token.
	ErrStoreNotFound = errors.New("store not found")
)

// Membership errors - Membership monitor errors.
var (
	// ErrMonitorAlreadyStarted is returned when Start is called on an already running monitor.
	ErrMonitorAlreadyStarted = errors.New("membership monitor already started")

	// ErrMonitorAlreadyStopped is returned when Start is called on a stopped monitor.
	ErrMonitorAlreadyStopped = errors.New("membership monitor already stopped")

	// ErrMonitorNotStarted is returned when Stop is called before Start.
	ErrMonitorNotStarted = errors.New("membership monitor not started")
)

// Common errors - Shared errors used across multiple components.
var (
	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// QuorumViolationError reports an action attempted while a quorum rule is unmet.
//
// It is recoverable: the caller should retry after membership changes.
type QuorumViolationError struct {
	Action ActionClass
	Rule   QuorumRule
	Have   int
	Need   int
}

// Error implements error.
func (e *QuorumViolationError) Error() string {
	return fmt.Sprintf("quorum violation: %s not allowed, rule %s has %d of %d", e.Action, e.Rule, e.Have, e.Need)
}

// Is matches ErrQuorumViolation.
func (e *QuorumViolationError) Is(target error) bool {
	return target == ErrQuorumViolation
}

// ConcurrentModificationError reports an optimistic version mismatch.
type ConcurrentModificationError struct {
	Partition int
	Expected  uint64
	Actual    uint64
}

// Error implements error.
func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of partition %d: expected version %d, actual %d",
		e.Partition, e.Expected, e.Actual)
}

// Is matches ErrConcurrentModification.
func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// OrphanedPartitionTimeoutError reports a recovery episode that outlived its wait.
type OrphanedPartitionTimeoutError struct {
	EpisodeID string
	Orphans   int
	Waited    time.Duration
	Joined    int
	Quorum    int
}

// Error implements error.
func (e *OrphanedPartitionTimeoutError) Error() string {
	return fmt.Sprintf("recovery episode %s: %d partitions still orphaned after %v (joined %d, quorum %d)",
		e.EpisodeID, e.Orphans, e.Waited, e.Joined, e.Quorum)
}

// Is matches ErrOrphanedPartitionTimeout.
func (e *OrphanedPartitionTimeoutError) Is(target error) bool {
	return target == ErrOrphanedPartitionTimeout
}

// InconsistentRecoveryTokenError reports a token discarded during collection.
type InconsistentRecoveryTokenError struct {
	Token    RecoveryToken
	Reporter MemberID
	Reason   string
}

// Error implements error.
func (e *InconsistentRecoveryTokenError) Error() string {
	return fmt.Sprintf("inconsistent recovery token %s from member %d: %s", e.Token, e.Reporter, e.Reason)
}

// Is matches ErrInconsistentRecoveryToken.
func (e *InconsistentRecoveryTokenError) Is(target error) bool {
	return target == ErrInconsistentRecoveryToken
}

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}
