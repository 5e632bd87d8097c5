package types

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecoveryToken identifies a persisted partition store.
//
// The token is an identifier and sort key only: it records which partition
// the store belongs to, which member created it, and when.
type RecoveryToken struct {
	// Partition is the partition the store holds.
	Partition int `json:"partition"`

	// Member is the owner at creation time.
	Member MemberID `json:"member"`

	// Timestamp is the creation time in Unix nanoseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewRecoveryToken creates a token stamped with the given time.
func NewRecoveryToken(partition int, member MemberID, at time.Time) RecoveryToken {
	return RecoveryToken{Partition: partition, Member: member, Timestamp: at.UnixNano()}
}

// Time returns the creation time.
func (t RecoveryToken) Time() time.Time {
	return time.Unix(0, t.Timestamp)
}

// String encodes the token as "<timestamp:016x>-<partition>-<member>".
//
// The fixed-width hex timestamp prefix makes lexicographic order of encoded
// tokens match timestamp order.
func (t RecoveryToken) String() string {
	return fmt.Sprintf("%016x-%d-%d", uint64(t.Timestamp), t.Partition, t.Member) //nolint:gosec // validated non-negative
}

// Validate checks field ranges independent of any service configuration.
func (t RecoveryToken) Validate() error {
	if t.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidRecoveryToken, t.Timestamp)
	}
	if t.Partition < 0 {
		return fmt.Errorf("%w: negative partition %d", ErrInvalidRecoveryToken, t.Partition)
	}
	if !t.Member.IsValid() {
		return fmt.Errorf("%w: invalid member %d", ErrInvalidRecoveryToken, t.Member)
	}

	return nil
}

// ParseRecoveryToken decodes a token produced by RecoveryToken.String.
//
// Parameters:
//   - s: Encoded token
//
// Returns:
//   - RecoveryToken: Decoded token
//   - error: ErrInvalidRecoveryToken wrapped with details
func ParseRecoveryToken(s string) (RecoveryToken, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || len(parts[0]) != 16 {
		return RecoveryToken{}, fmt.Errorf("%w: malformed token %q", ErrInvalidRecoveryToken, s)
	}

	ts, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil || ts > 1<<63-1 {
		return RecoveryToken{}, fmt.Errorf("%w: bad timestamp in %q", ErrInvalidRecoveryToken, s)
	}

	partition, err := strconv.Atoi(parts[1])
	if err != nil {
		return RecoveryToken{}, fmt.Errorf("%w: bad partition in %q", ErrInvalidRecoveryToken, s)
	}

	member, err := ParseMemberID(parts[2])
	if err != nil {
		return RecoveryToken{}, fmt.Errorf("%w: bad member in %q", ErrInvalidRecoveryToken, s)
	}

	t := RecoveryToken{Partition: partition, Member: member, Timestamp: int64(ts)}
	if err := t.Validate(); err != nil {
		return RecoveryToken{}, err
	}

	return t, nil
}

// Compare orders tokens by timestamp, then partition, then member.
func (t RecoveryToken) Compare(other RecoveryToken) int {
	if c := cmp.Compare(t.Timestamp, other.Timestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Partition, other.Partition); c != 0 {
		return c
	}

	return cmp.Compare(t.Member, other.Member)
}

// Supersedes reports whether t should win recovery over other for the same partition.
//
// The later timestamp wins; equal timestamps go to the lower member id.
func (t RecoveryToken) Supersedes(other RecoveryToken) bool {
	if t.Timestamp != other.Timestamp {
		return t.Timestamp > other.Timestamp
	}

	return t.Member < other.Member
}
