package quorum

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/arloliu/custodian/types"
)

// Rounding selects how fractional recovery quorums become counts.
type Rounding int

const (
	// RoundCeil rounds up (default).
	RoundCeil Rounding = iota

	// RoundFloor rounds down.
	RoundFloor
)

// String returns the configuration name of the rounding mode.
func (r Rounding) String() string {
	if r == RoundFloor {
		return "floor"
	}

	return "ceil"
}

// ParseRounding parses "ceil" or "floor"; empty selects RoundCeil.
func ParseRounding(s string) (Rounding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ceil":
		return RoundCeil, nil
	case "floor":
		return RoundFloor, nil
	default:
		return RoundCeil, fmt.Errorf("%w: unknown rounding %q", types.ErrInvalidRecoverySpec, s)
	}
}

// RecoverySpecKind identifies the form of a recovery quorum spec.
type RecoverySpecKind int

const (
	// RecoveryDefault is two thirds of the last known healthy member count.
	RecoveryDefault RecoverySpecKind = iota

	// RecoveryAbsolute is a fixed member count.
	RecoveryAbsolute

	// RecoveryPercentage is a fraction of the last known healthy member count.
	RecoveryPercentage
)

// RecoverySpec is a parsed recovery quorum spec.
type RecoverySpec struct {
	Kind RecoverySpecKind

	// Count is the member count for RecoveryAbsolute.
	Count int

	// Fraction is in [0, 1] for RecoveryPercentage.
	Fraction float64

	raw string
}

// ParseRecoverySpec parses "default", "0" or "" (two thirds), an absolute
// integer such as "3", or a percentage such as "33%".
//
// Parameters:
//   - s: Spec string from configuration
//
// Returns:
//   - RecoverySpec: Parsed spec
//   - error: ErrInvalidRecoverySpec wrapped with details
func ParseRecoverySpec(s string) (RecoverySpec, error) {
	v := strings.TrimSpace(s)

	switch strings.ToLower(v) {
	case "", "default", "0":
		return RecoverySpec{Kind: RecoveryDefault, raw: "default"}, nil
	}

	if pct, ok := strings.CutSuffix(v, "%"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || f < 0 || f > 100 {
			return RecoverySpec{}, fmt.Errorf("%w: percentage %q must be within 0%%..100%%", types.ErrInvalidRecoverySpec, s)
		}

		return RecoverySpec{Kind: RecoveryPercentage, Fraction: f / 100, raw: v}, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return RecoverySpec{}, fmt.Errorf("%w: %q is not default, a member count or a percentage", types.ErrInvalidRecoverySpec, s)
	}

	return RecoverySpec{Kind: RecoveryAbsolute, Count: n, raw: v}, nil
}

// String returns the spec as configured.
func (s RecoverySpec) String() string {
	if s.raw == "" {
		return "default"
	}

	return s.raw
}

// Resolve converts the spec into cQuorum, the member count recovery waits for.
//
// Rules:
//   - default: ceil(lastKnown × 2/3), independent of rounding
//   - percentage: fraction × lastKnown, rounded per rounding
//   - absolute: the configured count
//   - default and percentage results are capped at partitionCount when it is positive
//   - every result is at least 1
//
// Parameters:
//   - lastKnown: Last known healthy ownership-enabled member count
//   - partitionCount: Partitions of the service
//   - rounding: Rounding for percentage specs
//
// Returns:
//   - int: Resolved recovery quorum (>= 1)
func (s RecoverySpec) Resolve(lastKnown, partitionCount int, rounding Rounding) int {
	var q int

	switch s.Kind {
	case RecoveryAbsolute:
		q = s.Count
	case RecoveryPercentage:
		q = round(s.Fraction*float64(lastKnown), rounding)
		q = capAt(q, partitionCount)
	default:
		q = round(float64(lastKnown)*2/3, RoundCeil)
		q = capAt(q, partitionCount)
	}

	return max(q, 1)
}

// MachineMinimum is the member count the least loaded machine must keep
// for recovery when stores are not shared between machines.
//
// It is floor(fraction × lastMin) for a non-zero percentage spec and
// floor(lastMin × 2/3) otherwise.
//
// Parameters:
//   - lastMin: Member count of the least loaded machine in the last known
//     healthy membership
//
// Returns:
//   - int: Minimum member count per machine
func (s RecoverySpec) MachineMinimum(lastMin int) int {
	if s.Kind == RecoveryPercentage && s.Fraction > 0 {
		return round(s.Fraction*float64(lastMin), RoundFloor)
	}

	return lastMin * 2 / 3
}

func round(x float64, r Rounding) int {
	if r == RoundFloor {
		return int(math.Floor(x + epsilon))
	}

	return int(math.Ceil(x - epsilon))
}

func capAt(q, limit int) int {
	if limit > 0 && q > limit {
		return limit
	}

	return q
}
