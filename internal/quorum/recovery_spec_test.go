package quorum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/custodian/types"
)

func TestParseRecoverySpec(t *testing.T) {
	tests := []struct {
		in       string
		kind     RecoverySpecKind
		count    int
		fraction float64
		str      string
	}{
		{"", RecoveryDefault, 0, 0, "default"},
		{"default", RecoveryDefault, 0, 0, "default"},
		{"0", RecoveryDefault, 0, 0, "default"},
		{"3", RecoveryAbsolute, 3, 0, "3"},
		{" 7 ", RecoveryAbsolute, 7, 0, "7"},
		{"33%", RecoveryPercentage, 0, 0.33, "33%"},
		{"100%", RecoveryPercentage, 0, 1, "100%"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, err := ParseRecoverySpec(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.kind, s.Kind)
			require.Equal(t, tt.count, s.Count)
			require.InDelta(t, tt.fraction, s.Fraction, 1e-12)
			require.Equal(t, tt.str, s.String())
		})
	}

	for _, bad := range []string{"-1", "abc", "101%", "-5%", "x%", "1.5"} {
		_, err := ParseRecoverySpec(bad)
		require.ErrorIs(t, err, types.ErrInvalidRecoverySpec, bad)
	}
}

func TestRecoverySpecResolve(t *testing.T) {
	parse := func(s string) RecoverySpec {
		spec, err := ParseRecoverySpec(s)
		require.NoError(t, err)

		return spec
	}

	tests := []struct {
		name       string
		spec       string
		lastKnown  int
		partitions int
		rounding   Rounding
		want       int
	}{
		{"default of six", "0", 6, 271, RoundCeil, 4},
		{"default ignores floor", "default", 4, 271, RoundFloor, 3},
		{"absolute", "3", 6, 271, RoundCeil, 3},
		{"absolute above last known", "9", 6, 271, RoundCeil, 9},
		{"percentage ceil", "33%", 6, 271, RoundCeil, 2},
		{"percentage floor", "33%", 6, 271, RoundFloor, 1},
		{"percentage exact", "50%", 6, 271, RoundFloor, 3},
		{"zero percent", "0%", 6, 271, RoundCeil, 1},
		{"no history", "default", 0, 271, RoundCeil, 1},
		{"default capped by partitions", "default", 30, 4, RoundCeil, 4},
		{"percentage capped by partitions", "100%", 30, 8, RoundCeil, 8},
		{"absolute not capped", "12", 30, 8, RoundCeil, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, parse(tt.spec).Resolve(tt.lastKnown, tt.partitions, tt.rounding))
		})
	}
}

func TestRecoverySpecMachineMinimum(t *testing.T) {
	tests := []struct {
		spec    string
		lastMin int
		want    int
	}{
		{"default", 3, 2},
		{"default", 4, 2},
		{"default", 1, 0},
		{"5", 6, 4},
		{"75%", 4, 3},
		{"50%", 3, 1},
		{"0%", 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			spec, err := ParseRecoverySpec(tt.spec)
			require.NoError(t, err)
			require.Equal(t, tt.want, spec.MachineMinimum(tt.lastMin), "last minimum %d", tt.lastMin)
		})
	}
}

func TestParseRounding(t *testing.T) {
	r, err := ParseRounding("")
	require.NoError(t, err)
	require.Equal(t, RoundCeil, r)

	r, err = ParseRounding("FLOOR")
	require.NoError(t, err)
	require.Equal(t, RoundFloor, r)
	require.Equal(t, "floor", r.String())

	_, err = ParseRounding("nearest")
	require.ErrorIs(t, err, types.ErrInvalidRecoverySpec)
}
