package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQuorumRule(t *testing.T) {
	tests := []struct {
		action, scope, threshold string
		want                     QuorumRule
	}{
		{"read", "", "3", QuorumRule{Action: ActionRead, Scope: AllMembers, Kind: ThresholdAbsolute, Value: 3}},
		{"WRITE", "members", "5", QuorumRule{Action: ActionWrite, Scope: AllMembers, Kind: ThresholdAbsolute, Value: 5}},
		{"distribute", "site", "50%", QuorumRule{Action: ActionDistribute, Scope: SiteScope, Kind: ThresholdPercentage, Value: 0.5}},
		{"backup", "role=storage", "2", QuorumRule{Action: ActionBackup, Scope: RoleScope("storage"), Kind: ThresholdAbsolute, Value: 2}},
		{"restore", "machine", "100%", QuorumRule{Action: ActionRestore, Scope: MachineScope, Kind: ThresholdPercentage, Value: 1}},
		{"recover", "rack", "0", QuorumRule{Action: ActionRecover, Scope: RackScope, Kind: ThresholdAbsolute, Value: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			got, err := ParseQuorumRule(tt.action, tt.scope, tt.threshold)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseQuorumRuleErrors(t *testing.T) {
	tests := []struct {
		name                     string
		action, scope, threshold string
	}{
		{"unknown action", "delete", "", "1"},
		{"unknown scope", "read", "planet", "1"},
		{"empty role", "read", "role=", "1"},
		{"bad number", "read", "", "three"},
		{"fractional percentage over 100", "read", "", "150%"},
		{"zero percentage", "read", "", "0%"},
		{"negative absolute", "read", "", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuorumRule(tt.action, tt.scope, tt.threshold)
			require.ErrorIs(t, err, ErrInvalidQuorumRule)
		})
	}
}

func TestQuorumRuleString(t *testing.T) {
	rule := QuorumRule{Action: ActionWrite, Scope: RoleScope("storage"), Kind: ThresholdPercentage, Value: 0.25}
	require.Equal(t, "write[role=storage] >= 25%", rule.String())

	abs := QuorumRule{Action: ActionRead, Scope: AllMembers, Kind: ThresholdAbsolute, Value: 3}
	require.Equal(t, "read[members] >= 3", abs.String())
}

func TestActionClassRoundTrip(t *testing.T) {
	for _, a := range AllActionClasses {
		parsed, err := ParseActionClass(a.String())
		require.NoError(t, err)
		require.Equal(t, a, parsed)
	}
}

func TestScopeRoundTrip(t *testing.T) {
	for _, s := range []Scope{AllMembers, MachineScope, RackScope, SiteScope, RoleScope("Cache")} {
		parsed, err := ParseScope(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
}
