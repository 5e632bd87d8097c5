package quorum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/custodian/types"
)

func topologyOf(n int) *types.Topology {
	members := make([]types.Member, n)
	for i := range members {
		members[i] = types.Member{ID: types.MemberID(i + 1), OwnershipEnabled: true}
	}

	return types.NewTopology(uint64(n), members...)
}

func mustRule(t *testing.T, action, scope, threshold string) types.QuorumRule {
	t.Helper()

	r, err := types.ParseQuorumRule(action, scope, threshold)
	require.NoError(t, err)

	return r
}

func TestReadWriteGating(t *testing.T) {
	rules := []types.QuorumRule{
		mustRule(t, "read", "", "3"),
		mustRule(t, "write", "", "5"),
	}
	p, err := NewPolicy(rules, topologyOf(5))
	require.NoError(t, err)

	tests := []struct {
		members   int
		readOK    bool
		writeOK   bool
		violation string
	}{
		{1, false, false, "read[members] >= 3"},
		{2, false, false, "read[members] >= 3"},
		{3, true, false, ""},
		{4, true, false, ""},
		{5, true, true, ""},
		{8, true, true, ""},
	}

	for _, tt := range tests {
		topo := topologyOf(tt.members)
		require.Equal(t, tt.readOK, p.Evaluate(types.ActionRead, topo), "read with %d members", tt.members)
		require.Equal(t, tt.writeOK, p.Evaluate(types.ActionWrite, topo), "write with %d members", tt.members)

		err := p.Assert(types.ActionRead, topo)
		if tt.readOK {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, types.ErrQuorumViolation)
			require.Contains(t, err.Error(), tt.violation)
		}
	}

	t.Run("dropping below threshold disallows on next evaluation", func(t *testing.T) {
		require.True(t, p.Evaluate(types.ActionWrite, topologyOf(5)))
		require.False(t, p.Evaluate(types.ActionWrite, topologyOf(5).WithoutMember(6, 5)))
	})
}

func TestUnconfiguredActionsAllowed(t *testing.T) {
	p, err := NewPolicy([]types.QuorumRule{mustRule(t, "write", "", "5")}, nil)
	require.NoError(t, err)

	for _, a := range []types.ActionClass{types.ActionRead, types.ActionBackup, types.ActionRestore, types.ActionDistribute} {
		require.True(t, p.Evaluate(a, types.EmptyTopology()), "%s has no rule", a)
	}
	require.True(t, EmptyPolicy().Evaluate(types.ActionWrite, types.EmptyTopology()))
}

func TestPercentageUsesConfigurationBaseline(t *testing.T) {
	rule := mustRule(t, "distribute", "", "50%")

	p, err := NewPolicy([]types.QuorumRule{rule}, topologyOf(5))
	require.NoError(t, err)

	need, ok := p.Required(types.ActionDistribute, types.AllMembers)
	require.True(t, ok)
	require.Equal(t, 3, need, "ceil(0.5 × 5)")

	require.False(t, p.Evaluate(types.ActionDistribute, topologyOf(2)))
	require.True(t, p.Evaluate(types.ActionDistribute, topologyOf(3)))
	// Growth after configuration does not move the threshold.
	need, _ = p.Required(types.ActionDistribute, types.AllMembers)
	require.True(t, p.Evaluate(types.ActionDistribute, topologyOf(10)))
	require.Equal(t, 3, need)
}

func TestPercentageExactProductNotRoundedUp(t *testing.T) {
	p, err := NewPolicy([]types.QuorumRule{mustRule(t, "read", "", "30%")}, topologyOf(10))
	require.NoError(t, err)

	need, _ := p.Required(types.ActionRead, types.AllMembers)
	require.Equal(t, 3, need, "0.3 × 10 is exactly 3 despite float error")
}

func TestConjunctionOfRules(t *testing.T) {
	sites := types.NewTopology(1,
		types.Member{ID: 1, Site: "a"},
		types.Member{ID: 2, Site: "a"},
		types.Member{ID: 3, Site: "a"},
	)

	p, err := NewPolicy([]types.QuorumRule{
		mustRule(t, "write", "", "3"),
		mustRule(t, "write", "site", "2"),
	}, sites)
	require.NoError(t, err)

	require.False(t, p.Evaluate(types.ActionWrite, sites), "members rule passes but site rule fails")

	err = p.Assert(types.ActionWrite, sites)
	var qv *types.QuorumViolationError
	require.ErrorAs(t, err, &qv)
	require.Equal(t, types.SiteScope, qv.Rule.Scope)
	require.Equal(t, 1, qv.Have)
	require.Equal(t, 2, qv.Need)
	require.Len(t, p.Unmet(types.ActionWrite, sites), 1)

	twoSites := sites.WithMember(2, types.Member{ID: 4, Site: "b"})
	require.True(t, p.Evaluate(types.ActionWrite, twoSites))
}

func TestWithRuleReplacesSameScope(t *testing.T) {
	p, err := NewPolicy([]types.QuorumRule{mustRule(t, "read", "", "3")}, nil)
	require.NoError(t, err)

	p2, err := p.WithRule(mustRule(t, "read", "", "1"), nil)
	require.NoError(t, err)
	require.Len(t, p2.Rules(), 1)
	require.True(t, p2.Evaluate(types.ActionRead, topologyOf(1)))
	require.False(t, p.Evaluate(types.ActionRead, topologyOf(1)), "original policy is unchanged")

	p3, removed := p2.WithoutRule(types.ActionRead, types.AllMembers)
	require.True(t, removed)
	require.Empty(t, p3.Rules())

	_, removed = p3.WithoutRule(types.ActionRead, types.AllMembers)
	require.False(t, removed)

	_, err = p.WithRule(types.QuorumRule{Action: types.ActionRead, Kind: types.ThresholdPercentage, Value: 2}, nil)
	require.ErrorIs(t, err, types.ErrInvalidQuorumRule)
}

func TestVerdicts(t *testing.T) {
	p, err := NewPolicy([]types.QuorumRule{mustRule(t, "backup", "machine", "2")}, nil)
	require.NoError(t, err)

	v := p.Verdicts(topologyOf(4))
	require.Len(t, v, len(types.AllActionClasses))
	require.False(t, v[types.ActionBackup], "all members share the n/a machine")
	require.True(t, v[types.ActionRead])
}
