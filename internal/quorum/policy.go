package quorum

import (
	"math"
	"slices"

	"github.com/arloliu/custodian/types"
)

// epsilon absorbs float error in fraction × count before rounding.
const epsilon = 1e-9

// resolvedRule is a rule with its required count fixed.
type resolvedRule struct {
	rule types.QuorumRule
	need int
}

// Policy is an immutable, resolved set of quorum rules.
type Policy struct {
	rules []resolvedRule
}

// NewPolicy resolves rules against the baseline topology.
//
// Parameters:
//   - rules: Rules to configure; each is validated
//   - baseline: Topology at configuration time, used for percentage rules
//
// Returns:
//   - *Policy: Resolved policy
//   - error: ErrInvalidQuorumRule wrapped with details
func NewPolicy(rules []types.QuorumRule, baseline *types.Topology) (*Policy, error) {
	p := &Policy{rules: make([]resolvedRule, 0, len(rules))}
	for _, r := range rules {
		next, err := p.WithRule(r, baseline)
		if err != nil {
			return nil, err
		}
		p = next
	}

	return p, nil
}

// EmptyPolicy returns a policy without rules; every action is allowed.
func EmptyPolicy() *Policy {
	return &Policy{}
}

// WithRule returns a new policy with the rule added, replacing any rule
// with the same action and scope. Other rules keep their resolved counts.
func (p *Policy) WithRule(r types.QuorumRule, baseline *types.Topology) (*Policy, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	resolved := resolvedRule{rule: r, need: required(r, baseline)}

	rules := slices.Clone(p.rules)
	idx := slices.IndexFunc(rules, func(rr resolvedRule) bool {
		return rr.rule.Action == r.Action && rr.rule.Scope == r.Scope
	})
	if idx >= 0 {
		rules[idx] = resolved
	} else {
		rules = append(rules, resolved)
	}

	return &Policy{rules: rules}, nil
}

// WithoutRule returns a new policy without the rule for action and scope.
//
// Returns:
//   - *Policy: New policy (p itself when nothing matched)
//   - bool: true if a rule was removed
func (p *Policy) WithoutRule(action types.ActionClass, scope types.Scope) (*Policy, bool) {
	idx := slices.IndexFunc(p.rules, func(rr resolvedRule) bool {
		return rr.rule.Action == action && rr.rule.Scope == scope
	})
	if idx < 0 {
		return p, false
	}

	return &Policy{rules: slices.Delete(slices.Clone(p.rules), idx, idx+1)}, true
}

// Rules returns the configured rules in configuration order.
func (p *Policy) Rules() []types.QuorumRule {
	out := make([]types.QuorumRule, len(p.rules))
	for i, rr := range p.rules {
		out[i] = rr.rule
	}

	return out
}

// Required returns the resolved count for the rule with the given action and scope.
func (p *Policy) Required(action types.ActionClass, scope types.Scope) (int, bool) {
	for _, rr := range p.rules {
		if rr.rule.Action == action && rr.rule.Scope == scope {
			return rr.need, true
		}
	}

	return 0, false
}

// Evaluate reports whether every rule for the action is satisfied.
func (p *Policy) Evaluate(action types.ActionClass, topo *types.Topology) bool {
	for _, rr := range p.rules {
		if rr.rule.Action == action && topo.CountInScope(rr.rule.Scope) < rr.need {
			return false
		}
	}

	return true
}

// Assert returns a violation naming the first unmet rule for the action.
//
// Returns:
//   - error: *types.QuorumViolationError, nil if allowed
func (p *Policy) Assert(action types.ActionClass, topo *types.Topology) error {
	for _, rr := range p.rules {
		if rr.rule.Action != action {
			continue
		}
		if have := topo.CountInScope(rr.rule.Scope); have < rr.need {
			return &types.QuorumViolationError{Action: action, Rule: rr.rule, Have: have, Need: rr.need}
		}
	}

	return nil
}

// Unmet returns every unmet rule for the action.
func (p *Policy) Unmet(action types.ActionClass, topo *types.Topology) []*types.QuorumViolationError {
	var out []*types.QuorumViolationError
	for _, rr := range p.rules {
		if rr.rule.Action != action {
			continue
		}
		if have := topo.CountInScope(rr.rule.Scope); have < rr.need {
			out = append(out, &types.QuorumViolationError{Action: action, Rule: rr.rule, Have: have, Need: rr.need})
		}
	}

	return out
}

// Verdicts evaluates every action class.
func (p *Policy) Verdicts(topo *types.Topology) map[types.ActionClass]bool {
	out := make(map[types.ActionClass]bool, len(types.AllActionClasses))
	for _, a := range types.AllActionClasses {
		out[a] = p.Evaluate(a, topo)
	}

	return out
}

// required resolves the count a rule demands.
func required(r types.QuorumRule, baseline *types.Topology) int {
	if r.Kind == types.ThresholdAbsolute {
		return int(r.Value)
	}
	if baseline == nil {
		return 0
	}

	return int(math.Ceil(r.Value*float64(baseline.CountInScope(r.Scope)) - epsilon))
}
