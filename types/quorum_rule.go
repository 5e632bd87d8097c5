package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionClass is a class of operations gated by quorum rules.
type ActionClass int

const (
	// ActionDistribute covers moving owned partitions between members.
	ActionDistribute ActionClass = iota

	// ActionRestore covers giving orphaned partitions a new primary.
	ActionRestore

	// ActionRead covers client reads.
	ActionRead

	// ActionWrite covers client writes.
	ActionWrite

	// ActionBackup covers creating and moving backup copies.
	ActionBackup

	// ActionRecover covers reassigning orphans from persisted stores.
	ActionRecover
)

// AllActionClasses lists every action class in declaration order.
var AllActionClasses = []ActionClass{
	ActionDistribute, ActionRestore, ActionRead, ActionWrite, ActionBackup, ActionRecover,
}

// String returns the lower-case configuration name of the action class.
func (a ActionClass) String() string {
	switch a {
	case ActionDistribute:
		return "distribute"
	case ActionRestore:
		return "restore"
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionBackup:
		return "backup"
	case ActionRecover:
		return "recover"
	default:
		return "unknown"
	}
}

// ParseActionClass parses the configuration name of an action class.
func ParseActionClass(s string) (ActionClass, error) {
	for _, a := range AllActionClasses {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown action class %q", ErrInvalidQuorumRule, s)
}

// ScopeKind selects what a quorum rule counts.
type ScopeKind int

const (
	// ScopeAllMembers counts live members.
	ScopeAllMembers ScopeKind = iota

	// ScopeRole counts live members with a given role.
	ScopeRole

	// ScopeMachine counts distinct machines.
	ScopeMachine

	// ScopeRack counts distinct racks.
	ScopeRack

	// ScopeSite counts distinct sites.
	ScopeSite
)

// Scope is the population a quorum rule measures.
//
// Role is only meaningful for ScopeRole.
type Scope struct {
	Kind ScopeKind
	Role string
}

// Common scopes.
var (
	AllMembers   = Scope{Kind: ScopeAllMembers}
	MachineScope = Scope{Kind: ScopeMachine}
	RackScope    = Scope{Kind: ScopeRack}
	SiteScope    = Scope{Kind: ScopeSite}
)

// RoleScope returns a scope counting members with the given role.
func RoleScope(role string) Scope {
	return Scope{Kind: ScopeRole, Role: role}
}

// String returns the configuration form of the scope ("members", "role=R", "machine", "rack", "site").
func (s Scope) String() string {
	switch s.Kind {
	case ScopeAllMembers:
		return "members"
	case ScopeRole:
		return "role=" + s.Role
	case ScopeMachine:
		return "machine"
	case ScopeRack:
		return "rack"
	case ScopeSite:
		return "site"
	default:
		return "unknown"
	}
}

// ParseScope parses the configuration form of a scope.
//
// An empty string selects all members.
func ParseScope(s string) (Scope, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); {
	case v == "" || v == "members" || v == "all":
		return AllMembers, nil
	case v == "machine":
		return MachineScope, nil
	case v == "rack":
		return RackScope, nil
	case v == "site":
		return SiteScope, nil
	case strings.HasPrefix(v, "role="):
		role := strings.TrimSpace(s)[len("role="):]
		if role == "" {
			return Scope{}, fmt.Errorf("%w: empty role in scope %q", ErrInvalidQuorumRule, s)
		}

		return RoleScope(role), nil
	default:
		return Scope{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidQuorumRule, s)
	}
}

// ThresholdKind selects how a rule's value is interpreted.
type ThresholdKind int

const (
	// ThresholdAbsolute requires a minimum count.
	ThresholdAbsolute ThresholdKind = iota

	// ThresholdPercentage requires a fraction of the scope measured at configuration time.
	ThresholdPercentage
)

// QuorumRule gates an action class on a minimum count within a scope.
//
// For ThresholdPercentage, Value is a fraction in (0, 1].
type QuorumRule struct {
	Action ActionClass
	Scope  Scope
	Kind   ThresholdKind
	Value  float64
}

// Validate checks the rule's value range.
func (r QuorumRule) Validate() error {
	switch r.Kind {
	case ThresholdAbsolute:
		if r.Value < 0 || r.Value != float64(int(r.Value)) {
			return fmt.Errorf("%w: absolute threshold must be a non-negative integer, got %v", ErrInvalidQuorumRule, r.Value)
		}
	case ThresholdPercentage:
		if r.Value <= 0 || r.Value > 1 {
			return fmt.Errorf("%w: percentage threshold must be in (0%%, 100%%], got %v", ErrInvalidQuorumRule, r.Value*100)
		}
	default:
		return fmt.Errorf("%w: unknown threshold kind %d", ErrInvalidQuorumRule, r.Kind)
	}

	if r.Scope.Kind == ScopeRole && r.Scope.Role == "" {
		return fmt.Errorf("%w: role scope without role", ErrInvalidQuorumRule)
	}

	return nil
}

// Threshold returns the configuration form of the rule's value ("5" or "50%").
func (r QuorumRule) Threshold() string {
	if r.Kind == ThresholdPercentage {
		return strconv.FormatFloat(r.Value*100, 'f', -1, 64) + "%"
	}

	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// String returns a description such as "write[site] >= 50%".
func (r QuorumRule) String() string {
	return fmt.Sprintf("%s[%s] >= %s", r.Action, r.Scope, r.Threshold())
}

// ParseQuorumRule builds a rule from its textual parts.
//
// Parameters:
//   - action: Action class name ("read", "write", ...)
//   - scope: Scope ("members", "role=storage", "machine", "rack", "site")
//   - threshold: Absolute count ("3") or percentage ("50%")
//
// Returns:
//   - QuorumRule: Parsed and validated rule
//   - error: ErrInvalidQuorumRule wrapped with details
//
// Example:
//
//	rule, err := types.ParseQuorumRule("write", "site", "50%")
func ParseQuorumRule(action, scope, threshold string) (QuorumRule, error) {
	a, err := ParseActionClass(action)
	if err != nil {
		return QuorumRule{}, err
	}

	s, err := ParseScope(scope)
	if err != nil {
		return QuorumRule{}, err
	}

	rule := QuorumRule{Action: a, Scope: s}

	t := strings.TrimSpace(threshold)
	if pct, ok := strings.CutSuffix(t, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return QuorumRule{}, fmt.Errorf("%w: bad percentage %q", ErrInvalidQuorumRule, threshold)
		}
		rule.Kind = ThresholdPercentage
		rule.Value = v / 100
	} else {
		v, err := strconv.Atoi(t)
		if err != nil {
			return QuorumRule{}, fmt.Errorf("%w: bad threshold %q", ErrInvalidQuorumRule, threshold)
		}
		rule.Kind = ThresholdAbsolute
		rule.Value = float64(v)
	}

	if err := rule.Validate(); err != nil {
		return QuorumRule{}, err
	}

	return rule, nil
}
