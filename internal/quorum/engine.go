package quorum

import (
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/types"
)

// DefaultReportInterval is how often a disallowed action class is logged.
const DefaultReportInterval = time.Minute

// Engine holds the active Policy and reports disallowed actions.
//
// Configure, SetRule and RemoveRule are called by the single writer;
// Evaluate, Assert and Verdicts are safe from any goroutine.
type Engine struct {
	policy         atomic.Pointer[Policy]
	logger         types.Logger
	reportInterval time.Duration
	lastReport     *xsync.Map[types.ActionClass, time.Time]
	now            func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for disallowed-action reports.
func WithLogger(logger types.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithReportInterval sets the minimum time between reports per action class.
func WithReportInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.reportInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine with an empty policy.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:         logging.NewNop(),
		reportInterval: DefaultReportInterval,
		lastReport:     xsync.NewMap[types.ActionClass, time.Time](),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.policy.Store(EmptyPolicy())

	return e
}

// Configure replaces all rules, resolving percentages against baseline.
func (e *Engine) Configure(rules []types.QuorumRule, baseline *types.Topology) error {
	p, err := NewPolicy(rules, baseline)
	if err != nil {
		return err
	}
	e.policy.Store(p)
	e.lastReport.Clear()
	e.logger.Info("quorum policy configured", "rules", len(rules), "baseline_members", sizeOf(baseline))

	return nil
}

// Rebase resolves the percentage thresholds of every active rule again
// against baseline. Absolute thresholds are unchanged.
func (e *Engine) Rebase(baseline *types.Topology) error {
	rules := e.policy.Load().Rules()
	if !slices.ContainsFunc(rules, func(r types.QuorumRule) bool { return r.Kind == types.ThresholdPercentage }) {
		return nil
	}

	p, err := NewPolicy(rules, baseline)
	if err != nil {
		return err
	}
	e.policy.Store(p)
	e.logger.Info("quorum percentages rebased", "rules", len(rules), "baseline_members", sizeOf(baseline))

	return nil
}

// SetRule adds or replaces one rule, resolving it against baseline.
func (e *Engine) SetRule(rule types.QuorumRule, baseline *types.Topology) error {
	p, err := e.policy.Load().WithRule(rule, baseline)
	if err != nil {
		return err
	}
	e.policy.Store(p)
	e.lastReport.Delete(rule.Action)

	need, _ := p.Required(rule.Action, rule.Scope)
	e.logger.Info("quorum rule set", "rule", rule.String(), "required", need)

	return nil
}

// RemoveRule removes the rule for action and scope.
//
// Returns:
//   - bool: true if a rule was removed
func (e *Engine) RemoveRule(action types.ActionClass, scope types.Scope) bool {
	p, removed := e.policy.Load().WithoutRule(action, scope)
	if removed {
		e.policy.Store(p)
		e.logger.Info("quorum rule removed", "action", action.String(), "scope", scope.String())
	}

	return removed
}

// Policy returns the active policy.
func (e *Engine) Policy() *Policy {
	return e.policy.Load()
}

// Evaluate reports whether the action is allowed on the topology.
func (e *Engine) Evaluate(action types.ActionClass, topo *types.Topology) bool {
	return e.policy.Load().Evaluate(action, topo)
}

// Verdicts evaluates every action class on the topology.
func (e *Engine) Verdicts(topo *types.Topology) map[types.ActionClass]bool {
	return e.policy.Load().Verdicts(topo)
}

// Assert returns a *types.QuorumViolationError if the action is disallowed.
//
// Violations are logged at most once per report interval per action class,
// listing every unmet rule.
func (e *Engine) Assert(action types.ActionClass, topo *types.Topology) error {
	p := e.policy.Load()

	err := p.Assert(action, topo)
	if err != nil {
		e.report(p, action, topo)
	}

	return err
}

func (e *Engine) report(p *Policy, action types.ActionClass, topo *types.Topology) {
	now := e.now()
	due := false
	e.lastReport.Compute(action, func(last time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		if loaded && now.Sub(last) < e.reportInterval {
			return last, xsync.CancelOp
		}
		due = true

		return now, xsync.UpdateOp
	})
	if !due {
		return
	}

	unmet := p.Unmet(action, topo)
	reasons := make([]string, 0, len(unmet))
	for _, v := range unmet {
		reasons = append(reasons, v.Error())
	}

	e.logger.Warn("action disallowed by quorum policy",
		"action", action.String(),
		"members", topo.Size(),
		"reasons", strings.Join(reasons, "; "),
	)
}

func sizeOf(topo *types.Topology) int {
	if topo == nil {
		return 0
	}

	return topo.Size()
}
