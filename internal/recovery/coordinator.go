package recovery

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/internal/metrics"
	"github.com/arloliu/custodian/internal/ownership"
	"github.com/arloliu/custodian/internal/quorum"
	"github.com/arloliu/custodian/types"
)

// DefaultTimeout is how long an episode waits before reporting orphans.
const DefaultTimeout = 5 * time.Minute

// Collection retry defaults. A member whose report failed is asked again
// after RetryInterval, doubling per failure up to MaxRetryInterval.
const (
	DefaultRetryInterval    = time.Second
	DefaultMaxRetryInterval = 30 * time.Second
	DefaultReportInterval   = time.Minute
)

// Reasons a step made no progress.
const (
	WaitNoMembers         = "no_members"
	WaitBelowQuorum       = "below_quorum"
	WaitMachineCapacity   = "machine_capacity"
	WaitPendingReports    = "pending_reports"
	WaitRecoverDisallowed = "recover_disallowed"
	WaitQuorumViolation   = "quorum_violation"
	WaitDepartedHolders   = "departed_holders"
)

// Token discard reasons.
const (
	discardOutOfRange = "partition_out_of_range"
	discardConflict   = "conflicting_duplicate"
	discardReporter   = "reporter_mismatch"
)

// holding is a token together with the member that reported holding it.
//
// The reporter differs from the token's creator after a service-wide
// restart, since every member rejoins with a new id.
type holding struct {
	token    types.RecoveryToken
	reporter types.MemberID
}

// Owner is the ownership coordinator recovery drives. *coordinator.Coordinator implements it.
type Owner interface {
	AssignPrimary(p int, m types.MemberID) error
	CreateBackup(p int, m types.MemberID) error
	PlacePrimary(p int) (types.MemberID, error)
	Snapshot() *ownership.Snapshot
}

// Verdicts evaluates quorum for an action class. *quorum.Engine implements it.
type Verdicts interface {
	Evaluate(action types.ActionClass, topo *types.Topology) bool
}

// Config holds recovery parameters.
type Config struct {
	// Spec is the recovery quorum spec.
	Spec quorum.RecoverySpec

	// Rounding applies to percentage specs.
	Rounding quorum.Rounding

	// Timeout is the wait before an OrphanedPartitionTimeoutError is reported.
	Timeout time.Duration

	// PartitionCount and BackupCount mirror the service configuration.
	PartitionCount int
	BackupCount    int

	// RetryInterval is the first wait before a failed member is asked again.
	RetryInterval time.Duration

	// MaxRetryInterval caps the doubling of RetryInterval.
	MaxRetryInterval time.Duration

	// ReportInterval is the minimum time between warnings about one failing member.
	ReportInterval time.Duration

	// SharedStorage disables the per-machine capacity check. Set it when
	// every member can open stores written on any machine.
	SharedStorage bool
}

// StepResult describes one Step call.
type StepResult struct {
	// Waiting names why no progress was made, empty when the step resolved partitions.
	Waiting string

	// Completed is true when the step finished the episode.
	Completed bool

	// Report is the episode report after the step.
	Report types.RecoveryReport
}

// Coordinator runs persistence recovery episodes.
//
// It is driven from the service event loop and is not safe for concurrent use.
type Coordinator struct {
	cfg     Config
	owner   Owner
	gate    Verdicts
	logger  types.Logger
	metrics types.RecoveryMetrics
	now     func() time.Time

	ep *episode
}

type episode struct {
	report    types.RecoveryReport
	deadline  time.Time
	lastKnown int
	hasLast   bool

	// lastMachines is the member count per machine of the last known
	// membership, nil when unknown.
	lastMachines map[string]int
	forced       bool

	// reports holds tokens of members currently live; departed holds the
	// last report of members that left after reporting.
	reports  map[types.MemberID][]types.RecoveryToken
	departed map[types.MemberID][]types.RecoveryToken
	pending  map[types.MemberID]struct{}
	retries  map[types.MemberID]*retry
}

// retry tracks the failed collections of one member.
type retry struct {
	failures int
	next     time.Time
	warned   time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the recovery metrics sink.
func WithMetrics(m types.RecoveryMetrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates an idle recovery coordinator.
//
// Parameters:
//   - cfg: Recovery parameters
//   - owner: Ownership coordinator that applies assignments
//   - gate: Quorum verdicts for the recover action class
//   - opts: Optional configuration
//
// Returns:
//   - *Coordinator: Coordinator without an active episode
func NewCoordinator(cfg Config, owner Owner, gate Verdicts, opts ...Option) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.MaxRetryInterval < cfg.RetryInterval {
		cfg.MaxRetryInterval = max(DefaultMaxRetryInterval, cfg.RetryInterval)
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}

	c := &Coordinator{
		cfg:     cfg,
		owner:   owner,
		gate:    gate,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Begin starts a new episode, discarding any active one.
//
// Parameters:
//   - info: Last known healthy membership
//   - ok: false when no membership was ever saved
//
// Returns:
//   - string: Episode id
func (c *Coordinator) Begin(info types.QuorumInfo, ok bool) string {
	now := c.now()
	c.ep = &episode{
		report: types.RecoveryReport{
			EpisodeID: uuid.NewString(),
			StartedAt: now,
		},
		deadline:  now.Add(c.cfg.Timeout),
		lastKnown: info.MemberCount,
		hasLast:   ok && info.MemberCount > 0,
		reports:   make(map[types.MemberID][]types.RecoveryToken),
		departed:  make(map[types.MemberID][]types.RecoveryToken),
		pending:   make(map[types.MemberID]struct{}),
		retries:   make(map[types.MemberID]*retry),
	}
	if c.ep.hasLast {
		c.ep.lastMachines = maps.Clone(info.Machines)
	}
	c.metrics.RecordRecoveryStarted()
	c.logger.Info("recovery episode started",
		"episode_id", c.ep.report.EpisodeID,
		"last_known_members", info.MemberCount,
		"spec", c.cfg.Spec.String(),
	)

	return c.ep.report.EpisodeID
}

// Force lets the active episode recover without the recovery quorum, the
// per-machine capacity check and the recover rule. Members that joined
// must still report their tokens.
//
// Returns:
//   - bool: false when no episode is active
func (c *Coordinator) Force() bool {
	if !c.Active() {
		return false
	}
	if !c.ep.forced {
		c.ep.forced = true
		c.ep.report.Forced = true
		c.logger.Warn("recovery forced",
			"episode_id", c.ep.report.EpisodeID,
			"joined", c.ep.report.Joined,
			"quorum", c.ep.report.Quorum,
		)
	}

	return true
}

// Active reports whether an episode is in progress.
func (c *Coordinator) Active() bool {
	return c.ep != nil && !c.ep.report.Done()
}

// Report returns a copy of the current or last episode report.
func (c *Coordinator) Report() (types.RecoveryReport, bool) {
	if c.ep == nil {
		return types.RecoveryReport{}, false
	}

	return cloneReport(c.ep.report), true
}

// NeedsCollection returns live ownership-enabled members that have neither
// reported nor been asked, and marks them pending. A member whose last
// report failed is left out until its retry is due.
func (c *Coordinator) NeedsCollection(topo *types.Topology) []types.MemberID {
	if !c.Active() {
		return nil
	}

	now := c.now()
	var out []types.MemberID
	for _, m := range topo.OwnershipMembers() {
		if _, ok := c.ep.reports[m.ID]; ok {
			continue
		}
		if _, ok := c.ep.pending[m.ID]; ok {
			continue
		}
		if r, ok := c.ep.retries[m.ID]; ok && now.Before(r.next) {
			continue
		}
		c.ep.pending[m.ID] = struct{}{}
		out = append(out, m.ID)
	}

	return out
}

// AddReports records collection results.
//
// A failed report schedules the member's next collection with exponential
// backoff. Inconsistent tokens are discarded with a warning.
func (c *Coordinator) AddReports(reports []MemberReport, topo *types.Topology) {
	if !c.Active() {
		return
	}

	for _, r := range reports {
		delete(c.ep.pending, r.Member)
		if r.Err != nil {
			c.failed(r.Member, r.Err)
			continue
		}
		delete(c.ep.retries, r.Member)

		valid := c.validate(r)
		c.metrics.RecordTokensCollected(len(valid))

		if topo.IsEligible(r.Member) {
			c.ep.reports[r.Member] = valid
			delete(c.ep.departed, r.Member)
		} else {
			c.ep.departed[r.Member] = valid
		}
	}
}

// MemberDeparted moves a member's report aside; its tokens only count when
// no live reporter holds the partition.
func (c *Coordinator) MemberDeparted(id types.MemberID) {
	if !c.Active() {
		return
	}

	delete(c.ep.pending, id)
	delete(c.ep.retries, id)
	if tokens, ok := c.ep.reports[id]; ok {
		c.ep.departed[id] = tokens
		delete(c.ep.reports, id)
	}
}

// Step advances the episode on the given topology.
func (c *Coordinator) Step(topo *types.Topology) StepResult {
	if !c.Active() {
		if c.ep == nil {
			return StepResult{}
		}

		return StepResult{Report: cloneReport(c.ep.report)}
	}

	ep := c.ep
	joined := topo.OwnershipCount()
	ep.report.Joined = joined

	orphans := c.owner.Snapshot().Orphans()
	if len(orphans) == 0 {
		return c.complete()
	}

	if joined == 0 {
		return c.waiting(WaitNoMembers, len(orphans))
	}

	if ep.report.Quorum == 0 {
		last := joined
		if ep.hasLast {
			last = ep.lastKnown
		}
		ep.report.Quorum = c.cfg.Spec.Resolve(last, c.cfg.PartitionCount, c.cfg.Rounding)
		c.logger.Info("recovery quorum resolved",
			"episode_id", ep.report.EpisodeID,
			"quorum", ep.report.Quorum,
			"last_known_members", last,
		)
	}

	if !ep.forced {
		if joined < ep.report.Quorum {
			return c.waiting(WaitBelowQuorum, len(orphans))
		}
		if !c.machinesReady(topo) {
			return c.waiting(WaitMachineCapacity, len(orphans))
		}
	}
	for _, m := range topo.OwnershipMembers() {
		if _, ok := ep.reports[m.ID]; !ok {
			return c.waiting(WaitPendingReports, len(orphans))
		}
	}
	if !ep.forced && !c.gate.Evaluate(types.ActionRecover, topo) {
		return c.waiting(WaitRecoverDisallowed, len(orphans))
	}

	byPartition := c.tokensByPartition()
	progressed := false
	for _, p := range orphans {
		done, err := c.resolve(p, byPartition[p], topo)
		if err != nil {
			if errors.Is(err, types.ErrQuorumViolation) {
				return c.waiting(WaitQuorumViolation, len(orphans))
			}
			c.logger.Warn("recovery could not resolve partition",
				"episode_id", ep.report.EpisodeID, "partition", p, "error", err)

			continue
		}
		progressed = progressed || done
	}

	remaining := c.owner.Snapshot().OrphanCount()
	if remaining == 0 {
		return c.complete()
	}
	ep.report.Orphans = remaining

	if !progressed {
		return c.waiting(WaitDepartedHolders, remaining)
	}

	return StepResult{Report: cloneReport(ep.report)}
}

// CheckTimeout reports orphans left past the deadline and re-arms it.
//
// Returns:
//   - error: *types.OrphanedPartitionTimeoutError, nil when not due
func (c *Coordinator) CheckTimeout() error {
	if !c.Active() {
		return nil
	}

	now := c.now()
	if now.Before(c.ep.deadline) {
		return nil
	}

	orphans := c.owner.Snapshot().OrphanCount()
	c.ep.deadline = now.Add(c.cfg.Timeout)
	if orphans == 0 {
		return nil
	}

	err := &types.OrphanedPartitionTimeoutError{
		EpisodeID: c.ep.report.EpisodeID,
		Orphans:   orphans,
		Waited:    now.Sub(c.ep.report.StartedAt),
		Joined:    c.ep.report.Joined,
		Quorum:    c.ep.report.Quorum,
	}
	c.metrics.RecordRecoveryTimeout(orphans)
	c.logger.Error("orphaned partitions after recovery timeout", "episode_id", err.EpisodeID, "error", err)

	return err
}

// machinesReady compares the least loaded machine now with the least loaded
// machine of the last known membership. Unlabeled members on either side
// skip the check.
func (c *Coordinator) machinesReady(topo *types.Topology) bool {
	if c.cfg.SharedStorage || len(c.ep.lastMachines) == 0 {
		return true
	}

	current := types.MachineCounts(topo.OwnershipMembers())
	if len(current) == 0 {
		return true
	}

	lastMin := slices.Min(slices.Collect(maps.Values(c.ep.lastMachines)))
	currentMin := slices.Min(slices.Collect(maps.Values(current)))
	need := c.cfg.Spec.MachineMinimum(lastMin)
	if currentMin >= need {
		return true
	}

	c.logger.Debug("recovery machine capacity insufficient",
		"episode_id", c.ep.report.EpisodeID,
		"last_minimum", lastMin,
		"current_minimum", currentMin,
		"need", need,
	)

	return false
}

// resolve assigns one orphan. It returns true when the partition got a primary.
func (c *Coordinator) resolve(p int, held []holding, topo *types.Topology) (bool, error) {
	if len(held) == 0 {
		if _, err := c.owner.PlacePrimary(p); err != nil {
			return false, err
		}
		c.ep.report.Placed++

		return true, nil
	}

	live := make([]holding, 0, len(held))
	for _, h := range held {
		if topo.IsEligible(h.reporter) {
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		return false, nil
	}

	// Newest store first; equal timestamps go to the lowest reporter.
	slices.SortFunc(live, func(a, b holding) int {
		if d := cmp.Compare(b.token.Timestamp, a.token.Timestamp); d != 0 {
			return d
		}

		return cmp.Compare(a.reporter, b.reporter)
	})

	winner := live[0]
	if err := c.owner.AssignPrimary(p, winner.reporter); err != nil {
		return false, err
	}

	backups := 0
	for _, h := range live[1:] {
		if backups >= c.cfg.BackupCount {
			break
		}
		if err := c.owner.CreateBackup(p, h.reporter); err != nil {
			c.logger.Warn("recovery backup not created",
				"episode_id", c.ep.report.EpisodeID, "partition", p, "member_id", h.reporter, "error", err)

			break
		}
		backups++
	}

	c.ep.report.Recovered++
	c.ep.report.Restored = append(c.ep.report.Restored, winner.token)
	for _, h := range held {
		if h.token != winner.token {
			c.ep.report.Superseded = append(c.ep.report.Superseded, h.token)
		}
	}

	return true, nil
}

func (c *Coordinator) tokensByPartition() map[int][]holding {
	out := make(map[int][]holding)
	add := func(src map[types.MemberID][]types.RecoveryToken) {
		for reporter, tokens := range src {
			for _, t := range tokens {
				out[t.Partition] = append(out[t.Partition], holding{token: t, reporter: reporter})
			}
		}
	}
	add(c.ep.reports)
	add(c.ep.departed)

	return out
}

// failed schedules the next collection from a member whose report failed.
func (c *Coordinator) failed(id types.MemberID, err error) {
	now := c.now()
	r, ok := c.ep.retries[id]
	if !ok {
		r = &retry{}
		c.ep.retries[id] = r
	}
	r.failures++

	delay := c.cfg.RetryInterval
	for i := 1; i < r.failures && delay < c.cfg.MaxRetryInterval; i++ {
		delay *= 2
	}
	delay = min(delay, c.cfg.MaxRetryInterval)
	r.next = now.Add(delay)

	if r.failures == 1 || now.Sub(r.warned) >= c.cfg.ReportInterval {
		r.warned = now
		c.logger.Warn("recovery token collection failing",
			"episode_id", c.ep.report.EpisodeID,
			"member_id", id,
			"failures", r.failures,
			"retry_in", delay,
			"error", err,
		)

		return
	}
	c.logger.Debug("recovery token collection failed",
		"episode_id", c.ep.report.EpisodeID, "member_id", id, "failures", r.failures, "retry_in", delay)
}

// validate drops tokens that cannot belong to the report. A member holding
// two different stores of one partition keeps the newer one. Every token of
// a report answered by another member is dropped.
func (c *Coordinator) validate(r MemberReport) []types.RecoveryToken {
	if r.Reporter != r.Member {
		for _, t := range r.Tokens {
			c.discard(t, r.Reporter, discardReporter)
		}

		return nil
	}

	kept := make(map[int]types.RecoveryToken, len(r.Tokens))
	order := make([]int, 0, len(r.Tokens))

	for _, t := range r.Tokens {
		if t.Partition < 0 || t.Partition >= c.cfg.PartitionCount {
			c.discard(t, r.Member, discardOutOfRange)
			continue
		}

		prev, dup := kept[t.Partition]
		switch {
		case !dup:
			kept[t.Partition] = t
			order = append(order, t.Partition)
		case prev == t:
		case t.Supersedes(prev):
			c.discard(prev, r.Member, discardConflict)
			kept[t.Partition] = t
		default:
			c.discard(t, r.Member, discardConflict)
		}
	}

	valid := make([]types.RecoveryToken, 0, len(order))
	for _, p := range order {
		valid = append(valid, kept[p])
	}

	return valid
}

func (c *Coordinator) discard(t types.RecoveryToken, reporter types.MemberID, reason string) {
	err := &types.InconsistentRecoveryTokenError{Token: t, Reporter: reporter, Reason: reason}
	c.ep.report.Discarded++
	c.metrics.RecordTokenDiscarded(reason)
	c.logger.Warn("recovery token discarded", "episode_id", c.ep.report.EpisodeID, "error", err)
}

func (c *Coordinator) waiting(reason string, orphans int) StepResult {
	c.ep.report.Orphans = orphans
	c.logger.Debug("recovery waiting",
		"episode_id", c.ep.report.EpisodeID,
		"reason", reason,
		"joined", c.ep.report.Joined,
		"quorum", c.ep.report.Quorum,
		"orphans", orphans,
	)

	return StepResult{Waiting: reason, Report: cloneReport(c.ep.report)}
}

func (c *Coordinator) complete() StepResult {
	ep := c.ep
	ep.report.Orphans = 0
	ep.report.CompletedAt = c.now()

	duration := ep.report.CompletedAt.Sub(ep.report.StartedAt)
	c.metrics.RecordRecoveryCompleted(duration.Seconds(), ep.report.Recovered, ep.report.Placed)
	c.logger.Info("recovery episode completed",
		"episode_id", ep.report.EpisodeID,
		"recovered", ep.report.Recovered,
		"placed", ep.report.Placed,
		"discarded", ep.report.Discarded,
		"duration", duration,
	)

	return StepResult{Completed: true, Report: cloneReport(ep.report)}
}

func cloneReport(r types.RecoveryReport) types.RecoveryReport {
	r.Restored = slices.Clone(r.Restored)
	r.Superseded = slices.Clone(r.Superseded)

	return r
}

// String describes the step for logs.
func (r StepResult) String() string {
	switch {
	case r.Completed:
		return "completed"
	case r.Waiting != "":
		return "waiting: " + r.Waiting
	default:
		return fmt.Sprintf("progressed, %d orphans left", r.Report.Orphans)
	}
}
