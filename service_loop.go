package custodian

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/arloliu/custodian/internal/hastatus"
	"github.com/arloliu/custodian/internal/recovery"
	"github.com/arloliu/custodian/types"
)

// Events processed by the loop. Every mutation of the ownership map,
// topology, quorum policy or recovery episode happens inside one of them.
type (
	joinEvent struct {
		member Member
	}

	leaveEvent struct {
		member   Member
		graceful bool
	}

	deltaEvent struct {
		record OwnershipRecord
	}

	commandEvent struct {
		name string
		fn   func(b *batch) error
	}

	reportsEvent struct {
		reports []recovery.MemberReport
	}

	seniorityEvent struct {
		senior bool
	}
)

type envelope struct {
	ev    any
	reply chan error
}

type pendingReply struct {
	ch  chan error
	err error
}

// batch accumulates the effects of the events drained in one loop iteration.
type batch struct {
	events          int
	topologyChanged bool
	tick            bool
	replies         []pendingReply
}

// run is the single writer. It drains every queued event before settling,
// so a burst of membership changes produces one recomputation.
func (s *Service) run() {
	ticker := time.NewTicker(s.cfg.Persistence.CheckInterval)
	defer ticker.Stop()

	// Settle once so configured rules and verdicts are published at start.
	s.settle(&batch{})

	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.events:
			b := &batch{}
			s.dispatch(env, b)
		drain:
			for {
				select {
				case env := <-s.events:
					s.dispatch(env, b)
				default:
					break drain
				}
			}
			s.metrics.RecordEventBatch(b.events)
			s.settle(b)
		case <-ticker.C:
			s.settle(&batch{tick: true})
		}
	}
}

func (s *Service) dispatch(env envelope, b *batch) {
	b.events++
	err := s.apply(env.ev, b)
	if env.reply != nil {
		b.replies = append(b.replies, pendingReply{ch: env.reply, err: err})
	}
}

func (s *Service) apply(ev any, b *batch) error {
	switch e := ev.(type) {
	case joinEvent:
		return s.applyJoin(e.member, b)
	case leaveEvent:
		return s.applyLeave(e.member, e.graceful, b)
	case deltaEvent:
		return s.applyDelta(e.record)
	case commandEvent:
		s.logger.Debug("command", "name", e.name)
		return e.fn(b)
	case reportsEvent:
		s.recovery.AddReports(e.reports, s.coord.Topology())
		return nil
	case seniorityEvent:
		if s.senior.Swap(e.senior) != e.senior {
			s.logger.Info("seniority changed", "member_id", s.local.ID, "senior", e.senior)
			b.topologyChanged = true
		}

		return nil
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

func (s *Service) applyJoin(m Member, b *batch) error {
	m = m.Normalize()
	if !m.ID.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidMember, m.ID)
	}

	s.topoVersion++
	topo := s.coord.Topology().WithMember(s.topoVersion, m)
	s.installTopology(topo)
	b.topologyChanged = true

	s.logger.Info("member joined",
		"member_id", m.ID,
		"site", m.Site,
		"rack", m.Rack,
		"machine", m.Machine,
		"ownership_enabled", m.OwnershipEnabled,
		"topology_version", topo.Version(),
	)

	return nil
}

// applyLeave clears the member's slots at once. Clearing is never coalesced:
// a departed member must stop being an owner before anything else runs.
func (s *Service) applyLeave(m Member, graceful bool, b *batch) error {
	if !m.ID.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidMember, m.ID)
	}
	current := s.coord.Topology()
	if !current.Contains(m.ID) {
		s.logger.Debug("departure of unknown member ignored", "member_id", m.ID)

		return nil
	}

	s.topoVersion++
	topo := current.WithoutMember(s.topoVersion, m.ID)
	s.installTopology(topo)
	b.topologyChanged = true

	var cleared []int
	if s.senior.Load() {
		cleared = s.coord.MemberDeparted(m.ID)
	} else {
		cleared = s.coord.MemberDetached(m.ID)
	}
	s.recovery.MemberDeparted(m.ID)

	s.logger.Info("member left",
		"member_id", m.ID,
		"graceful", graceful,
		"cleared_partitions", len(cleared),
		"topology_version", topo.Version(),
	)

	return nil
}

func (s *Service) applyDelta(r OwnershipRecord) error {
	if err := s.owners.Apply(r); err != nil {
		result := "rejected"
		if errors.Is(err, ErrStaleRecord) {
			result = "stale"
		}
		s.metrics.RecordOwnershipMutation("config_update", result)

		return err
	}
	s.metrics.RecordOwnershipMutation("config_update", "ok")

	return nil
}

func (s *Service) installTopology(topo *Topology) {
	s.coord.SetTopology(topo)
	s.topo.Store(topo)
}

// settle runs once per batch: it applies configured rules, advances
// recovery or rebalances, then publishes snapshots and verdicts.
func (s *Service) settle(b *batch) {
	topo := s.coord.Topology()
	if b.topologyChanged && topo.Size() > 0 {
		s.ensureRules(topo)
	}

	state := s.State()
	if s.senior.Load() {
		switch state {
		case StateRecovering:
			s.stepRecovery(topo, b.tick)
			s.coord.Rebalance(false)
		case StateRunning:
			s.coord.Rebalance(true)
		}
	} else if state == StateRecovering && topo.OwnershipCount() > 0 && s.owners.Snapshot().OrphanCount() == 0 {
		// Followers leave recovery once the senior's deltas own every partition.
		s.reconcilePending.Store(true)
		s.transition(StateRecovering, StateRunning)
	}

	s.publish(topo)
	s.saveQuorumInfo(topo)

	// Stores reconcile against the snapshot published above.
	if state != StateRunning && s.State() == StateRunning {
		s.markStoresDirty()
	}

	for _, r := range b.replies {
		r.ch <- r.err
	}
}

// ensureRules installs the configured rules once, resolving percentages
// against the first topology with members.
func (s *Service) ensureRules(topo *Topology) {
	if s.rulesConfigured {
		return
	}
	s.rulesConfigured = true
	if len(s.rules) == 0 {
		return
	}

	if err := s.engine.Configure(s.rules, topo); err != nil {
		s.reportError("failed to configure quorum rules", err)
		return
	}
	s.logger.Info("quorum rules configured", "rules", len(s.rules), "baseline_members", topo.Size())
}

func (s *Service) stepRecovery(topo *Topology, tick bool) {
	if s.collector != nil {
		if members := s.recovery.NeedsCollection(topo); len(members) > 0 {
			s.collect(members)
		}
	}

	res := s.recovery.Step(topo)
	s.publishReport()

	if res.Completed {
		s.reconcilePending.Store(true)
		s.transition(StateRecovering, StateRunning)
		s.fire("recovery_completed", func(ctx context.Context) error {
			return s.hooks.OnRecoveryCompleted(ctx, res.Report)
		})

		return
	}

	if tick {
		if err := s.recovery.CheckTimeout(); err != nil {
			s.fire("recovery_timeout", func(ctx context.Context) error {
				return s.hooks.OnRecoveryTimeout(ctx, err)
			})
		}
	}
}

// collect asks members for their tokens off the loop and posts the result back.
func (s *Service) collect(members []MemberID) {
	s.logger.Debug("collecting recovery tokens", "members", len(members))
	s.wg.Go(func() {
		reports := s.collector.Collect(s.ctx, members)
		s.post(reportsEvent{reports: reports})
	})
}

// publish recomputes HA status and verdicts and notifies readers of changes.
func (s *Service) publish(topo *Topology) {
	prev := s.snapshot.Load()
	snap := s.owners.Snapshot()
	s.snapshot.Store(snap)

	if changed := snap.ChangedSince(prev); len(changed) > 0 {
		rev := s.revision.Add(1)
		s.ownershipSubs.emit(rev)
		s.markStoresDirty()
	}

	report := hastatus.NewReport(snap, topo, s.cfg.BackupCount)
	s.metrics.RecordHAStatus(report.Status)
	if from := HAStatus(s.ha.Swap(int32(report.Status))); from != report.Status {
		s.logger.Info("HA status changed",
			"from", from.String(),
			"to", report.Status.String(),
			"weakest_partitions", report.Weakest,
		)
		s.fire("ha_status_changed", func(ctx context.Context) error {
			return s.hooks.OnHAStatusChanged(ctx, from, report.Status)
		})
	}

	s.metrics.RecordOrphanCount(snap.OrphanCount())

	verdicts := s.engine.Verdicts(topo)
	previous := *s.verdicts.Load()
	s.verdicts.Store(&verdicts)
	for _, action := range types.AllActionClasses {
		allowed := verdicts[action]
		s.metrics.RecordQuorumVerdict(action, allowed)
		if was, ok := previous[action]; ok && was != allowed {
			s.fire("quorum_changed", func(ctx context.Context) error {
				return s.hooks.OnQuorumChanged(ctx, action, allowed)
			})
		}
	}
	if !maps.Equal(previous, verdicts) {
		s.logger.Debug("quorum verdicts changed", "verdicts", verdicts)
	}
}

// saveQuorumInfo persists the membership whenever every partition is owned
// and the ownership-enabled count changed.
func (s *Service) saveQuorumInfo(topo *Topology) {
	if s.quorumInfo == nil || !s.senior.Load() || s.State() != StateRunning {
		return
	}

	count := topo.OwnershipCount()
	if count == 0 || s.snapshot.Load().OrphanCount() > 0 {
		return
	}

	members := topo.OwnershipMembers()
	machines := types.MachineCounts(members)
	if count == s.savedCount && maps.Equal(machines, s.savedMachines) {
		return
	}
	s.savedCount = count
	s.savedMachines = machines

	ids := make([]MemberID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	info := QuorumInfo{
		MemberCount: count,
		Members:     slices.Clip(ids),
		Machines:    maps.Clone(machines),
		SavedAt:     s.now(),
	}

	s.wg.Go(func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
		defer cancel()

		if err := s.quorumInfo.SaveQuorumInfo(ctx, info); err != nil {
			s.reportError("failed to save quorum info", err)
			return
		}
		s.logger.Debug("quorum info saved", "members", info.MemberCount)
	})
}

// post enqueues an internal event without waiting for it to be processed.
func (s *Service) post(ev any) {
	select {
	case s.events <- envelope{ev: ev}:
	case <-s.ctx.Done():
	}
}

// submit enqueues an event and waits until the loop has settled it.
func (s *Service) submit(ctx context.Context, ev any) error {
	switch s.State() {
	case StateInit, StateShutdown:
		return ErrNotStarted
	}

	reply := make(chan error, 1)
	select {
	case s.events <- envelope{ev: ev, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrNotStarted
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrNotStarted
	}
}
