package custodian

import (
	"context"
	"fmt"

	"github.com/arloliu/custodian/types"
)

// MemberJoined adds a member to the topology.
//
// Re-joining with an existing id replaces the member's labels. The call
// returns once the loop has rebalanced on the new topology.
//
// Parameters:
//   - ctx: Context for cancellation while waiting on the loop
//   - member: Joining member; labels are normalized
//
// Returns:
//   - error: ErrInvalidMember, ErrNotStarted or the context error
func (s *Service) MemberJoined(ctx context.Context, member Member) error {
	return s.submit(ctx, joinEvent{member: member})
}

// MemberLeft removes a member and clears every ownership slot naming it.
//
// Graceful and failed departures are handled alike; the flag is logged.
// Departures of unknown members are ignored.
func (s *Service) MemberLeft(ctx context.Context, member Member, graceful bool) error {
	return s.submit(ctx, leaveEvent{member: member, graceful: graceful})
}

// ConfigUpdate applies an ownership record delivered by the senior member.
//
// Returns:
//   - error: ErrStaleRecord if the record is not newer than the local one,
//     invariant errors for malformed records
func (s *Service) ConfigUpdate(ctx context.Context, record OwnershipRecord) error {
	return s.submit(ctx, deltaEvent{record: record.Clone()})
}

// Suspend stops rebalancing, recovery and client access until Resume.
//
// Suspending a suspended service is a no-op.
func (s *Service) Suspend(ctx context.Context) error {
	return s.submit(ctx, commandEvent{name: "suspend", fn: func(_ *batch) error {
		current := s.State()
		if current == StateSuspended {
			return nil
		}
		if s.transition(current, StateSuspended) {
			s.resumeTo = current
		}

		return nil
	}})
}

// Resume returns a suspended service to the state it was suspended from.
func (s *Service) Resume(ctx context.Context) error {
	return s.submit(ctx, commandEvent{name: "resume", fn: func(b *batch) error {
		if s.State() != StateSuspended {
			return nil
		}

		to := s.resumeTo
		if to != StateRecovering || !s.recovery.Active() {
			to = StateRunning
		}
		s.transition(StateSuspended, to)
		b.topologyChanged = true

		return nil
	}})
}

// SetQuorumRule adds or replaces the rule for the rule's action and scope.
//
// Percentage thresholds resolve against the current topology. Percentage
// rules set earlier, including configured ones, are resolved again against
// it too.
//
// Example:
//
//	rule, _ := custodian.ParseQuorumRule("write", "site", "50%")
//	err := svc.SetQuorumRule(ctx, rule)
func (s *Service) SetQuorumRule(ctx context.Context, rule QuorumRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	return s.submit(ctx, commandEvent{name: "set_quorum_rule", fn: func(_ *batch) error {
		topo := s.coord.Topology()
		s.ensureRules(topo)
		if err := s.engine.SetRule(rule, topo); err != nil {
			return err
		}
		if err := s.engine.Rebase(topo); err != nil {
			return err
		}
		s.logger.Info("quorum rule set", "rule", rule.String())

		return nil
	}})
}

// RemoveQuorumRule removes the rule for an action and scope.
//
// Returns:
//   - bool: true if a rule was removed
//   - error: ErrNotStarted or the context error
func (s *Service) RemoveQuorumRule(ctx context.Context, action ActionClass, scope Scope) (bool, error) {
	removed := false
	err := s.submit(ctx, commandEvent{name: "remove_quorum_rule", fn: func(_ *batch) error {
		s.ensureRules(s.coord.Topology())
		removed = s.engine.RemoveRule(action, scope)
		if removed {
			s.logger.Info("quorum rule removed", "action", action.String(), "scope", scope.String())
		}

		return nil
	}})

	return removed, err
}

// TriggerRecovery starts a new recovery episode.
//
// Orphans are left for the episode instead of being placed by rebalancing.
// An active episode is replaced.
//
// Returns:
//   - error: ErrPersistenceDisabled, ErrNotSenior, ErrServiceSuspended
func (s *Service) TriggerRecovery(ctx context.Context) error {
	if !s.cfg.Persistence.Enabled {
		return ErrPersistenceDisabled
	}

	info, ok := s.loadQuorumInfo(ctx)

	return s.submit(ctx, commandEvent{name: "trigger_recovery", fn: func(b *batch) error {
		if err := s.checkMutable(); err != nil {
			return err
		}

		s.recovery.Begin(info, ok)
		s.publishReport()
		if current := s.State(); current != StateRecovering {
			s.transition(current, StateRecovering)
		}
		b.topologyChanged = true

		return nil
	}})
}

// ForceRecovery lets the active episode recover with the members that have
// joined so far, ignoring the recovery quorum, the per-machine capacity
// check and the recover rule. Stores of members that never rejoin are lost.
//
// Returns:
//   - error: ErrPersistenceDisabled, ErrNotSenior, ErrServiceSuspended,
//     ErrNoActiveRecovery
func (s *Service) ForceRecovery(ctx context.Context) error {
	if !s.cfg.Persistence.Enabled {
		return ErrPersistenceDisabled
	}

	return s.submit(ctx, commandEvent{name: "force_recovery", fn: func(b *batch) error {
		if err := s.checkMutable(); err != nil {
			return err
		}
		if !s.recovery.Force() {
			return ErrNoActiveRecovery
		}
		s.publishReport()
		b.topologyChanged = true

		return nil
	}})
}

// AssignPrimary makes m the primary of p.
//
// Needs restore quorum for an orphan and distribute quorum otherwise.
func (s *Service) AssignPrimary(ctx context.Context, p int, m MemberID) error {
	return s.mutate(ctx, "assign_primary", func() error {
		return s.coord.AssignPrimary(p, m)
	})
}

// CreateBackup puts m into the first empty backup slot of p. Needs backup quorum.
func (s *Service) CreateBackup(ctx context.Context, p int, m MemberID) error {
	return s.mutate(ctx, "create_backup", func() error {
		return s.coord.CreateBackup(p, m)
	})
}

// TransferBackup replaces backup slot of p with m. Needs backup quorum.
func (s *Service) TransferBackup(ctx context.Context, p int, slot int, m MemberID) error {
	return s.mutate(ctx, "transfer_backup", func() error {
		return s.coord.TransferBackup(p, slot, m)
	})
}

// TransferPrimary moves the primary of p to m; a backup target swaps roles
// with the old primary. Needs distribute quorum.
func (s *Service) TransferPrimary(ctx context.Context, p int, m MemberID) error {
	return s.mutate(ctx, "transfer_primary", func() error {
		return s.coord.TransferPrimary(p, m)
	})
}

func (s *Service) mutate(ctx context.Context, name string, fn func() error) error {
	return s.submit(ctx, commandEvent{name: name, fn: func(_ *batch) error {
		if err := s.checkMutable(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		return nil
	}})
}

// checkMutable runs inside the loop before manual mutations.
func (s *Service) checkMutable() error {
	if s.State() == types.StateSuspended {
		return ErrServiceSuspended
	}
	if !s.senior.Load() {
		return ErrNotSenior
	}

	return nil
}
