package custodian

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/custodian/store"
	custodiantest "github.com/arloliu/custodian/testing"
	"github.com/arloliu/custodian/types"
)

// fakeElection grants seniority while won is set.
type fakeElection struct {
	won      atomic.Bool
	released atomic.Int32
}

func (f *fakeElection) RequestLeadership(_ context.Context, _ MemberID, _ int64) (bool, error) {
	return f.won.Load(), nil
}

func (f *fakeElection) RenewLeadership(_ context.Context) error {
	return nil
}

func (f *fakeElection) ReleaseLeadership(_ context.Context) error {
	f.released.Add(1)
	f.won.Store(false)

	return nil
}

func (f *fakeElection) IsLeader(_ context.Context) (bool, error) {
	return f.won.Load(), nil
}

func newTestService(t *testing.T, cfg Config, opts ...Option) *Service {
	t.Helper()

	opts = append([]Option{WithLogger(custodiantest.NewTestLogger(t))}, opts...)
	svc, err := NewService(&cfg, opts...)
	require.NoError(t, err)

	return svc
}

func startService(t *testing.T, svc *Service) {
	t.Helper()

	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
}

func joinAll(t *testing.T, svc *Service, members ...Member) {
	t.Helper()

	for _, m := range members {
		require.NoError(t, svc.MemberJoined(context.Background(), m))
	}
}

func TestNewService(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		svc, err := NewService(nil)
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Nil(t, svc)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := TestConfig()
		cfg.BackupCount = -1
		_, err := NewService(&cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("election agent without local member", func(t *testing.T) {
		cfg := TestConfig()
		_, err := NewService(&cfg, WithElectionAgent(&fakeElection{}))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("persistence without token source", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Persistence.Enabled = true
		_, err := NewService(&cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("starts orphaned", func(t *testing.T) {
		svc := newTestService(t, TestConfig())

		require.Equal(t, StateInit, svc.State())
		require.Equal(t, 31, svc.OrphanCount())
		require.Len(t, svc.Snapshot(), 31)
		require.Equal(t, HAEndangered, svc.HAStatus())
		require.Zero(t, svc.Topology().Size())
		_, ok := svc.RecoveryStatus()
		require.False(t, ok)
	})
}

func TestService_Lifecycle(t *testing.T) {
	svc := newTestService(t, TestConfig())
	ctx := context.Background()

	states, unsubscribe := svc.SubscribeState()
	defer unsubscribe()

	require.ErrorIs(t, svc.CheckAccess(ActionRead, 0), ErrNotStarted)
	require.ErrorIs(t, svc.MemberJoined(ctx, custodiantest.NewMember(1, "site-a")), ErrNotStarted)
	require.ErrorIs(t, svc.Stop(ctx), ErrNotStarted)

	require.NoError(t, svc.Start(ctx))
	require.ErrorIs(t, svc.Start(ctx), ErrAlreadyStarted)
	require.Equal(t, StateRunning, svc.State())
	require.True(t, svc.IsSenior())

	joinAll(t, svc, custodiantest.NewMembers(3, "site-a", "site-b", "site-c")...)
	require.Zero(t, svc.OrphanCount())

	require.NoError(t, svc.Stop(ctx))
	require.ErrorIs(t, svc.Stop(ctx), ErrNotStarted)
	require.Equal(t, StateShutdown, svc.State())
	require.Equal(t, 31, svc.OrphanCount(), "ownership resets on stop")
	require.ErrorIs(t, svc.MemberJoined(ctx, custodiantest.NewMember(4, "site-a")), ErrNotStarted)

	var seen []State
	for s := range states {
		seen = append(seen, s)
	}
	require.Equal(t, []State{StateRunning, StateShutdown}, seen)
}

func TestService_JoinRebalances(t *testing.T) {
	svc := newTestService(t, TestConfig())
	startService(t, svc)

	revisions, unwatch := svc.WatchOwnership()
	defer unwatch()

	members := custodiantest.NewMembers(3, "site-a", "site-b", "site-c")
	joinAll(t, svc, members...)

	require.Zero(t, svc.OrphanCount())
	require.Equal(t, 3, svc.Topology().Size())
	require.Equal(t, HASiteSafe, svc.HAStatus())
	require.NotZero(t, svc.Revision())

	select {
	case rev := <-revisions:
		require.NotZero(t, rev)
	case <-time.After(time.Second):
		t.Fatal("no ownership revision delivered")
	}

	total := 0
	for _, m := range members {
		total += len(svc.OwnedBy(m.ID))
	}
	require.Equal(t, 31, total)

	for _, r := range svc.Snapshot() {
		require.NotEqual(t, NoMember, r.Primary)
		require.Len(t, r.Backups, 1)
		require.NotEqual(t, NoMember, r.Backups[0])
		require.NotEqual(t, r.Primary, r.Backups[0])

		state, filled, err := svc.PartitionState(r.Partition)
		require.NoError(t, err)
		require.Equal(t, 1, filled)
		require.Equal(t, types.PartitionSteady, state)
	}

	_, err := svc.Record(31)
	require.ErrorIs(t, err, ErrInvalidPartition)
	_, _, err = svc.PartitionState(-1)
	require.ErrorIs(t, err, ErrInvalidPartition)
}

func TestService_MemberLeftClearsSlots(t *testing.T) {
	svc := newTestService(t, TestConfig())
	startService(t, svc)
	ctx := context.Background()

	members := custodiantest.NewMembers(3, "site-a", "site-b", "site-c")
	joinAll(t, svc, members...)
	require.NotEmpty(t, svc.OwnedBy(1))

	require.NoError(t, svc.MemberLeft(ctx, members[0], false))

	require.Equal(t, 2, svc.Topology().Size())
	require.Empty(t, svc.OwnedBy(1))
	require.Zero(t, svc.OrphanCount(), "backups are promoted after the departure")
	for _, r := range svc.Snapshot() {
		require.False(t, r.Holds(1), "partition %d still names the departed member", r.Partition)
	}

	t.Run("unknown member is ignored", func(t *testing.T) {
		before := svc.Revision()
		require.NoError(t, svc.MemberLeft(ctx, custodiantest.NewMember(42, "site-a"), true))
		require.Equal(t, before, svc.Revision())
	})

	t.Run("invalid member", func(t *testing.T) {
		require.ErrorIs(t, svc.MemberLeft(ctx, Member{}, true), ErrInvalidMember)
		require.ErrorIs(t, svc.MemberJoined(ctx, Member{ID: -3}), ErrInvalidMember)
	})
}

func TestService_QuorumGatesAccess(t *testing.T) {
	cfg := TestConfig()
	cfg.Quorum.Rules = []QuorumRuleConfig{{Action: "write", Threshold: "3"}}

	changes := make(chan bool, 8)
	hooks := &Hooks{
		OnQuorumChanged: func(_ context.Context, action ActionClass, allowed bool) error {
			if action == ActionWrite {
				changes <- allowed
			}

			return nil
		},
	}

	svc := newTestService(t, cfg, WithHooks(hooks))
	startService(t, svc)

	require.ErrorIs(t, svc.CheckAccess(ActionRead, 0), ErrPartitionOrphaned)
	require.ErrorIs(t, svc.CheckAccess(ActionRead, 99), ErrInvalidPartition)

	members := custodiantest.NewMembers(3, "site-a", "site-b")
	joinAll(t, svc, members[:2]...)

	require.NoError(t, svc.CheckAccess(ActionRead, 0))
	err := svc.CheckAccess(ActionWrite, 0)
	require.ErrorIs(t, err, ErrQuorumViolation)

	var violation *QuorumViolationError
	require.True(t, errors.As(err, &violation))
	require.Equal(t, 2, violation.Have)
	require.Equal(t, 3, violation.Need)
	require.False(t, svc.QuorumStatus()[ActionWrite])
	require.True(t, svc.QuorumStatus()[ActionRead])

	joinAll(t, svc, members[2])
	require.NoError(t, svc.CheckAccess(ActionWrite, 0))
	require.True(t, svc.QuorumStatus()[ActionWrite])

	flips := []bool{<-changes, <-changes}
	require.ElementsMatch(t, []bool{false, true}, flips)
}

func TestService_QuorumRules(t *testing.T) {
	svc := newTestService(t, TestConfig())
	startService(t, svc)
	ctx := context.Background()

	joinAll(t, svc, custodiantest.NewMembers(2)...)

	rule, err := ParseQuorumRule("distribute", "all", "100%")
	require.NoError(t, err)
	require.NoError(t, svc.SetQuorumRule(ctx, rule))
	require.Len(t, svc.QuorumRules(), 1)
	require.True(t, svc.QuorumStatus()[ActionDistribute])

	require.NoError(t, svc.MemberLeft(ctx, custodiantest.NewMember(2, "site-a"), false))
	require.False(t, svc.QuorumStatus()[ActionDistribute])

	removed, err := svc.RemoveQuorumRule(ctx, ActionDistribute, rule.Scope)
	require.NoError(t, err)
	require.True(t, removed)
	require.Empty(t, svc.QuorumRules())
	require.True(t, svc.QuorumStatus()[ActionDistribute])

	removed, err = svc.RemoveQuorumRule(ctx, ActionDistribute, rule.Scope)
	require.NoError(t, err)
	require.False(t, removed)

	bad := QuorumRule{Action: ActionWrite, Kind: types.ThresholdPercentage, Value: 2}
	require.ErrorIs(t, svc.SetQuorumRule(ctx, bad), ErrInvalidQuorumRule)
}

func TestService_SetQuorumRuleRebasesPercentages(t *testing.T) {
	cfg := TestConfig()
	cfg.Quorum.Rules = []QuorumRuleConfig{{Action: "write", Threshold: "50%"}}

	svc := newTestService(t, cfg)
	startService(t, svc)
	ctx := context.Background()

	members := custodiantest.NewMembers(4)
	joinAll(t, svc, members[0])
	joinAll(t, svc, members[1:]...)
	require.NoError(t, svc.MemberLeft(ctx, members[3], false))
	require.NoError(t, svc.MemberLeft(ctx, members[2], false))
	require.NoError(t, svc.MemberLeft(ctx, members[1], false))
	require.True(t, svc.QuorumStatus()[ActionWrite], "50% resolved against the first member")

	joinAll(t, svc, members[1:]...)
	rule, err := ParseQuorumRule("read", "", "1")
	require.NoError(t, err)
	require.NoError(t, svc.SetQuorumRule(ctx, rule))

	require.NoError(t, svc.MemberLeft(ctx, members[3], false))
	require.NoError(t, svc.MemberLeft(ctx, members[2], false))
	require.True(t, svc.QuorumStatus()[ActionWrite], "two of four members meet 50%")

	require.NoError(t, svc.MemberLeft(ctx, members[1], false))
	require.False(t, svc.QuorumStatus()[ActionWrite], "50% now resolves against four members")
}

func TestService_SuspendResume(t *testing.T) {
	svc := newTestService(t, TestConfig())
	startService(t, svc)
	ctx := context.Background()

	members := custodiantest.NewMembers(3, "site-a", "site-b", "site-c")
	joinAll(t, svc, members...)
	require.NotEmpty(t, svc.OwnedBy(1))

	require.NoError(t, svc.Suspend(ctx))
	require.NoError(t, svc.Suspend(ctx))
	require.Equal(t, StateSuspended, svc.State())

	require.ErrorIs(t, svc.CheckAccess(ActionRead, 0), ErrServiceSuspended)
	require.ErrorIs(t, svc.AssignPrimary(ctx, 0, 2), ErrServiceSuspended)

	// Departures are still tracked, but nothing is reassigned.
	require.NoError(t, svc.MemberLeft(ctx, members[0], true))
	require.Positive(t, svc.OrphanCount())

	require.NoError(t, svc.Resume(ctx))
	require.Equal(t, StateRunning, svc.State())
	require.Zero(t, svc.OrphanCount())
	require.NoError(t, svc.CheckAccess(ActionRead, 0))
}

func TestService_ManualMutations(t *testing.T) {
	svc := newTestService(t, TestConfig())
	startService(t, svc)
	ctx := context.Background()

	joinAll(t, svc, custodiantest.NewMembers(3, "site-a", "site-b", "site-c")...)

	r, err := svc.Record(5)
	require.NoError(t, err)
	spare := MemberID(1)
	for slices.Contains(r.Holders(), spare) {
		spare++
	}

	require.NoError(t, svc.TransferPrimary(ctx, 5, spare))
	require.Equal(t, spare, svc.Owner(5))

	require.NoError(t, svc.TransferBackup(ctx, 5, 0, r.Primary))
	after, err := svc.Record(5)
	require.NoError(t, err)
	require.Equal(t, r.Primary, after.Backups[0])
	require.Greater(t, after.Version, r.Version)

	err = svc.AssignPrimary(ctx, 5, 99)
	require.ErrorIs(t, err, ErrMemberNotEligible)
	require.Contains(t, err.Error(), "assign_primary")

	require.ErrorIs(t, svc.CreateBackup(ctx, 5, spare), ErrInvalidSlot, "every backup slot is filled")
	require.ErrorIs(t, svc.TransferBackup(ctx, 5, 0, spare), ErrDuplicateHolder)
	require.ErrorIs(t, svc.TransferBackup(ctx, 5, 3, spare), ErrInvalidSlot)
	require.ErrorIs(t, svc.TransferPrimary(ctx, 77, spare), ErrInvalidPartition)
}

func TestService_Follower(t *testing.T) {
	election := &fakeElection{}
	local := custodiantest.NewMember(2, "site-b")

	svc := newTestService(t, TestConfig(), WithElectionAgent(election), WithLocalMember(local))
	startService(t, svc)
	ctx := context.Background()

	require.False(t, svc.IsSenior())

	members := custodiantest.NewMembers(3, "site-a", "site-b", "site-c")
	joinAll(t, svc, members...)
	require.Equal(t, 31, svc.OrphanCount(), "followers never rebalance")

	require.ErrorIs(t, svc.AssignPrimary(ctx, 0, 1), ErrNotSenior)

	record := OwnershipRecord{Partition: 0, Primary: 1, Backups: []MemberID{2}, Version: 1}
	require.NoError(t, svc.ConfigUpdate(ctx, record))
	require.Equal(t, MemberID(1), svc.Owner(0))
	require.ErrorIs(t, svc.ConfigUpdate(ctx, record), ErrStaleRecord)

	bad := OwnershipRecord{Partition: 1, Primary: 1, Backups: []MemberID{1}, Version: 1}
	require.Error(t, svc.ConfigUpdate(ctx, bad))

	election.won.Store(true)
	require.Eventually(t, func() bool {
		return svc.IsSenior() && svc.OrphanCount() == 0
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
	require.Equal(t, int32(1), election.released.Load())
}

func TestService_FollowerDepartureKeepsReplicating(t *testing.T) {
	local := custodiantest.NewMember(2, "site-b")
	svc := newTestService(t, TestConfig(), WithElectionAgent(&fakeElection{}), WithLocalMember(local))
	startService(t, svc)
	ctx := context.Background()

	members := custodiantest.NewMembers(3, "site-a", "site-b", "site-c")
	joinAll(t, svc, members...)

	require.NoError(t, svc.ConfigUpdate(ctx, OwnershipRecord{Partition: 0, Primary: 3, Backups: []MemberID{2}, Version: 1}))
	require.NoError(t, svc.ConfigUpdate(ctx, OwnershipRecord{Partition: 1, Primary: 3, Backups: []MemberID{1}, Version: 4}))

	require.NoError(t, svc.MemberLeft(ctx, members[2], false))
	require.Equal(t, NoMember, svc.Owner(0), "the departed primary is cleared at once")
	require.ErrorIs(t, svc.CheckAccess(ActionRead, 0), ErrPartitionOrphaned)

	r, err := svc.Record(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), r.Version, "local clearing takes no version")

	// The senior's next record wins over the local change.
	require.NoError(t, svc.ConfigUpdate(ctx, OwnershipRecord{Partition: 0, Primary: 2, Backups: []MemberID{1}, Version: 2}))
	require.Equal(t, MemberID(2), svc.Owner(0))
	require.NoError(t, svc.CheckAccess(ActionRead, 0))

	// So does a record at the version the local change left in place.
	require.NoError(t, svc.ConfigUpdate(ctx, OwnershipRecord{Partition: 1, Primary: 1, Backups: []MemberID{2}, Version: 4}))
	require.Equal(t, MemberID(1), svc.Owner(1))
	require.ErrorIs(t, svc.ConfigUpdate(ctx, OwnershipRecord{Partition: 1, Primary: 2, Backups: []MemberID{1}, Version: 4}), ErrStaleRecord)
}

func TestService_TriggerRecoveryDisabled(t *testing.T) {
	svc := newTestService(t, TestConfig())
	startService(t, svc)

	require.ErrorIs(t, svc.TriggerRecovery(context.Background()), ErrPersistenceDisabled)
}

// recoveryFixture is three members whose previous incarnation left stores behind.
type recoveryFixture struct {
	source   *store.MemorySource
	info     *store.MemoryQuorumInfo
	managers map[MemberID]*store.MemoryManager
}

func newRecoveryFixture(t *testing.T) *recoveryFixture {
	t.Helper()

	f := &recoveryFixture{
		source:   store.NewMemorySource(),
		info:     store.NewMemoryQuorumInfo(),
		managers: make(map[MemberID]*store.MemoryManager),
	}
	for id := MemberID(1); id <= 3; id++ {
		mgr := store.NewMemoryManager(id)
		f.managers[id] = mgr
		f.source.Register(id, mgr)
	}

	require.NoError(t, f.info.SaveQuorumInfo(context.Background(), QuorumInfo{
		MemberCount: 3,
		Members:     []MemberID{1, 2, 3},
		SavedAt:     time.Unix(1000, 0),
	}))

	f.managers[1].Adopt(RecoveryToken{Partition: 0, Member: 1, Timestamp: 100}, []byte("stale"))
	f.managers[2].Adopt(RecoveryToken{Partition: 0, Member: 2, Timestamp: 200}, []byte("fresh"))
	f.managers[2].Adopt(RecoveryToken{Partition: 1, Member: 2, Timestamp: 50}, nil)
	f.managers[3].Adopt(RecoveryToken{Partition: 2, Member: 3, Timestamp: 10}, nil)
	f.managers[1].Adopt(RecoveryToken{Partition: 3, Member: 1, Timestamp: 300}, []byte("mine"))

	return f
}

func TestService_RecoveryEpisode(t *testing.T) {
	f := newRecoveryFixture(t)
	f.managers[1].Adopt(RecoveryToken{Partition: 3, Member: 1, Timestamp: 90}, []byte("older"))

	cfg := TestConfig()
	cfg.Persistence.Enabled = true
	cfg.Persistence.RecoveryQuorum = "3"

	completed := make(chan RecoveryReport, 4)
	hooks := &Hooks{
		OnRecoveryCompleted: func(_ context.Context, r RecoveryReport) error {
			completed <- r
			return nil
		},
	}

	svc := newTestService(t, cfg,
		WithHooks(hooks),
		WithTokenSource(f.source),
		WithQuorumInfoStore(f.info),
		WithLocalMember(custodiantest.NewMember(1, "site-a")),
		WithStoreManager(f.managers[1]),
	)
	startService(t, svc)
	ctx := context.Background()

	require.Equal(t, StateRecovering, svc.State())
	report, ok := svc.RecoveryStatus()
	require.True(t, ok)
	require.False(t, report.Done())

	members := custodiantest.NewMembers(3, "site-a", "site-b", "site-c")
	joinAll(t, svc, members[:2]...)
	require.Equal(t, StateRecovering, svc.State(), "two of three members are below the recovery quorum")
	require.Equal(t, 31, svc.OrphanCount())

	joinAll(t, svc, members[2])
	require.NoError(t, <-svc.WaitState(StateRunning, 5*time.Second))

	require.Equal(t, MemberID(2), svc.Owner(0))
	require.Equal(t, MemberID(2), svc.Owner(1))
	require.Equal(t, MemberID(3), svc.Owner(2))
	require.Equal(t, MemberID(1), svc.Owner(3))
	require.Zero(t, svc.OrphanCount())

	r0, err := svc.Record(0)
	require.NoError(t, err)
	require.Equal(t, []MemberID{1}, r0.Backups, "the superseded holder becomes the backup")

	select {
	case r := <-completed:
		require.Equal(t, 4, r.Recovered)
		require.Equal(t, 27, r.Placed)
		require.Equal(t, 3, r.Quorum)
		require.Contains(t, r.Superseded, RecoveryToken{Partition: 0, Member: 1, Timestamp: 100})
		require.Len(t, r.Restored, 4)
	case <-time.After(2 * time.Second):
		t.Fatal("recovery completed hook not called")
	}

	report, ok = svc.RecoveryStatus()
	require.True(t, ok)
	require.True(t, report.Done())

	// The local member opens its restored store, keeps the older copy of
	// the partition it now backs up and creates stores for the partitions
	// it was newly given.
	require.Eventually(t, func() bool {
		for _, p := range svc.OwnedBy(1) {
			if _, ok := svc.Store(p); !ok {
				return false
			}
		}

		return true
	}, 5*time.Second, 20*time.Millisecond)

	h, ok := svc.Store(3)
	require.True(t, ok)
	mh, ok := h.(*store.MemoryHandle)
	require.True(t, ok)
	require.Equal(t, []byte("mine"), mh.Data())

	held, err := f.managers[1].ListStores(ctx)
	require.NoError(t, err)
	require.Contains(t, held, RecoveryToken{Partition: 0, Member: 1, Timestamp: 100}, "backup store of partition 0 is kept")
	_, ok = svc.Store(0)
	require.False(t, ok, "backup stores are not opened")
	require.NotContains(t, held, RecoveryToken{Partition: 3, Member: 1, Timestamp: 90}, "older copy of partition 3 is deleted")

	t.Run("trigger recovery with nothing orphaned", func(t *testing.T) {
		require.NoError(t, svc.TriggerRecovery(ctx))
		require.Equal(t, StateRunning, svc.State())

		again, ok := svc.RecoveryStatus()
		require.True(t, ok)
		require.True(t, again.Done())
		require.NotEqual(t, report.EpisodeID, again.EpisodeID)
	})
}

func TestService_RecoveryTimeout(t *testing.T) {
	f := newRecoveryFixture(t)

	cfg := TestConfig()
	cfg.Persistence.Enabled = true
	cfg.Persistence.RecoveryTimeout = 100 * time.Millisecond

	timeouts := make(chan error, 4)
	hooks := &Hooks{
		OnRecoveryTimeout: func(_ context.Context, err error) error {
			select {
			case timeouts <- err:
			default:
			}

			return nil
		},
	}

	svc := newTestService(t, cfg, WithHooks(hooks), WithTokenSource(f.source), WithQuorumInfoStore(f.info))
	startService(t, svc)

	// One of three saved members is below the default two-thirds quorum.
	joinAll(t, svc, custodiantest.NewMember(1, "site-a"))

	select {
	case err := <-timeouts:
		require.ErrorIs(t, err, ErrOrphanedPartitionTimeout)
		var timeout *OrphanedPartitionTimeoutError
		require.True(t, errors.As(err, &timeout))
		require.Equal(t, 31, timeout.Orphans)
	case <-time.After(3 * time.Second):
		t.Fatal("recovery timeout hook not called")
	}
	require.Equal(t, StateRecovering, svc.State())
}

// failingTokenSource never answers and counts how often it was asked.
type failingTokenSource struct {
	calls atomic.Int64
}

func (f *failingTokenSource) ReportTokens(_ context.Context, _ MemberID) (types.TokenReport, error) {
	f.calls.Add(1)

	return types.TokenReport{}, errors.New("store directory unreadable")
}

func TestService_FailingTokenCollectionBacksOff(t *testing.T) {
	f := newRecoveryFixture(t)
	source := &failingTokenSource{}

	cfg := TestConfig()
	cfg.Persistence.Enabled = true
	cfg.Persistence.RecoveryQuorum = "1"

	svc := newTestService(t, cfg, WithTokenSource(source), WithQuorumInfoStore(f.info))
	startService(t, svc)

	joinAll(t, svc, custodiantest.NewMember(1, "site-a"))
	require.Eventually(t, func() bool { return source.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	// Retries double from the check interval, so half a second allows a
	// handful of attempts rather than one per tick.
	time.Sleep(500 * time.Millisecond)
	require.LessOrEqual(t, source.calls.Load(), int64(8))
	require.Equal(t, StateRecovering, svc.State())
	require.Equal(t, 31, svc.OrphanCount())
}

func TestService_SavesQuorumInfo(t *testing.T) {
	info := store.NewMemoryQuorumInfo()

	cfg := TestConfig()
	cfg.Persistence.Enabled = true
	cfg.Persistence.RecoveryQuorum = "1"

	source := store.NewMemorySource()
	source.Register(1, store.NewMemoryManager(1))
	source.Register(2, store.NewMemoryManager(2))

	svc := newTestService(t, cfg, WithTokenSource(source), WithQuorumInfoStore(info))
	startService(t, svc)

	joinAll(t, svc, custodiantest.NewMembers(2)...)
	require.NoError(t, <-svc.WaitState(StateRunning, 5*time.Second))

	require.Eventually(t, func() bool {
		saved, ok, err := info.LoadQuorumInfo(context.Background())
		return err == nil && ok && saved.MemberCount == 2
	}, 5*time.Second, 20*time.Millisecond)

	saved, _, err := info.LoadQuorumInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]int{
		"site-a/site-a-rack/site-a-host-1": 1,
		"site-a/site-a-rack/site-a-host-2": 1,
	}, saved.Machines)
}

func TestService_ForceRecovery(t *testing.T) {
	f := newRecoveryFixture(t)

	cfg := TestConfig()
	cfg.Persistence.Enabled = true

	svc := newTestService(t, cfg, WithTokenSource(f.source), WithQuorumInfoStore(f.info))
	startService(t, svc)
	ctx := context.Background()

	// One of three saved members is below the default two-thirds quorum.
	joinAll(t, svc, custodiantest.NewMember(1, "site-a"))
	require.Equal(t, StateRecovering, svc.State())
	require.Equal(t, 31, svc.OrphanCount())

	require.NoError(t, svc.ForceRecovery(ctx))
	require.NoError(t, <-svc.WaitState(StateRunning, 5*time.Second))

	require.Equal(t, MemberID(1), svc.Owner(0), "the only live holder wins")
	require.Equal(t, MemberID(1), svc.Owner(3))
	require.Zero(t, svc.OrphanCount())

	report, ok := svc.RecoveryStatus()
	require.True(t, ok)
	require.True(t, report.Forced)
	require.True(t, report.Done())

	require.ErrorIs(t, svc.ForceRecovery(ctx), ErrNoActiveRecovery)
}

func TestService_ForceRecoveryDisabled(t *testing.T) {
	svc := newTestService(t, TestConfig())
	startService(t, svc)

	require.ErrorIs(t, svc.ForceRecovery(context.Background()), ErrPersistenceDisabled)
}

func TestService_RecoveryWaitsForMachineCapacity(t *testing.T) {
	onMachine := func(id MemberID) Member {
		return Member{ID: id, Site: "a", Rack: "r", Machine: "m1", OwnershipEnabled: true}
	}

	for _, shared := range []bool{false, true} {
		info := store.NewMemoryQuorumInfo()
		require.NoError(t, info.SaveQuorumInfo(context.Background(), QuorumInfo{
			MemberCount: 3,
			Members:     []MemberID{1, 2, 3},
			Machines:    map[string]int{"a/r/m1": 3},
		}))
		source := store.NewMemorySource()
		source.Register(1, store.NewMemoryManager(1))
		source.Register(2, store.NewMemoryManager(2))

		cfg := TestConfig()
		cfg.Persistence.Enabled = true
		cfg.Persistence.RecoveryQuorum = "1"
		cfg.Persistence.SharedStorage = shared

		svc := newTestService(t, cfg, WithTokenSource(source), WithQuorumInfoStore(info))
		startService(t, svc)

		joinAll(t, svc, onMachine(1))
		if shared {
			require.NoError(t, <-svc.WaitState(StateRunning, 5*time.Second))
			continue
		}

		// Give collection and a few ticks a chance before checking it still waits.
		time.Sleep(200 * time.Millisecond)
		require.Equal(t, StateRecovering, svc.State(), "one of three members on the machine")

		joinAll(t, svc, onMachine(2))
		require.NoError(t, <-svc.WaitState(StateRunning, 5*time.Second))
	}
}
