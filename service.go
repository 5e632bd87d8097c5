package custodian

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/custodian/internal/coordinator"
	"github.com/arloliu/custodian/internal/hooks"
	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/internal/metrics"
	"github.com/arloliu/custodian/internal/ownership"
	"github.com/arloliu/custodian/internal/quorum"
	"github.com/arloliu/custodian/internal/recovery"
	"github.com/arloliu/custodian/strategy"
	"github.com/arloliu/custodian/types"
)

// Service keeps partition ownership consistent for one member of the grid.
//
// Service is the main entry point of the custodian library. It handles:
//   - Topology tracking from membership events
//   - Quorum-gated rebalancing through the ownership coordinator
//   - Persistence recovery episodes after a service-wide restart
//   - HA status and quorum verdicts for readers
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Mutations are messages processed in delivery order by one event loop
//   - Readers see atomically published immutable snapshots
//
// Lifecycle:
//   - Create with NewService()
//   - Call Start() to begin processing events
//   - Feed membership events with MemberJoined/MemberLeft
//   - Call Stop() for shutdown; ownership resets to empty
type Service struct {
	cfg Config

	// Optional dependencies
	logger      Logger
	metrics     MetricsCollector
	hooks       Hooks
	tokenSource TokenSource
	quorumInfo  QuorumInfoStore
	election    ElectionAgent
	local       Member
	hasLocal    bool
	stores      StoreManager
	now         func() time.Time

	// Components owned by the event loop
	owners    *ownership.Map
	engine    *quorum.Engine
	coord     *coordinator.Coordinator
	recovery  *recovery.Coordinator
	collector *recovery.Collector
	rules     []types.QuorumRule

	events chan envelope

	// Published state, safe for any goroutine
	state    atomic.Int32
	snapshot atomic.Pointer[ownership.Snapshot]
	topo     atomic.Pointer[types.Topology]
	ha       atomic.Int32
	verdicts atomic.Pointer[map[ActionClass]bool]
	report   atomic.Pointer[RecoveryReport]
	senior   atomic.Bool
	revision atomic.Uint64

	// Set when an episode completes, cleared by the store loop
	reconcilePending atomic.Bool

	stateSubs     *registry[State]
	ownershipSubs *registry[uint64]
	handles       *xsync.Map[int, StoreHandle]
	storeDirty    chan struct{}

	// Event loop only
	topoVersion     uint64
	rulesConfigured bool
	savedCount      int
	savedMachines   map[string]int
	resumeTo        State

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewService creates a new Service with the provided configuration.
//
// Returns a concrete *Service struct following the "accept interfaces, return structs" principle.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - opts: Optional configuration (logger, metrics, hooks, token source, election agent, ...)
//
// Returns:
//   - *Service: Initialized service in StateInit
//   - error: Validation error if configuration is invalid
//
// Example:
//
//	cfg := custodian.DefaultConfig()
//	svc, err := custodian.NewService(&cfg, custodian.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := svc.Start(ctx); err != nil {
//	    return err
//	}
//	defer svc.Stop(context.Background())
func NewService(cfg *Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &serviceOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.electionAgent != nil && !options.hasLocal {
		return nil, fmt.Errorf("%w: election agent requires a local member", ErrInvalidConfig)
	}
	if cfg.Persistence.Enabled && options.tokenSource == nil {
		return nil, fmt.Errorf("%w: persistence requires a token source", ErrInvalidConfig)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	now := options.now
	if now == nil {
		now = time.Now
	}

	placement := options.strategy
	if placement == nil {
		placement = strategy.NewConsistentHash()
	}

	rules, _ := cfg.quorumRules() // validated above
	rounding, _ := quorum.ParseRounding(cfg.Quorum.Rounding)
	spec, _ := quorum.ParseRecoverySpec(cfg.Persistence.RecoveryQuorum)

	s := &Service{
		cfg:           *cfg,
		logger:        loggerInstance,
		metrics:       metricsCollector,
		hooks:         hooks.Merge(options.hooks),
		tokenSource:   options.tokenSource,
		quorumInfo:    options.quorumInfo,
		election:      options.electionAgent,
		local:         options.localMember.Normalize(),
		hasLocal:      options.hasLocal,
		stores:        options.storeManager,
		now:           now,
		rules:         rules,
		events:        make(chan envelope, cfg.EventBufferSize),
		stateSubs:     newRegistry[State](4),
		ownershipSubs: newRegistry[uint64](1),
		handles:       xsync.NewMap[int, StoreHandle](),
		storeDirty:    make(chan struct{}, 1),
	}

	s.owners = ownership.New(cfg.PartitionCount, cfg.BackupCount)
	s.engine = quorum.NewEngine(
		quorum.WithLogger(loggerInstance),
		quorum.WithReportInterval(cfg.Quorum.ReportInterval),
		quorum.WithClock(now),
	)
	s.coord = coordinator.New(s.owners, s.engine,
		coordinator.WithStrategy(placement),
		coordinator.WithLogger(loggerInstance),
		coordinator.WithMetrics(metricsCollector),
	)
	s.recovery = recovery.NewCoordinator(recovery.Config{
		Spec:           spec,
		Rounding:       rounding,
		Timeout:        cfg.Persistence.RecoveryTimeout,
		PartitionCount: cfg.PartitionCount,
		BackupCount:    cfg.BackupCount,
		RetryInterval:  cfg.Persistence.CheckInterval,
		ReportInterval: cfg.Quorum.ReportInterval,
		SharedStorage:  cfg.Persistence.SharedStorage,
	}, s.coord, s.engine,
		recovery.WithLogger(loggerInstance),
		recovery.WithMetrics(metricsCollector),
		recovery.WithClock(now),
	)
	if options.tokenSource != nil {
		s.collector = recovery.NewCollector(options.tokenSource,
			recovery.WithCollectTimeout(cfg.OperationTimeout),
			recovery.WithCollectorLogger(loggerInstance),
		)
	}

	// Initialize published state
	s.state.Store(int32(StateInit))
	s.snapshot.Store(s.owners.Snapshot())
	s.topo.Store(types.EmptyTopology())
	s.ha.Store(int32(HAEndangered))
	verdicts := s.engine.Verdicts(types.EmptyTopology())
	s.verdicts.Store(&verdicts)

	return s, nil
}

// Start begins processing events.
//
// With persistence enabled the service enters StateRecovering and starts a
// recovery episode using the saved QuorumInfo; otherwise it enters StateRunning.
// A failure to load QuorumInfo is logged and recovery falls back to the
// joined member count.
//
// Parameters:
//   - ctx: Context for loading QuorumInfo and the first election attempt
//
// Returns:
//   - error: ErrAlreadyStarted if called twice
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrAlreadyStarted
	}

	info, ok := s.loadQuorumInfo(ctx)
	s.savedCount = info.MemberCount
	s.savedMachines = info.Machines

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.election == nil {
		s.senior.Store(true)
	} else {
		s.senior.Store(s.campaign(ctx))
	}

	if s.cfg.Persistence.Enabled {
		s.recovery.Begin(info, ok)
		s.publishReport()
		s.transition(StateInit, StateRecovering)
	} else {
		s.transition(StateInit, StateRunning)
	}

	s.wg.Go(s.run)
	if s.election != nil {
		s.wg.Go(s.campaignLoop)
	}
	if s.persistsStores() {
		s.wg.Go(s.storeLoop)
	}

	s.logger.Info("service started",
		"service", s.cfg.ServiceName,
		"partitions", s.cfg.PartitionCount,
		"backups", s.cfg.BackupCount,
		"persistence", s.cfg.Persistence.Enabled,
		"senior", s.senior.Load(),
	)

	return nil
}

// Stop shuts the service down and resets ownership to empty.
//
// Safe to call multiple times - subsequent calls will return ErrNotStarted.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: Shutdown error or timeout
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()

		return ErrNotStarted
	}
	for {
		current := s.State()
		if current == StateShutdown {
			s.mu.Unlock()

			return ErrNotStarted
		}
		if s.transition(current, StateShutdown) {
			break
		}
	}
	s.cancel()
	s.mu.Unlock()

	var shutdownErr error

	// Release seniority so another member takes over at once
	if s.election != nil && s.senior.Load() {
		if err := s.election.ReleaseLeadership(ctx); err != nil {
			s.logger.Error("failed to release seniority", "error", err)
			shutdownErr = fmt.Errorf("seniority release failed: %w", err)
		}
		s.senior.Store(false)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Error("shutdown timeout exceeded, some goroutines may still be running")
		if shutdownErr == nil {
			return ctx.Err()
		}

		return fmt.Errorf("shutdown timeout: %w; additional error: %w", ctx.Err(), shutdownErr)
	}

	s.closeStores()
	s.owners.Reset()
	s.snapshot.Store(s.owners.Snapshot())
	s.stateSubs.closeAll()
	s.ownershipSubs.closeAll()

	s.logger.Info("service stopped gracefully")

	return shutdownErr
}

// State returns the current service state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// IsSenior reports whether this service runs ownership mutations.
//
// Always true without an election agent.
func (s *Service) IsSenior() bool {
	return s.senior.Load()
}

// HAStatus returns the service HA status, the minimum over all partitions.
func (s *Service) HAStatus() HAStatus {
	return HAStatus(s.ha.Load())
}

// OrphanCount returns the number of partitions without a primary.
func (s *Service) OrphanCount() int {
	return s.snapshot.Load().OrphanCount()
}

// QuorumStatus returns whether each action class is currently allowed.
//
// Returns:
//   - map[ActionClass]bool: Copy of the verdicts computed by the last event batch
func (s *Service) QuorumStatus() map[ActionClass]bool {
	return maps.Clone(*s.verdicts.Load())
}

// QuorumRules returns the active quorum rules.
func (s *Service) QuorumRules() []QuorumRule {
	return s.engine.Policy().Rules()
}

// Topology returns the current topology snapshot.
func (s *Service) Topology() *Topology {
	return s.topo.Load()
}

// Snapshot returns a copy of every ownership record in partition order.
func (s *Service) Snapshot() []OwnershipRecord {
	return s.snapshot.Load().Records()
}

// Record returns a copy of one partition's ownership record.
func (s *Service) Record(p int) (OwnershipRecord, error) {
	r, ok := s.snapshot.Load().Record(p)
	if !ok {
		return OwnershipRecord{}, fmt.Errorf("%w: %d", ErrInvalidPartition, p)
	}

	return r, nil
}

// Owner returns the primary of p, or NoMember.
func (s *Service) Owner(p int) MemberID {
	return s.snapshot.Load().Owner(p)
}

// OwnedBy returns the partitions whose primary is the member.
func (s *Service) OwnedBy(id MemberID) []int {
	return s.snapshot.Load().OwnedBy(id)
}

// Revision returns a counter bumped whenever an ownership record changes.
func (s *Service) Revision() uint64 {
	return s.revision.Load()
}

// PartitionState returns the lifecycle state and filled backup count of a partition.
func (s *Service) PartitionState(p int) (PartitionState, int, error) {
	r, err := s.Record(p)
	if err != nil {
		return types.PartitionUnowned, 0, err
	}
	state, filled := types.StateOf(r)

	return state, filled, nil
}

// RecoveryStatus returns the current or last recovery episode report.
//
// Returns:
//   - RecoveryReport: Copy of the report
//   - bool: false if no episode ever ran
func (s *Service) RecoveryStatus() (RecoveryReport, bool) {
	r := s.report.Load()
	if r == nil {
		return RecoveryReport{}, false
	}

	return *r, true
}

// Store returns the opened local store of partition p.
//
// Only populated when a StoreManager, a local member and persistence are configured.
func (s *Service) Store(p int) (StoreHandle, bool) {
	return s.handles.Load(p)
}

// CheckAccess reports whether a client operation of the given action class
// may be served for partition p right now.
//
// Parameters:
//   - action: ActionRead or ActionWrite for client operations
//   - p: Partition id
//
// Returns:
//   - error: ErrServiceSuspended, ErrInvalidPartition, ErrPartitionOrphaned,
//     *QuorumViolationError, or nil
func (s *Service) CheckAccess(action ActionClass, p int) error {
	switch s.State() {
	case StateInit, StateShutdown:
		return ErrNotStarted
	case StateSuspended:
		return ErrServiceSuspended
	}

	snap := s.snapshot.Load()
	if p < 0 || p >= snap.PartitionCount() {
		return fmt.Errorf("%w: %d", ErrInvalidPartition, p)
	}
	if snap.Owner(p) == NoMember {
		return fmt.Errorf("%w: %d", ErrPartitionOrphaned, p)
	}

	return s.engine.Assert(action, s.topo.Load())
}

// SubscribeState returns a channel that receives state transitions.
//
// The channel is buffered; a slow subscriber misses intermediate states.
// Call the returned func to unsubscribe. Channels close on Stop.
func (s *Service) SubscribeState() (<-chan State, func()) {
	return s.stateSubs.subscribe()
}

// WatchOwnership returns a channel that receives the ownership revision
// whenever a record changes.
//
// Signals coalesce: after a burst the receiver sees at least the latest
// revision. Call the returned func to unsubscribe.
func (s *Service) WatchOwnership() (<-chan uint64, func()) {
	return s.ownershipSubs.subscribe()
}

// WaitState waits for the service to reach the expected state within the timeout period.
//
// The returned channel receives exactly one value: nil if the state was
// reached, context.DeadlineExceeded otherwise.
//
// Example:
//
//	if err := <-svc.WaitState(custodian.StateRunning, 10*time.Second); err != nil {
//	    return fmt.Errorf("recovery did not complete: %w", err)
//	}
func (s *Service) WaitState(expectedState State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)

	go func() {
		defer close(ch)

		if s.State() == expectedState {
			ch <- nil
			return
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()

		for {
			select {
			case <-ticker.C:
				if s.State() == expectedState {
					ch <- nil
					return
				}
			case <-timeoutTimer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

// transition moves the state machine from one state to another and triggers hooks.
//
// Returns:
//   - bool: false if the transition is invalid or the state changed concurrently
func (s *Service) transition(from, to State) bool {
	if !isValidTransition(from, to) {
		s.logger.Error("invalid state transition attempted", "from", from.String(), "to", to.String())

		return false
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	s.logger.Info("state transition", "from", from.String(), "to", to.String())
	s.metrics.RecordStateTransition(from, to)
	s.stateSubs.emit(to)
	s.fire("state_changed", func(ctx context.Context) error {
		return s.hooks.OnStateChanged(ctx, from, to)
	})

	return true
}

// isValidTransition validates that a state transition is allowed.
func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateInit:       {StateRecovering, StateRunning, StateShutdown},
		StateRecovering: {StateRunning, StateSuspended, StateShutdown},
		StateRunning:    {StateRecovering, StateSuspended, StateShutdown},
		StateSuspended:  {StateRunning, StateRecovering, StateShutdown},
		StateShutdown:   {}, // Terminal state - no transitions allowed
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// fire runs a hook in the background so the event loop never blocks on it.
func (s *Service) fire(name string, fn func(ctx context.Context) error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		if err := fn(ctx); err != nil {
			s.logger.Error("hook error", "hook", name, "error", err)
		}
	}()
}

// reportError logs a recoverable error and passes it to the OnError hook.
func (s *Service) reportError(msg string, err error) {
	s.logger.Error(msg, "error", err)
	s.fire("error", func(ctx context.Context) error {
		return s.hooks.OnError(ctx, fmt.Errorf("%s: %w", msg, err))
	})
}

func (s *Service) loadQuorumInfo(ctx context.Context) (QuorumInfo, bool) {
	if s.quorumInfo == nil || !s.cfg.Persistence.Enabled {
		return QuorumInfo{}, false
	}

	lctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	info, ok, err := s.quorumInfo.LoadQuorumInfo(lctx)
	if err != nil {
		s.logger.Warn("failed to load quorum info, recovery quorum falls back to joined members", "error", err)

		return QuorumInfo{}, false
	}

	return info, ok
}

// campaign makes one seniority attempt.
func (s *Service) campaign(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	lease := int64(s.cfg.Membership.ElectionTTL / time.Second)
	won, err := s.election.RequestLeadership(cctx, s.local.ID, lease)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("seniority attempt failed", "member_id", s.local.ID, "error", err)

		return false
	}

	return won
}

// campaignLoop retries seniority every ElectionTTL/3 and posts changes to the loop.
func (s *Service) campaignLoop() {
	ticker := time.NewTicker(s.cfg.Membership.ElectionTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			won := s.campaign(s.ctx)
			if won != s.senior.Load() {
				s.post(seniorityEvent{senior: won})
			}
		}
	}
}

func (s *Service) publishReport() {
	if r, ok := s.recovery.Report(); ok {
		s.report.Store(&r)
	}
}
