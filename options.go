package custodian

import "time"

// Option configures a Service with optional dependencies.
type Option func(*serviceOptions)

// serviceOptions holds optional Service configuration.
type serviceOptions struct {
	logger        Logger
	metrics       MetricsCollector
	hooks         *Hooks
	strategy      PlacementStrategy
	tokenSource   TokenSource
	quorumInfo    QuorumInfoStore
	electionAgent ElectionAgent
	localMember   Member
	hasLocal      bool
	storeManager  StoreManager
	storageOwner  string
	now           func() time.Time
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	svc, err := custodian.NewService(&cfg, custodian.WithLogger(logging.NewSlogDefault()))
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "custodian")
//	svc, err := custodian.NewService(&cfg, custodian.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *serviceOptions) {
		o.metrics = metrics
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions; nil callbacks are no-ops
//
// Returns:
//   - Option: Functional option for NewService
//
// Example:
//
//	hooks := &custodian.Hooks{
//	    OnRecoveryCompleted: func(ctx context.Context, r custodian.RecoveryReport) error {
//	        log.Printf("recovered %d partitions", r.Recovered)
//	        return nil
//	    },
//	}
//	svc, err := custodian.NewService(&cfg, custodian.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *serviceOptions) {
		o.hooks = hooks
	}
}

// WithPlacementStrategy sets the strategy used for ordinary placement.
//
// Default: strategy.NewConsistentHash()
func WithPlacementStrategy(strategy PlacementStrategy) Option {
	return func(o *serviceOptions) {
		o.strategy = strategy
	}
}

// WithTokenSource sets where recovery tokens are collected from.
//
// Required when persistence is enabled.
func WithTokenSource(source TokenSource) Option {
	return func(o *serviceOptions) {
		o.tokenSource = source
	}
}

// WithQuorumInfoStore sets where the last known healthy membership is persisted.
//
// Without one, the recovery quorum falls back to the joined member count.
func WithQuorumInfoStore(store QuorumInfoStore) Option {
	return func(o *serviceOptions) {
		o.quorumInfo = store
	}
}

// WithElectionAgent makes ownership mutations conditional on seniority.
//
// The service campaigns with the local member's id every ElectionTTL/3.
// Requires WithLocalMember.
func WithElectionAgent(agent ElectionAgent) Option {
	return func(o *serviceOptions) {
		o.electionAgent = agent
	}
}

// WithLocalMember identifies the member this service runs on.
func WithLocalMember(member Member) Option {
	return func(o *serviceOptions) {
		o.localMember = member
		o.hasLocal = true
	}
}

// WithStoreManager sets the local storage engine.
//
// When set, a completed recovery episode opens the restored stores held by
// the local member and deletes its superseded ones.
func WithStoreManager(stores StoreManager) Option {
	return func(o *serviceOptions) {
		o.storeManager = stores
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		o.now = now
	}
}

// WithStorageOwner names the durable storage a Node catalogues its stores
// under. A restarted Node with the same owner finds the stores of its
// previous incarnation. Defaults to the member's machine label.
func WithStorageOwner(owner string) Option {
	return func(o *serviceOptions) {
		o.storageOwner = owner
	}
}
