package custodian

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/internal/delta"
	"github.com/arloliu/custodian/internal/election"
	"github.com/arloliu/custodian/internal/heartbeat"
	"github.com/arloliu/custodian/internal/kvutil"
	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/internal/membership"
	"github.com/arloliu/custodian/internal/metrics"
	"github.com/arloliu/custodian/internal/stableid"
	"github.com/arloliu/custodian/store"
	"github.com/arloliu/custodian/types"
)

// heartbeatPrefix is the key prefix of member heartbeats.
const heartbeatPrefix = "member"

// Node runs a Service as one member of a grid coordinated through NATS.
//
// Start claims a member id, publishes heartbeats, campaigns for seniority
// and replicates the senior's ownership map to every member. With
// persistence enabled it also catalogues local stores in the store bucket
// and publishes their recovery tokens for the senior to collect.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//
// Lifecycle:
//   - Create with NewNode()
//   - Call Start() to join the grid
//   - Call Stop() to leave gracefully
type Node struct {
	cfg    Config
	conn   *nats.Conn
	member Member
	opts   []Option
	owner  string

	logger  Logger
	metrics MetricsCollector

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	svc       *Service
	claimer   *stableid.Claimer
	hb        *heartbeat.Publisher
	monitor   *membership.Monitor
	publisher *delta.Publisher
	follower  *delta.Follower
	tokens    *store.KVTokenSource
}

// NewNode creates a new Node with the provided configuration.
//
// The member's ID is ignored; Start claims one from the member id bucket.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - conn: NATS connection for coordination
//   - member: Location labels and role of the local member
//   - opts: Service options, plus WithStorageOwner
//
// Returns:
//   - *Node: Initialized node
//   - error: ErrNATSConnectionRequired or a validation error
//
// Example:
//
//	cfg := custodian.DefaultConfig()
//	node, err := custodian.NewNode(&cfg, nc, custodian.Member{
//	    Machine: "host-1", Rack: "r1", Site: "east", OwnershipEnabled: true,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := node.Start(ctx); err != nil {
//	    return err
//	}
//	defer node.Stop(context.Background())
func NewNode(cfg *Config, conn *nats.Conn, member Member, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	options := &serviceOptions{}
	for _, opt := range opts {
		opt(options)
	}

	member = member.Normalize()
	if member.Role == "" {
		member.Role = cfg.ServiceName
	}

	owner := options.storageOwner
	if owner == "" {
		owner = member.Machine
	}

	n := &Node{
		cfg:     *cfg,
		conn:    conn,
		member:  member,
		opts:    opts,
		owner:   owner,
		logger:  options.logger,
		metrics: options.metrics,
	}
	if n.logger == nil {
		n.logger = logging.NewNop()
	}
	if n.metrics == nil {
		n.metrics = metrics.NewNop()
	}

	return n, nil
}

// Start joins the grid.
//
// Start sequence:
//  1. Ensure the member id, election, heartbeat and store buckets
//  2. Claim a member id and keep renewing it
//  3. Publish local recovery tokens (persistence only)
//  4. Start the Service and the ownership replication
//  5. Publish heartbeats and watch the heartbeats of others
//
// A failed Start undoes the completed steps.
//
// Parameters:
//   - ctx: Context for startup
//
// Returns:
//   - error: ErrAlreadyStarted, ErrIDClaimFailed or the failing step's error
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	if err := n.start(ctx, runCtx); err != nil {
		_ = n.shutdown(context.Background())
		return err
	}
	n.started = true

	return nil
}

// start runs the startup steps under ctx; background work runs under runCtx.
func (n *Node) start(ctx, runCtx context.Context) error {
	js, err := jetstream.New(n.conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	buckets := n.cfg.KVBuckets
	idKV, err := kvutil.EnsureBucket(ctx, js, buckets.MemberIDBucket, n.cfg.Membership.MemberIDTTL)
	if err != nil {
		return err
	}
	electionKV, err := kvutil.EnsureBucket(ctx, js, buckets.ElectionBucket, n.cfg.Membership.ElectionTTL)
	if err != nil {
		return err
	}
	heartbeatKV, err := kvutil.EnsureBucket(ctx, js, buckets.HeartbeatBucket, n.cfg.Membership.HeartbeatTTL)
	if err != nil {
		return err
	}
	// No TTL: the store catalog and the ownership map outlive every member.
	storeKV, err := kvutil.EnsureBucket(ctx, js, buckets.StoreBucket, 0)
	if err != nil {
		return err
	}

	// Step 1: Claim a member id
	n.claimer = stableid.NewClaimer(idKV,
		MemberID(n.cfg.Membership.MemberIDMin),
		MemberID(n.cfg.Membership.MemberIDMax),
		n.cfg.Membership.MemberIDTTL,
		n.logger,
	)
	id, err := n.claimer.Claim(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIDClaimFailed, err)
	}
	if err := n.claimer.StartRenewal(runCtx); err != nil {
		return fmt.Errorf("failed to start member id renewal: %w", err)
	}
	n.member.ID = id
	n.member.JoinedAt = time.Now()

	// Step 2: Local stores and their recovery tokens
	opts := append([]Option{}, n.opts...)
	opts = append(opts,
		WithLocalMember(n.member),
		WithElectionAgent(election.NewNATSElection(electionKV, election.DefaultKey)),
	)
	if n.cfg.Persistence.Enabled {
		storeOpts, err := n.openStores(ctx, storeKV, id)
		if err != nil {
			return err
		}
		opts = append(opts, storeOpts...)
	}

	// Step 3: Service and ownership replication
	svc, err := NewService(&n.cfg, opts...)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	n.svc = svc

	n.follower = delta.NewFollower(storeKV, delta.DefaultPrefix, svc, delta.WithLogger(n.logger))
	if err := n.follower.Start(runCtx); err != nil {
		return err
	}
	n.publisher = delta.NewPublisher(storeKV, delta.DefaultPrefix, svc,
		delta.WithLogger(n.logger),
		delta.WithMetrics(n.metrics),
		delta.WithMember(id),
	)
	if err := n.publisher.Start(runCtx); err != nil {
		return err
	}

	// Step 4: Membership
	n.hb = heartbeat.New(heartbeatKV, heartbeatPrefix, n.cfg.Membership.HeartbeatInterval,
		heartbeat.WithLogger(n.logger),
		heartbeat.WithMetrics(n.metrics),
	)
	n.hb.SetMember(n.member)
	if err := n.hb.Start(ctx); err != nil {
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}

	n.monitor = membership.NewMonitor(heartbeatKV, heartbeatPrefix, n.cfg.Membership.HeartbeatTTL, svc,
		membership.WithLogger(n.logger),
		membership.WithMetrics(n.metrics),
	)
	if err := n.monitor.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start membership monitor: %w", err)
	}

	n.logger.Info("node started",
		"member_id", id,
		"machine", n.member.Machine,
		"site", n.member.Site,
		"persistence", n.cfg.Persistence.Enabled,
	)

	return nil
}

// openStores builds the KV-backed store manager and publishes the tokens
// it finds from earlier incarnations.
func (n *Node) openStores(ctx context.Context, kv jetstream.KeyValue, id MemberID) ([]Option, error) {
	manager, err := store.NewKVManager(kv, n.owner, store.WithKVMetrics(n.metrics))
	if err != nil {
		return nil, err
	}
	manager.SetMember(id)

	held, err := manager.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local stores: %w", err)
	}

	tokens := store.NewKVTokenSource(kv, store.WithKVMetrics(n.metrics))
	if err := tokens.Publish(ctx, id, held); err != nil {
		return nil, fmt.Errorf("failed to publish recovery tokens: %w", err)
	}
	n.tokens = tokens

	n.logger.Info("recovery tokens published", "member_id", id, "owner", n.owner, "tokens", len(held))

	return []Option{
		WithStoreManager(manager),
		WithTokenSource(tokens),
		WithQuorumInfoStore(store.NewKVQuorumInfo(kv, store.WithKVMetrics(n.metrics))),
	}, nil
}

// Stop leaves the grid gracefully.
//
// The heartbeat key is deleted so other members see a graceful leave, the
// seniority lease and the member id are released.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: ErrNotStarted, or the joined errors of the shutdown steps
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		return ErrNotStarted
	}
	n.started = false

	err := n.shutdown(ctx)
	if err == nil {
		n.logger.Info("node stopped", "member_id", n.member.ID)
	}

	return err
}

// shutdown stops whatever start completed, in reverse order.
func (n *Node) shutdown(ctx context.Context) error {
	var errs []error

	// Step 1: Stop observing membership, then leave
	if n.monitor != nil {
		if err := n.monitor.Stop(); err != nil && !errors.Is(err, types.ErrMonitorNotStarted) {
			errs = append(errs, fmt.Errorf("membership monitor stop failed: %w", err))
		}
		n.monitor = nil
	}
	if n.hb != nil {
		if err := n.hb.Stop(); err != nil && !errors.Is(err, heartbeat.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("heartbeat stop failed: %w", err))
		}
		n.hb = nil
	}

	// Step 2: Ownership replication
	if n.publisher != nil {
		if err := n.publisher.Stop(); err != nil && !errors.Is(err, delta.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("ownership publisher stop failed: %w", err))
		}
		n.publisher = nil
	}
	if n.follower != nil {
		if err := n.follower.Stop(); err != nil && !errors.Is(err, delta.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("ownership follower stop failed: %w", err))
		}
		n.follower = nil
	}

	// Step 3: Service; releases seniority
	if n.svc != nil {
		if err := n.svc.Stop(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
			errs = append(errs, fmt.Errorf("service stop failed: %w", err))
		}
	}

	// Step 4: Recovery tokens and member id
	if n.tokens != nil && n.member.ID.IsValid() {
		if err := n.tokens.Withdraw(ctx, n.member.ID); err != nil {
			errs = append(errs, fmt.Errorf("recovery token withdraw failed: %w", err))
		}
		n.tokens = nil
	}
	if n.claimer != nil {
		if err := n.claimer.Release(ctx); err != nil && !errors.Is(err, stableid.ErrNotClaimed) {
			errs = append(errs, fmt.Errorf("member id release failed: %w", err))
		}
		n.claimer = nil
	}

	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		n.logger.Error("node shutdown incomplete", "member_id", n.member.ID, "error", err)

		return err
	}

	return nil
}

// Service returns the running Service, or nil before Start.
func (n *Node) Service() *Service {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.svc
}

// MemberID returns the claimed member id, or NoMember before Start.
func (n *Node) MemberID() MemberID {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.member.ID
}

// Members returns the live members seen through heartbeats, sorted by id.
func (n *Node) Members() []Member {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.monitor == nil {
		return nil
	}

	return n.monitor.Members()
}
