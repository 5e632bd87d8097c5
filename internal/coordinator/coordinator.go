package coordinator

import (
	"errors"
	"fmt"
	"slices"

	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/internal/metrics"
	"github.com/arloliu/custodian/internal/ownership"
	"github.com/arloliu/custodian/strategy"
	"github.com/arloliu/custodian/types"
)

// Mutation result labels recorded in metrics.
const (
	resultOK       = "ok"
	resultQuorum   = "quorum_violation"
	resultRejected = "rejected"
)

// Gate asserts quorum for an action class. *quorum.Engine implements it.
type Gate interface {
	Assert(action types.ActionClass, topo *types.Topology) error
}

// Coordinator mutates the ownership map on behalf of the service.
type Coordinator struct {
	owners   *ownership.Map
	gate     Gate
	strategy types.PlacementStrategy
	topo     *types.Topology
	logger   types.Logger
	metrics  types.OwnershipMetrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStrategy sets the placement strategy (default strategy.ConsistentHash).
func WithStrategy(s types.PlacementStrategy) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.strategy = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l types.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the ownership metrics sink.
func WithMetrics(m types.OwnershipMetrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a coordinator over the given map and quorum gate.
//
// Parameters:
//   - owners: Ownership map; the coordinator becomes its single writer
//   - gate: Quorum gate consulted before every mutation
//   - opts: Optional configuration
//
// Returns:
//   - *Coordinator: Coordinator with an empty topology
func New(owners *ownership.Map, gate Gate, opts ...Option) *Coordinator {
	c := &Coordinator{
		owners:   owners,
		gate:     gate,
		strategy: strategy.NewConsistentHash(),
		topo:     types.EmptyTopology(),
		logger:   logging.NewNop(),
		metrics:  metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetTopology installs the topology that gates and placements use.
func (c *Coordinator) SetTopology(topo *types.Topology) {
	if topo != nil {
		c.topo = topo
	}
}

// Topology returns the current topology.
func (c *Coordinator) Topology() *types.Topology {
	return c.topo
}

// Snapshot returns an immutable copy of the ownership map.
func (c *Coordinator) Snapshot() *ownership.Snapshot {
	return c.owners.Snapshot()
}

// Map returns the underlying ownership map.
func (c *Coordinator) Map() *ownership.Map {
	return c.owners
}

// State returns the lifecycle state and filled backup count of a partition.
func (c *Coordinator) State(p int) (types.PartitionState, int, error) {
	r, err := c.owners.Record(p)
	if err != nil {
		return types.PartitionUnowned, 0, err
	}
	state, filled := types.StateOf(r)

	return state, filled, nil
}

// AssignPrimary makes m the primary of p.
//
// Assigning an orphaned partition needs restore; replacing a live primary
// needs distribute. The replaced primary loses its copy.
//
// Parameters:
//   - p: Partition id
//   - m: New primary; must be live, ownership-enabled and not already holding p
//
// Returns:
//   - error: Quorum violation, ErrMemberNotEligible, ErrDuplicateHolder, nil on success
func (c *Coordinator) AssignPrimary(p int, m types.MemberID) error {
	const op = "assign_primary"

	r, err := c.owners.Record(p)
	if err != nil {
		return c.done(op, err)
	}

	action := types.ActionDistribute
	if r.IsOrphaned() || !c.topo.Contains(r.Primary) {
		action = types.ActionRestore
	}
	if err := c.gate.Assert(action, c.topo); err != nil {
		return c.done(op, err)
	}
	if err := c.checkTarget(r, m); err != nil {
		return c.done(op, err)
	}

	err = c.owners.SetPrimary(p, m, r.Version)
	if err == nil {
		c.logger.Debug("primary assigned", "partition", p, "member_id", m, "previous", r.Primary)
	}

	return c.done(op, err)
}

// CreateBackup places m in the first empty backup slot of p.
//
// Returns:
//   - error: Quorum violation, ErrPartitionOrphaned, ErrInvalidSlot when no
//     slot is empty, eligibility errors, nil on success
func (c *Coordinator) CreateBackup(p int, m types.MemberID) error {
	const op = "create_backup"

	r, err := c.owners.Record(p)
	if err != nil {
		return c.done(op, err)
	}
	if err := c.gate.Assert(types.ActionBackup, c.topo); err != nil {
		return c.done(op, err)
	}
	if r.IsOrphaned() {
		return c.done(op, fmt.Errorf("%w: partition %d", types.ErrPartitionOrphaned, p))
	}

	slot := r.EmptySlot()
	if slot < 0 {
		return c.done(op, fmt.Errorf("%w: partition %d has no empty backup slot", types.ErrInvalidSlot, p))
	}
	if err := c.checkTarget(r, m); err != nil {
		return c.done(op, err)
	}

	err = c.owners.SetBackup(p, slot, m, r.Version)
	if err == nil {
		c.logger.Debug("backup created", "partition", p, "slot", slot, "member_id", m)
	}

	return c.done(op, err)
}

// TransferBackup moves backup slot of p to m.
//
// Returns:
//   - error: Quorum violation, ErrInvalidSlot, eligibility errors, nil on success
//     (also when m already occupies the slot)
func (c *Coordinator) TransferBackup(p int, slot int, m types.MemberID) error {
	const op = "transfer_backup"

	r, err := c.owners.Record(p)
	if err != nil {
		return c.done(op, err)
	}
	if err := c.gate.Assert(types.ActionBackup, c.topo); err != nil {
		return c.done(op, err)
	}
	if slot < 0 || slot >= len(r.Backups) {
		return c.done(op, fmt.Errorf("%w: slot %d, backup count %d", types.ErrInvalidSlot, slot, len(r.Backups)))
	}
	if r.Backups[slot] == m && m != types.NoMember {
		return c.done(op, nil)
	}
	if err := c.checkTarget(r, m); err != nil {
		return c.done(op, err)
	}

	err = c.owners.SetBackup(p, slot, m, r.Version)
	if err == nil {
		c.logger.Debug("backup transferred", "partition", p, "slot", slot, "from", r.Backups[slot], "to", m)
	}

	return c.done(op, err)
}

// TransferPrimary moves the primary of p to m.
//
// When m is a backup of p the two swap roles in one mutation; otherwise the
// previous primary loses its copy.
//
// Returns:
//   - error: Quorum violation, ErrPartitionOrphaned, ErrMemberNotEligible, nil on success
func (c *Coordinator) TransferPrimary(p int, m types.MemberID) error {
	const op = "transfer_primary"

	r, err := c.owners.Record(p)
	if err != nil {
		return c.done(op, err)
	}
	if err := c.gate.Assert(types.ActionDistribute, c.topo); err != nil {
		return c.done(op, err)
	}
	if r.IsOrphaned() {
		return c.done(op, fmt.Errorf("%w: partition %d", types.ErrPartitionOrphaned, p))
	}
	if r.Primary == m {
		return c.done(op, nil)
	}
	if !c.topo.IsEligible(m) {
		return c.done(op, fmt.Errorf("%w: member %d", types.ErrMemberNotEligible, m))
	}

	backups := slices.Clone(r.Backups)
	if slot := r.BackupSlot(m); slot >= 0 {
		backups[slot] = r.Primary
	}

	err = c.owners.SetRecord(p, m, backups, r.Version)
	if err == nil {
		c.logger.Debug("primary transferred", "partition", p, "from", r.Primary, "to", m)
	}

	return c.done(op, err)
}

// PromoteBackup makes the first live backup of an orphaned partition its primary.
// Remaining backups keep their order and move up one slot.
//
// Returns:
//   - types.MemberID: Promoted member
//   - error: Quorum violation, ErrNoEligibleMember when no backup is live,
//     nil on success (also when p already has a primary)
func (c *Coordinator) PromoteBackup(p int) (types.MemberID, error) {
	const op = "promote_backup"

	r, err := c.owners.Record(p)
	if err != nil {
		return types.NoMember, c.done(op, err)
	}
	if !r.IsOrphaned() {
		return r.Primary, nil
	}
	if err := c.gate.Assert(types.ActionRestore, c.topo); err != nil {
		return types.NoMember, c.done(op, err)
	}

	idx := slices.IndexFunc(r.Backups, c.topo.IsEligible)
	if idx < 0 {
		return types.NoMember, c.done(op, fmt.Errorf("%w: partition %d has no live backup", types.ErrNoEligibleMember, p))
	}

	promoted := r.Backups[idx]
	backups := make([]types.MemberID, 0, len(r.Backups))
	for i, b := range r.Backups {
		if i != idx && b != types.NoMember {
			backups = append(backups, b)
		}
	}
	for len(backups) < len(r.Backups) {
		backups = append(backups, types.NoMember)
	}

	err = c.owners.SetRecord(p, promoted, backups, r.Version)
	if err == nil {
		c.logger.Info("backup promoted", "partition", p, "member_id", promoted)
	}

	return promoted, c.done(op, err)
}

// PlacePrimary picks a primary for an orphaned partition with the placement strategy.
//
// Returns:
//   - types.MemberID: Placed member (the existing primary if p is owned)
//   - error: Quorum violation, ErrNoEligibleMember, nil on success
func (c *Coordinator) PlacePrimary(p int) (types.MemberID, error) {
	const op = "place_primary"

	r, err := c.owners.Record(p)
	if err != nil {
		return types.NoMember, c.done(op, err)
	}
	if !r.IsOrphaned() {
		return r.Primary, nil
	}
	if err := c.gate.Assert(types.ActionRestore, c.topo); err != nil {
		return types.NoMember, c.done(op, err)
	}

	candidates := c.candidates(r)
	if len(candidates) == 0 {
		return types.NoMember, c.done(op, fmt.Errorf("%w: partition %d", types.ErrNoEligibleMember, p))
	}

	m, err := c.strategy.PlacePrimary(p, candidates, c.owners.Snapshot().Load())
	if err != nil {
		return types.NoMember, c.done(op, err)
	}
	if err := c.checkTarget(r, m); err != nil {
		return types.NoMember, c.done(op, err)
	}

	if err := c.owners.SetPrimary(p, m, r.Version); err != nil {
		return types.NoMember, c.done(op, err)
	}
	c.logger.Debug("primary placed", "partition", p, "member_id", m)

	return m, c.done(op, nil)
}

// MemberDeparted zeroes every slot naming the member. No reassignment happens here.
//
// Returns:
//   - []int: Partitions whose record changed
func (c *Coordinator) MemberDeparted(id types.MemberID) []int {
	affected := c.owners.ClearMember(id)
	c.metrics.RecordMemberDeparture(len(affected))
	if len(affected) > 0 {
		c.logger.Info("member departed, slots cleared", "member_id", id, "partitions", len(affected))
	}

	return affected
}

// MemberDetached is MemberDeparted for members that replicate the map: slots
// are cleared without taking versions, leaving them to the senior's records.
//
// Returns:
//   - []int: Partitions whose record changed
func (c *Coordinator) MemberDetached(id types.MemberID) []int {
	affected := c.owners.DetachMember(id)
	c.metrics.RecordMemberDeparture(len(affected))
	if len(affected) > 0 {
		c.logger.Info("member departed, slots detached", "member_id", id, "partitions", len(affected))
	}

	return affected
}

// RebalanceResult counts the mutations made by one Rebalance pass.
type RebalanceResult struct {
	Promoted int
	Placed   int
	Backups  int
}

// Changed reports whether the pass mutated anything.
func (r RebalanceResult) Changed() bool {
	return r.Promoted+r.Placed+r.Backups > 0
}

// Rebalance promotes backups of orphans, places primaries for the remaining
// orphans, then fills empty backup slots.
//
// A step whose action class is disallowed stops at its first quorum
// violation; later steps still run.
//
// Parameters:
//   - restoreOrphans: false skips the first two steps, leaving orphans to recovery
//
// Returns:
//   - RebalanceResult: Mutation counts
func (c *Coordinator) Rebalance(restoreOrphans bool) RebalanceResult {
	var res RebalanceResult
	if c.topo.OwnershipCount() == 0 {
		return res
	}

	if restoreOrphans {
		for _, p := range c.owners.Snapshot().Orphans() {
			if _, err := c.PromoteBackup(p); err == nil {
				res.Promoted++
			} else if errors.Is(err, types.ErrQuorumViolation) {
				break
			}
		}

		for _, p := range c.owners.Snapshot().Orphans() {
			if _, err := c.PlacePrimary(p); err == nil {
				res.Placed++
			} else if errors.Is(err, types.ErrQuorumViolation) {
				break
			}
		}
	}

	res.Backups = c.fillBackups()

	if res.Changed() {
		c.logger.Info("rebalance complete",
			"promoted", res.Promoted,
			"placed", res.Placed,
			"backups", res.Backups,
		)
	}

	return res
}

func (c *Coordinator) fillBackups() int {
	created := 0
	snap := c.owners.Snapshot()
	for _, r := range snap.Records() {
		if r.IsOrphaned() {
			continue
		}

		for slot := r.EmptySlot(); slot >= 0; slot = r.EmptySlot() {
			candidates := c.candidates(r)
			if len(candidates) == 0 {
				break
			}

			m, err := c.strategy.PlaceBackup(r.Partition, c.liveHolders(r), candidates, c.owners.Snapshot().Load())
			if err != nil {
				break
			}
			if err := c.CreateBackup(r.Partition, m); err != nil {
				if errors.Is(err, types.ErrQuorumViolation) {
					return created
				}

				break
			}
			created++

			r, _ = c.owners.Record(r.Partition)
		}
	}

	return created
}

// candidates returns eligible members not holding a copy of r, sorted by id.
func (c *Coordinator) candidates(r types.OwnershipRecord) []types.Member {
	all := c.topo.OwnershipMembers()
	out := make([]types.Member, 0, len(all))
	for _, m := range all {
		if !r.Holds(m.ID) {
			out = append(out, m)
		}
	}

	return out
}

func (c *Coordinator) liveHolders(r types.OwnershipRecord) []types.Member {
	ids := r.Holders()
	out := make([]types.Member, 0, len(ids))
	for _, id := range ids {
		if m, ok := c.topo.Member(id); ok {
			out = append(out, m)
		}
	}

	return out
}

func (c *Coordinator) checkTarget(r types.OwnershipRecord, m types.MemberID) error {
	if !c.topo.IsEligible(m) {
		return fmt.Errorf("%w: member %d", types.ErrMemberNotEligible, m)
	}
	if r.Holds(m) {
		return fmt.Errorf("%w: member %d already holds partition %d", types.ErrDuplicateHolder, m, r.Partition)
	}

	return nil
}

func (c *Coordinator) done(op string, err error) error {
	switch {
	case err == nil:
		c.metrics.RecordOwnershipMutation(op, resultOK)
	case errors.Is(err, types.ErrQuorumViolation):
		c.metrics.RecordOwnershipMutation(op, resultQuorum)
	default:
		c.metrics.RecordOwnershipMutation(op, resultRejected)
	}

	return err
}
