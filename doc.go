// Package custodian keeps partition ownership consistent across the members of
// an in-memory data grid and governs recovery of persisted partition stores.
//
// Every partition has one primary and up to BackupCount backups. The senior
// member places them with a location-aware consistent hash, rebalances when
// members join or leave, and replicates the resulting ownership map to all
// other members. Quorum rules gate each action class (distribute, restore,
// read, write, backup, recover) on how many members are present in a scope.
//
// # Quick Start
//
// A Node binds a Service to NATS for membership, seniority and replication:
//
//	import "github.com/arloliu/custodian"
//
//	cfg := custodian.DefaultConfig()
//	node, err := custodian.NewNode(&cfg, natsConn, custodian.Member{
//	    Machine:          "host-1",
//	    Rack:             "rack-a",
//	    Site:             "east",
//	    OwnershipEnabled: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Stop(context.Background())
//
//	svc := node.Service()
//	if err := svc.CheckAccess(custodian.ActionWrite, partition); err != nil {
//	    // reject the client operation
//	}
//
// A Service can also be driven directly, feeding MemberJoined and
// MemberLeft from any membership source.
//
// # Key Features
//
//   - HA status: SITE_SAFE, RACK_SAFE, MACHINE_SAFE, NODE_SAFE or ENDANGERED per snapshot
//   - Quorum rules: absolute or percentage thresholds per action and scope
//   - Recovery: after a grid-wide restart, partitions are restored from the
//     newest persisted store once a recovery quorum of members has reported
//   - Manual mutations: AssignPrimary, CreateBackup, TransferBackup and
//     TransferPrimary on the senior
//
// # Architecture
//
// The service progresses through a state machine:
//
//	Init → Recovering → Running ⇄ Suspended → Shutdown
//
// All mutations are processed in order by a single event loop. Readers see
// immutable snapshots published after every batch.
//
// See the examples/ directory for a complete working example.
package custodian
