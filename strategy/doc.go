// Package strategy provides built-in placement strategies.
//
// A placement strategy chooses which member receives a new primary or backup
// copy of a partition during ordinary placement. Recovery never consults a
// strategy: restored partitions go to the member holding the newest store.
//
//   - ConsistentHash: Primaries follow a consistent hash ring of the candidates,
//     so the same partition tends to land on the same member across restarts
//   - LeastLoaded: Primaries go to the candidate holding the fewest copies
//
// Both strategies place backups on the candidate that is topologically most
// distant from the current holders (different site, then rack, then machine),
// which maximizes the HA status the partition can reach.
//
// Custom strategies implement types.PlacementStrategy.
package strategy
