// Package types provides core type definitions and interfaces for the custodian library.
//
// This package contains shared types that are used across the internal packages
// (ownership, hastatus, quorum, coordinator, recovery) and the root custodian
// package. Keeping them here avoids import cycles between the public API and
// its implementations.
//
// Key types:
//   - Member, Topology: cluster membership and location labels
//   - OwnershipRecord: versioned partition ownership entry
//   - HAStatus: topology-derived replication safety level
//   - QuorumRule, ActionClass, Scope: quorum policy model
//   - RecoveryToken: identifier of a persisted partition store
//   - Logger, MetricsCollector, Hooks: ambient integration points
package types
