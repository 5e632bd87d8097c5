// Package coordinator applies quorum-gated ownership mutations.
//
// The Coordinator is the only writer of the ownership map. It runs on the
// service event loop and is not safe for concurrent use. Every mutation
// first asserts the action class it needs against the current topology;
// a disallowed mutation returns *types.QuorumViolationError and leaves the
// map unchanged.
//
// Action classes per operation:
//
//	AssignPrimary    restore (orphan) or distribute (replaces a live primary)
//	CreateBackup     backup
//	TransferBackup   backup
//	TransferPrimary  distribute
//	PromoteBackup    restore
//	PlacePrimary     restore
package coordinator
