package types

import "context"

// Hooks defines callbacks for service lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// so the event loop never blocks on them. Hooks receive the service's
// lifecycle context which will be cancelled during shutdown.
//
// Hook errors are logged but don't fail service operations.
//
// Example:
//
//	hooks := &custodian.Hooks{
//	    OnHAStatusChanged: func(ctx context.Context, from, to custodian.HAStatus) error {
//	        if to == custodian.HAEndangered {
//	            pager.Notify("partitions endangered")
//	        }
//	        return nil
//	    },
//	}
type Hooks struct {
	// OnStateChanged is called when the service state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnHAStatusChanged is called when the service HA status changes.
	OnHAStatusChanged func(ctx context.Context, from, to HAStatus) error

	// OnQuorumChanged is called when an action class flips between allowed and disallowed.
	OnQuorumChanged func(ctx context.Context, action ActionClass, allowed bool) error

	// OnRecoveryCompleted is called when a recovery episode leaves no orphan.
	OnRecoveryCompleted func(ctx context.Context, report RecoveryReport) error

	// OnRecoveryTimeout is called each time a recovery episode exceeds its wait.
	// err is an *OrphanedPartitionTimeoutError.
	OnRecoveryTimeout func(ctx context.Context, err error) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error
}
