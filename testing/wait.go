package testing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/custodian/types"
)

// StateWaiter is the part of *custodian.Service the wait helpers need.
type StateWaiter interface {
	WaitState(expected types.State, timeout time.Duration) <-chan error
}

// WaitAllState waits for every waiter to reach the expected state.
//
// It returns on the first failure; the remaining waits are abandoned.
//
// Parameters:
//   - ctx: Context for cancellation
//   - waiters: Services to wait on
//   - expected: Target state
//   - timeout: Maximum wait per service
//
// Returns:
//   - error: nil if all reached the state, the first failure otherwise
//
// Example:
//
//	err := custodiantest.WaitAllState(ctx, []custodiantest.StateWaiter{svc1, svc2}, types.StateRunning, 5*time.Second)
//	require.NoError(t, err)
func WaitAllState(ctx context.Context, waiters []StateWaiter, expected types.State, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range waiters {
		g.Go(func() error {
			select {
			case err := <-w.WaitState(expected, timeout):
				if err != nil {
					return fmt.Errorf("waiter[%d] failed to reach state %s: %w", i, expected, err)
				}

				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	return g.Wait()
}

// WaitAnyState waits until one waiter reaches the expected state.
//
// Returns:
//   - int: Index of the first waiter in the state, -1 if none made it
//   - error: Joined failures when every waiter timed out
func WaitAnyState(waiters []StateWaiter, expected types.State, timeout time.Duration) (int, error) {
	if len(waiters) == 0 {
		return -1, errors.New("no waiters provided")
	}

	type result struct {
		index int
		err   error
	}

	resultCh := make(chan result, len(waiters))
	for i, w := range waiters {
		go func() {
			resultCh <- result{index: i, err: <-w.WaitState(expected, timeout)}
		}()
	}

	errs := make([]error, 0, len(waiters))
	for range waiters {
		r := <-resultCh
		if r.err == nil {
			return r.index, nil
		}
		errs = append(errs, fmt.Errorf("waiter[%d]: %w", r.index, r.err))
	}

	return -1, fmt.Errorf("no waiter reached state %s: %w", expected, errors.Join(errs...))
}
