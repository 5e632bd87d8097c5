package hooks

import (
	"context"

	"github.com/arloliu/custodian/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.State, types.State) error       = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, types.HAStatus, types.HAStatus) error = (*NopHooks)(nil).OnHAStatusChanged
	_ func(context.Context, types.ActionClass, bool) error        = (*NopHooks)(nil).OnQuorumChanged
	_ func(context.Context, types.RecoveryReport) error           = (*NopHooks)(nil).OnRecoveryCompleted
	_ func(context.Context, error) error                          = (*NopHooks)(nil).OnRecoveryTimeout
	_ func(context.Context, error) error                          = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnStateChanged:      h.OnStateChanged,
		OnHAStatusChanged:   h.OnHAStatusChanged,
		OnQuorumChanged:     h.OnQuorumChanged,
		OnRecoveryCompleted: h.OnRecoveryCompleted,
		OnRecoveryTimeout:   h.OnRecoveryTimeout,
		OnError:             h.OnError,
	}
}

// Merge returns h with every nil callback replaced by a no-op.
func Merge(h *types.Hooks) types.Hooks {
	out := NewNop()
	if h == nil {
		return out
	}
	if h.OnStateChanged != nil {
		out.OnStateChanged = h.OnStateChanged
	}
	if h.OnHAStatusChanged != nil {
		out.OnHAStatusChanged = h.OnHAStatusChanged
	}
	if h.OnQuorumChanged != nil {
		out.OnQuorumChanged = h.OnQuorumChanged
	}
	if h.OnRecoveryCompleted != nil {
		out.OnRecoveryCompleted = h.OnRecoveryCompleted
	}
	if h.OnRecoveryTimeout != nil {
		out.OnRecoveryTimeout = h.OnRecoveryTimeout
	}
	if h.OnError != nil {
		out.OnError = h.OnError
	}

	return out
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnHAStatusChanged is a no-op implementation.
func (h *NopHooks) OnHAStatusChanged(_ context.Context, _, _ types.HAStatus) error {
	return nil
}

// OnQuorumChanged is a no-op implementation.
func (h *NopHooks) OnQuorumChanged(_ context.Context, _ types.ActionClass, _ bool) error {
	return nil
}

// OnRecoveryCompleted is a no-op implementation.
func (h *NopHooks) OnRecoveryCompleted(_ context.Context, _ types.RecoveryReport) error {
	return nil
}

// OnRecoveryTimeout is a no-op implementation.
func (h *NopHooks) OnRecoveryTimeout(_ context.Context, _ error) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
