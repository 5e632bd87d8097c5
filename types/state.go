package types

// State represents the service lifecycle state.
//
// States follow a defined progression:
//
//	StateInit → StateRecovering → StateRunning ⇄ StateSuspended → StateShutdown
//
// Services without persistence go straight from StateInit to StateRunning.
type State int

const (
	// StateInit is the initial state before Start.
	StateInit State = iota

	// StateRecovering indicates a persistence recovery episode is in progress.
	StateRecovering

	// StateRunning indicates normal operation.
	StateRunning

	// StateSuspended indicates an operator suspended the service.
	StateSuspended

	// StateShutdown indicates the service stopped and ownership was reset.
	StateShutdown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRecovering:
		return "Recovering"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}
