package sandbox

// State represents the lifecycle state of a plugin instance.
type State int

// Lifecycle states. Transitions are one-directional: Loaded →
// Activating → Active → Deactivating → ShutDown, with Fatal reachable
// from Loaded or Activating on unrecoverable bootstrap or activation
// errors.
const (
	// StateLoaded - entry script executed, not yet activated.
	StateLoaded State = iota

	// StateActivating - activate callbacks are running.
	StateActivating

	// StateActive - ready sent, ordinary operation.
	StateActive

	// StateDeactivating - shutdown began, deactivate callbacks running.
	StateDeactivating

	// StateShutDown - execution context torn down.
	StateShutDown

	// StateFatal - terminal bootstrap/activation failure.
	StateFatal
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateShutDown:
		return "shutdown"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CanCall returns true while ordinary operation (RPC dispatch, command
// invocation) may proceed. Teardown and fatal states refuse new work.
func (s State) CanCall() bool {
	return s == StateLoaded || s == StateActivating || s == StateActive
}
