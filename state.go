package gesture

// State represents the lifecycle state of Settings.
type State int32

const (
	// StateLoading indicates Settings has not finished its initial load.
	StateLoading State = iota

	// StateWatching indicates the flags are loaded and store changes are
	// being applied.
	StateWatching

	// StateStopped indicates the store subscription ended. Accessors keep
	// serving the last observed values.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
