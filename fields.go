package gesture

import "github.com/zoobzio/capitan"

// Field keys for Settings events.
var (
	// KeyState is the current state of Settings.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDebounce is the configured notification debounce.
	KeyDebounce = capitan.NewDurationKey("debounce")

	// KeyPreference is the preference key a change refers to.
	KeyPreference = capitan.NewStringKey("preference")

	// KeyValue is the refreshed value of a tracked preference, "true" or "false".
	KeyValue = capitan.NewStringKey("value")

	// KeyCoalesced is the number of tracked changes folded into one notification.
	KeyCoalesced = capitan.NewIntKey("coalesced")
)
