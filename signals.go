package gesture

import "github.com/zoobzio/capitan"

// Settings lifecycle signals.
var (
	// SettingsStarted is emitted when Settings subscribes to its store.
	SettingsStarted = capitan.NewSignal(
		"gesture.settings.started",
		"Settings watching started",
	)

	// SettingsStopped is emitted when the store subscription ends.
	SettingsStopped = capitan.NewSignal(
		"gesture.settings.stopped",
		"Settings watching stopped",
	)

	// SettingsStateChanged is emitted when Settings transitions between states.
	SettingsStateChanged = capitan.NewSignal(
		"gesture.settings.state.changed",
		"Settings state transition",
	)

	// SettingsLoaded is emitted after the bulk load of the tracked keys.
	SettingsLoaded = capitan.NewSignal(
		"gesture.settings.loaded",
		"Tracked preferences loaded",
	)
)

// Change processing signals.
var (
	// ChangeReceived is emitted for every change delivered by the store.
	ChangeReceived = capitan.NewSignal(
		"gesture.change.received",
		"Preference change received from store",
	)

	// PreferenceUpdated is emitted when a tracked flag is refreshed.
	PreferenceUpdated = capitan.NewSignal(
		"gesture.preference.updated",
		"Tracked preference refreshed",
	)

	// PreferenceReadFailed is emitted when the store cannot be read for a key.
	PreferenceReadFailed = capitan.NewSignal(
		"gesture.preference.read.failed",
		"Preference read failed",
	)

	// SettingPropagated is emitted when an untracked key was forwarded.
	SettingPropagated = capitan.NewSignal(
		"gesture.setting.propagated",
		"Untracked key forwarded to system settings",
	)

	// PropagationFailed is emitted when forwarding an untracked key fails.
	PropagationFailed = capitan.NewSignal(
		"gesture.setting.propagation.failed",
		"Untracked key propagation failed",
	)

	// StateNotified is emitted each time the notifier is invoked.
	StateNotified = capitan.NewSignal(
		"gesture.state.notified",
		"Dependent state notified",
	)
)

// Device signals.
var (
	// DozeReadFailed is emitted when the doze secure setting cannot be read.
	DozeReadFailed = capitan.NewSignal(
		"gesture.doze.read.failed",
		"Doze setting read failed",
	)

	// TorchToggled is emitted when the chop-chop action succeeds.
	TorchToggled = capitan.NewSignal(
		"gesture.torch.toggled",
		"Torch toggled",
	)

	// TorchFailed is emitted when the chop-chop action fails.
	TorchFailed = capitan.NewSignal(
		"gesture.torch.failed",
		"Torch toggle failed",
	)
)
