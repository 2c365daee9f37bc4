package gesture

// Preference keys mirrored by Settings. The strings are the wire contract with
// the backing store and must not change.
const (
	PrefChopChop      = "gesture_chop_chop"
	PrefPickUp        = "gesture_pick_up"
	PrefIRWakeup      = "gesture_hand_wave"
	PrefIRSilencer    = "gesture_ir_silencer"
	PrefFlipToMute    = "gesture_flip_to_mute"
	PrefLiftToSilence = "gesture_lift_to_silence"
)

// SecureDozeEnabled is the device-wide secure setting gating the doze gestures.
// It is stored as an int; any nonzero value means enabled.
const SecureDozeEnabled = "doze_enabled"

// defaultDoze is used when SecureDozeEnabled is unset or unreadable.
const defaultDoze = 1

// trackedKeys lists the mirrored keys in load order.
var trackedKeys = []string{
	PrefChopChop,
	PrefIRWakeup,
	PrefPickUp,
	PrefIRSilencer,
	PrefFlipToMute,
	PrefLiftToSilence,
}

// TrackedKeys returns the six preference keys mirrored by Settings.
func TrackedKeys() []string {
	keys := make([]string, len(trackedKeys))
	copy(keys, trackedKeys)
	return keys
}

// Tracked reports whether key is one of the mirrored gesture preferences.
func Tracked(key string) bool {
	_, ok := DefaultFlags().Get(key)
	return ok
}

// Default returns the default value of a tracked key. Unknown keys yield false.
func Default(key string) bool {
	v, _ := DefaultFlags().Get(key)
	return v
}

// Flags is the in-memory mirror of the gesture preferences.
type Flags struct {
	ChopChop      bool `json:"gesture_chop_chop" yaml:"gesture_chop_chop"`
	PickUp        bool `json:"gesture_pick_up" yaml:"gesture_pick_up"`
	IRWakeup      bool `json:"gesture_hand_wave" yaml:"gesture_hand_wave"`
	IRSilencer    bool `json:"gesture_ir_silencer" yaml:"gesture_ir_silencer"`
	FlipToMute    bool `json:"gesture_flip_to_mute" yaml:"gesture_flip_to_mute"`
	LiftToSilence bool `json:"gesture_lift_to_silence" yaml:"gesture_lift_to_silence"`
}

// DefaultFlags returns the flags used for keys that were never written.
func DefaultFlags() Flags {
	return Flags{
		ChopChop:      true,
		PickUp:        true,
		IRWakeup:      true,
		IRSilencer:    false,
		FlipToMute:    false,
		LiftToSilence: false,
	}
}

// Get returns the value held for key and whether key is tracked.
func (f Flags) Get(key string) (bool, bool) {
	switch key {
	case PrefChopChop:
		return f.ChopChop, true
	case PrefPickUp:
		return f.PickUp, true
	case PrefIRWakeup:
		return f.IRWakeup, true
	case PrefIRSilencer:
		return f.IRSilencer, true
	case PrefFlipToMute:
		return f.FlipToMute, true
	case PrefLiftToSilence:
		return f.LiftToSilence, true
	default:
		return false, false
	}
}

// set stores v for key. It returns false when key is not tracked.
func (f *Flags) set(key string, v bool) bool {
	switch key {
	case PrefChopChop:
		f.ChopChop = v
	case PrefPickUp:
		f.PickUp = v
	case PrefIRWakeup:
		f.IRWakeup = v
	case PrefIRSilencer:
		f.IRSilencer = v
	case PrefFlipToMute:
		f.FlipToMute = v
	case PrefLiftToSilence:
		f.LiftToSilence = v
	default:
		return false
	}
	return true
}
