package gesture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("settings already started")

	// ErrNoTorch is returned by ChopChopAction when no torch action is configured.
	ErrNoTorch = errors.New("no torch action configured")
)

// Settings mirrors the tracked gesture preferences of a Store in memory and
// keeps them current from the store's change stream.
//
// All flag mutation happens on a single goroutine started by Start; accessors
// may be called from any goroutine.
type Settings struct {
	store      Store
	secure     SecureStore
	notifier   Notifier
	propagator Propagator
	pipeline   pipz.Chainable[*Propagation]
	torch      Action
	debounce   time.Duration
	syncMode   bool
	clock      clockz.Clock
	metrics    MetricsProvider
	onStop     func(State)

	mu    sync.RWMutex
	flags Flags

	state     atomic.Int32
	lastError atomic.Pointer[error]
	failures  *failureRing

	startMu sync.Mutex
	started bool

	// For sync mode: channel to receive changes
	changes <-chan Change
}

// New creates Settings for the given preference store, secure settings store,
// and notifier. Until Start is called every flag holds its default.
//
// Options configure the pipeline used to forward untracked keys:
//
//	settings := gesture.New(prefs, secure, notifier,
//	    gesture.WithRetry(3),
//	    gesture.WithTimeout(time.Second),
//	).Propagator(gesture.Mirror(prefs, system))
func New(store Store, secure SecureStore, notifier Notifier, opts ...Option) *Settings {
	s := &Settings{
		store:      store,
		secure:     secure,
		notifier:   notifier,
		propagator: noopPropagator{},
		clock:      clockz.RealClock,
		flags:      DefaultFlags(),
	}
	terminal := pipz.Effect(propagateID, func(ctx context.Context, p *Propagation) error {
		return s.propagator.SetSystemSetting(ctx, p.Key)
	})
	s.pipeline = buildPipeline(terminal, opts)
	s.state.Store(int32(StateLoading))

	return s
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Propagator sets the routine that receives untracked keys.
// Default: keys are dropped. Must be called before Start().
func (s *Settings) Propagator(p Propagator) *Settings {
	s.propagator = p
	return s
}

// Torch sets the action run by ChopChopAction. Must be called before Start().
func (s *Settings) Torch(a Action) *Settings {
	s.torch = a
	return s
}

// Debounce coalesces notifications for tracked changes arriving within d of
// each other into one notifier call. Flags are still updated as each change
// arrives. A pending notification is delivered when the watch ends, whether
// the context is canceled or the store closes the channel.
// Default: 0, one notification per tracked change.
// Must be called before Start().
func (s *Settings) Debounce(d time.Duration) *Settings {
	s.debounce = d
	return s
}

// SyncMode enables synchronous processing for testing.
// In sync mode no goroutine is started and changes are handled one at a time
// by Process, without debouncing. Must be called before Start().
func (s *Settings) SyncMode() *Settings {
	s.syncMode = true
	return s
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic debounce testing.
// Must be called before Start().
func (s *Settings) Clock(clock clockz.Clock) *Settings {
	s.clock = clock
	return s
}

// Metrics sets a metrics provider for observability integration.
// Must be called before Start().
func (s *Settings) Metrics(provider MetricsProvider) *Settings {
	s.metrics = provider
	return s
}

// OnStop sets a callback invoked when the store subscription ends, with the
// final state. Must be called before Start().
func (s *Settings) OnStop(fn func(State)) *Settings {
	s.onStop = fn
	return s
}

// ErrorHistorySize sets the number of recent failures to retain.
// Use 0 (default) to only retain the most recent one via LastError().
// Must be called before Start().
func (s *Settings) ErrorHistorySize(n int) *Settings {
	s.failures = newFailureRing(n)
	return s
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// State returns the current lifecycle state.
func (s *Settings) State() State {
	return State(s.state.Load())
}

// Flags returns a snapshot of the cached flags.
func (s *Settings) Flags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// IsChopChopGestureEnabled reports whether chop-chop toggles the torch.
func (s *Settings) IsChopChopGestureEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags.ChopChop
}

// IsIrSilencerEnabled reports whether a hand wave silences incoming calls.
func (s *Settings) IsIrSilencerEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags.IRSilencer
}

// IsFlipToMuteEnabled reports whether flipping the device face down mutes it.
func (s *Settings) IsFlipToMuteEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags.FlipToMute
}

// IsLiftToSilenceEnabled reports whether lifting the device silences a ringing call.
func (s *Settings) IsLiftToSilenceEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags.LiftToSilence
}

// IsIrWakeupEnabled reports whether a hand wave wakes the display.
// It requires doze to be enabled at the time of the call.
func (s *Settings) IsIrWakeupEnabled(ctx context.Context) bool {
	if !s.IsDozeEnabled(ctx) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags.IRWakeup
}

// IsPickUpEnabled reports whether picking the device up wakes the display.
// It requires doze to be enabled at the time of the call.
func (s *Settings) IsPickUpEnabled(ctx context.Context) bool {
	if !s.IsDozeEnabled(ctx) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags.PickUp
}

// IsDozeEnabled reads the doze secure setting. The value is never cached:
// doze changes do not reach Settings through the preference store.
func (s *Settings) IsDozeEnabled(ctx context.Context) bool {
	if s.secure == nil {
		return defaultDoze != 0
	}
	v, ok, err := s.secure.Int(ctx, SecureDozeEnabled)
	if err != nil {
		s.fail(ctx, &Failure{Stage: StageDoze, Key: SecureDozeEnabled, Err: err})
		return defaultDoze != 0
	}
	if !ok {
		return defaultDoze != 0
	}
	return v != 0
}

// ChopChopAction runs the configured torch action.
func (s *Settings) ChopChopAction(ctx context.Context) error {
	if s.torch == nil {
		return ErrNoTorch
	}
	if err := s.torch.Action(ctx); err != nil {
		s.fail(ctx, &Failure{Stage: StageTorch, Err: err})
		return fmt.Errorf("chop-chop action: %w", err)
	}
	capitan.Emit(ctx, TorchToggled)
	return nil
}

// LastError returns the last failure recorded, or nil.
func (s *Settings) LastError() error {
	ptr := s.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns recent failures, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
// Each entry is a *Failure.
func (s *Settings) ErrorHistory() []error {
	return s.failures.all()
}

// ClearErrors forgets recorded failures.
func (s *Settings) ClearErrors() {
	s.lastError.Store(nil)
	s.failures.clear()
}

// fail records a failure and emits the signal for its stage.
func (s *Settings) fail(ctx context.Context, f *Failure) {
	var err error = f
	s.lastError.Store(&err)
	s.failures.push(f)

	key := KeyPreference.Field(f.Key)
	msg := KeyError.Field(f.Err.Error())
	switch f.Stage {
	case StageRead:
		capitan.Emit(ctx, PreferenceReadFailed, key, msg)
	case StagePropagate:
		capitan.Emit(ctx, PropagationFailed, key, msg)
	case StageDoze:
		capitan.Emit(ctx, DozeReadFailed, key, msg)
	case StageTorch:
		capitan.Emit(ctx, TorchFailed, msg)
	}
}

// transitionState updates the state and emits a state change event if changed.
func (s *Settings) transitionState(ctx context.Context, oldState, newState State) {
	if oldState == newState {
		return
	}
	s.state.Store(int32(newState))
	capitan.Emit(ctx, SettingsStateChanged,
		KeyOldState.Field(oldState.String()),
		KeyNewState.Field(newState.String()),
	)
	if s.metrics != nil {
		s.metrics.OnStateChange(oldState, newState)
	}
}
