package gesture

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Load reads the tracked keys from store. Keys that are absent or cannot be
// read resolve to their defaults, so Load never fails.
func Load(ctx context.Context, store Store) Flags {
	flags, _ := load(ctx, store)
	return flags
}

func load(ctx context.Context, store Store) (Flags, []*Failure) {
	flags := DefaultFlags()
	var failures []*Failure
	for _, key := range trackedKeys {
		v, ok, err := store.Bool(ctx, key)
		if err != nil {
			failures = append(failures, &Failure{Stage: StageRead, Key: key, Err: err})
			continue
		}
		if ok {
			flags.set(key, v)
		}
	}
	return flags, failures
}

// Start subscribes to the store, loads the tracked keys, and then applies
// changes asynchronously until ctx is canceled or the store closes its change
// channel.
//
// The subscription is made before the load so that a write landing between
// the two is seen as a change rather than lost.
//
// If the store cannot be watched, the flags are still loaded and Start
// returns the error with Settings in StateStopped.
//
// In sync mode, Start returns after the load. Use Process() to handle each
// subsequent change.
//
// Start can only be called once. Subsequent calls return ErrAlreadyStarted.
func (s *Settings) Start(ctx context.Context) error {
	s.startMu.Lock()
	if s.started {
		s.startMu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.startMu.Unlock()

	capitan.Emit(ctx, SettingsStarted,
		KeyDebounce.Field(s.debounce),
	)

	changes, err := s.store.Watch(ctx)
	s.loadAll(ctx)
	if err != nil {
		s.transitionState(ctx, StateLoading, StateStopped)
		return fmt.Errorf("failed to watch store: %w", err)
	}
	s.transitionState(ctx, StateLoading, StateWatching)

	if s.syncMode {
		s.changes = changes
		return nil
	}

	go s.watch(ctx, changes)

	return nil
}

// Process handles the next pending change from the store.
// This is only available in sync mode and is used for deterministic testing.
// Returns false if no change is pending or the channel is closed.
func (s *Settings) Process(ctx context.Context) bool {
	if !s.syncMode || s.changes == nil {
		return false
	}

	select {
	case change, ok := <-s.changes:
		if !ok {
			s.changes = nil
			s.transitionState(ctx, s.State(), StateStopped)
			return false
		}
		if s.handle(ctx, change) {
			s.notify(ctx, 1)
		}
		return true
	default:
		return false
	}
}

// loadAll replaces the cached flags with a fresh bulk read.
func (s *Settings) loadAll(ctx context.Context) {
	flags, failures := load(ctx, s.store)

	s.mu.Lock()
	s.flags = flags
	s.mu.Unlock()

	for _, f := range failures {
		s.fail(ctx, f)
	}
	capitan.Emit(ctx, SettingsLoaded)
}

// handle applies a single change and reports whether its key is tracked.
// Tracked keys are re-read from the store; untracked keys are forwarded to
// the propagator.
func (s *Settings) handle(ctx context.Context, change Change) bool {
	capitan.Emit(ctx, ChangeReceived,
		KeyPreference.Field(change.Key),
	)
	if s.metrics != nil {
		s.metrics.OnChangeReceived()
	}

	if !Tracked(change.Key) {
		s.propagate(ctx, change.Key)
		return false
	}
	s.refresh(ctx, change.Key)
	return true
}

// refresh re-reads a tracked key. On a read error the cached value is kept.
func (s *Settings) refresh(ctx context.Context, key string) {
	v, ok, err := s.store.Bool(ctx, key)
	if err != nil {
		s.fail(ctx, &Failure{Stage: StageRead, Key: key, Err: err})
		return
	}
	if !ok {
		v = Default(key)
	}

	s.mu.Lock()
	s.flags.set(key, v)
	s.mu.Unlock()

	capitan.Emit(ctx, PreferenceUpdated,
		KeyPreference.Field(key),
		KeyValue.Field(strconv.FormatBool(v)),
	)
	if s.metrics != nil {
		s.metrics.OnPreferenceUpdated(key)
	}
}

// propagate runs an untracked key through the propagation pipeline.
func (s *Settings) propagate(ctx context.Context, key string) {
	start := s.clock.Now()
	_, err := s.pipeline.Process(ctx, &Propagation{Key: key})
	if s.metrics != nil {
		s.metrics.OnPropagation(key, s.clock.Since(start), err)
	}
	if err != nil {
		s.fail(ctx, &Failure{Stage: StagePropagate, Key: key, Err: err})
		return
	}
	capitan.Emit(ctx, SettingPropagated,
		KeyPreference.Field(key),
	)
}

// notify invokes the notifier once on behalf of n tracked changes.
func (s *Settings) notify(ctx context.Context, n int) {
	if s.notifier != nil {
		s.notifier.UpdateState()
	}
	capitan.Emit(ctx, StateNotified,
		KeyCoalesced.Field(n),
	)
	if s.metrics != nil {
		s.metrics.OnNotify(n)
	}
}

// watch applies changes from the store channel, debouncing notifications
// when a debounce duration is set.
func (s *Settings) watch(ctx context.Context, changes <-chan Change) {
	defer func() {
		s.transitionState(ctx, s.State(), StateStopped)
		finalState := s.State()
		capitan.Emit(ctx, SettingsStopped,
			KeyState.Field(finalState.String()),
		)
		if s.onStop != nil {
			s.onStop(finalState)
		}
	}()

	var (
		timer   clockz.Timer
		pending int
	)

	for {
		// Get timer channel or nil if no timer
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			if pending > 0 {
				s.notify(context.WithoutCancel(ctx), pending)
			}
			return

		case change, ok := <-changes:
			if !ok {
				// Channel closed, deliver any pending notification.
				if pending > 0 {
					s.notify(ctx, pending)
				}
				return
			}

			if !s.handle(ctx, change) {
				continue
			}
			if s.debounce <= 0 {
				s.notify(ctx, 1)
				continue
			}
			pending++

			// Reset or start debounce timer
			if timer == nil {
				timer = s.clock.NewTimer(s.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(s.debounce)
			}

		case <-timerC:
			if pending > 0 {
				s.notify(ctx, pending)
				pending = 0
			}
		}
	}
}
