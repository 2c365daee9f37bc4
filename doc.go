/*
Package gesture keeps an in-memory mirror of the gesture preferences of a
device and reacts to live changes in the store that persists them.

Six boolean preferences are tracked: chop-chop torch, pick-up wake, hand-wave
wake (IR wakeup), hand-wave silencer, flip-to-mute and lift-to-silence. Pick-up
and IR wakeup are additionally gated on the device-wide doze secure setting,
which is read fresh on every call and never cached.

# Basic Usage

Create Settings over a Store, a SecureStore and a Notifier, then start it:

	settings := gesture.New(prefs, secure, notifier)
	if err := settings.Start(ctx); err != nil {
	    return err
	}

	if settings.IsPickUpEnabled(ctx) {
	    // arm the pick-up sensor
	}

Start subscribes to the store before loading the tracked keys, so no write is
lost between the two. Each change to a tracked key re-reads the store, updates
the cached flag and calls Notifier.UpdateState. Changes to any other key are
forwarded to the Propagator.

# Stores

Any type implementing Store can back Settings. MemoryStore is provided for
tests and embedding. The pkg directory holds file, badger, redis, nats, etcd,
consul, firestore, kubernetes, zookeeper and postgres backends.

# Propagation

Untracked keys pass through a pipz pipeline configured by Options:

	settings := gesture.New(prefs, secure, notifier,
	    gesture.WithRetry(3),
	    gesture.WithTimeout(time.Second),
	).Propagator(gesture.Mirror(prefs, system))

Failures are recorded (LastError, ErrorHistory) and emitted as capitan
signals; they are never returned to accessor callers.

# Testing

SyncMode disables the background goroutine; Process then handles one pending
change at a time:

	settings := gesture.New(store, secure, notifier).SyncMode()
	settings.Start(ctx)
	store.SetBool(ctx, gesture.PrefFlipToMute, true)
	settings.Process(ctx)

Debounce timing uses a clockz.Clock; inject clockz.NewFakeClock() with Clock
for deterministic tests.
*/
package gesture
