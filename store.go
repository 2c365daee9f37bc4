package gesture

import "context"

// Change is a single edge-triggered notification from a Store.
// Value is the value observed when the change was emitted. Consumers that need
// the authoritative value re-read the store, since later writes may already
// have landed.
type Change struct {
	Key     string
	Value   bool
	Deleted bool
}

// Store is the preference backend mirrored by Settings.
type Store interface {
	// Bool returns the value stored for key. found is false when the key was
	// never written or has been deleted.
	Bool(ctx context.Context, key string) (value bool, found bool, err error)

	// Watch begins observing the store and returns a channel that emits one
	// Change per write, for every key, in the order the writes occurred.
	// The channel is closed when the context is canceled or an unrecoverable
	// error occurs.
	Watch(ctx context.Context) (<-chan Change, error)
}

// SecureStore is the device-wide secure settings backend. Settings only reads
// from it and never caches its values.
type SecureStore interface {
	Int(ctx context.Context, key string) (value int, found bool, err error)
}

// Writer mutates preferences. Backends implement it so that tooling and the
// Mirror propagator can write through to them.
type Writer interface {
	SetBool(ctx context.Context, key string, v bool) error
	Delete(ctx context.Context, key string) error
}

// GetBoolean returns the stored value of key, or def when the key is absent or
// cannot be read.
func GetBoolean(ctx context.Context, s Store, key string, def bool) bool {
	v, ok, err := s.Bool(ctx, key)
	if err != nil || !ok {
		return def
	}
	return v
}

// GetInt returns the stored value of key, or def when the key is absent or
// cannot be read.
func GetInt(ctx context.Context, s SecureStore, key string, def int) int {
	v, ok, err := s.Int(ctx, key)
	if err != nil || !ok {
		return def
	}
	return v
}

// IsDozeEnabled reads the doze secure setting. Unset means enabled.
func IsDozeEnabled(ctx context.Context, s SecureStore) bool {
	return GetInt(ctx, s, SecureDozeEnabled, defaultDoze) != 0
}
