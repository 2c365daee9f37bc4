package gesture

import (
	"context"
	"fmt"
)

// Notifier is informed that gesture configuration changed and derived state
// should be recomputed. Implementations must be cheap to call repeatedly.
type Notifier interface {
	UpdateState()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

// UpdateState calls f.
func (f NotifierFunc) UpdateState() { f() }

// Propagator forwards preference keys Settings does not track to the generic
// system-setting layer.
type Propagator interface {
	SetSystemSetting(ctx context.Context, key string) error
}

// PropagatorFunc adapts a function to Propagator.
type PropagatorFunc func(ctx context.Context, key string) error

// SetSystemSetting calls f.
func (f PropagatorFunc) SetSystemSetting(ctx context.Context, key string) error {
	return f(ctx, key)
}

// noopPropagator discards keys. Used until Propagator() is configured.
type noopPropagator struct{}

func (noopPropagator) SetSystemSetting(context.Context, string) error { return nil }

// Mirror returns a Propagator that copies the current value of a key from src
// into dst. A key absent from src is deleted from dst.
func Mirror(src Store, dst Writer) Propagator {
	return PropagatorFunc(func(ctx context.Context, key string) error {
		v, ok, err := src.Bool(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if !ok {
			if err := dst.Delete(ctx, key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			return nil
		}
		if err := dst.SetBool(ctx, key, v); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		return nil
	})
}

// Action is a hardware side effect bound to a gesture, such as the torch toggle
// triggered by chop-chop.
type Action interface {
	Action(ctx context.Context) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context) error

// Action calls f.
func (f ActionFunc) Action(ctx context.Context) error { return f(ctx) }
