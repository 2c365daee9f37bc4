package gesture

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key settings events.
type MetricsProvider interface {
	// OnStateChange is called when Settings transitions between states.
	OnStateChange(from, to State)

	// OnChangeReceived is called for every change delivered by the store.
	OnChangeReceived()

	// OnPreferenceUpdated is called after a tracked flag was refreshed.
	OnPreferenceUpdated(key string)

	// OnPropagation is called after an untracked key was forwarded.
	// err is nil on success.
	OnPropagation(key string, duration time.Duration, err error)

	// OnNotify is called each time the notifier is invoked. coalesced is the
	// number of tracked changes covered by the call.
	OnNotify(coalesced int)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ State)                         {}
func (NoOpMetricsProvider) OnChangeReceived()                                {}
func (NoOpMetricsProvider) OnPreferenceUpdated(_ string)                     {}
func (NoOpMetricsProvider) OnPropagation(_ string, _ time.Duration, _ error) {}
func (NoOpMetricsProvider) OnNotify(_ int)                                   {}
