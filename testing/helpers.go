// Package testing provides test utilities for gesture settings and store
// backends.
package testing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/gesture"
)

// CountingNotifier is a gesture.Notifier that counts UpdateState calls.
type CountingNotifier struct {
	calls atomic.Int32
}

// UpdateState implements gesture.Notifier.
func (n *CountingNotifier) UpdateState() {
	n.calls.Add(1)
}

// Count returns the number of UpdateState calls so far.
func (n *CountingNotifier) Count() int {
	return int(n.calls.Load())
}

// RecordingPropagator is a gesture.Propagator that records forwarded keys.
type RecordingPropagator struct {
	mu   sync.Mutex
	keys []string
}

// SetSystemSetting implements gesture.Propagator.
func (p *RecordingPropagator) SetSystemSetting(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

// Keys returns the forwarded keys in order.
func (p *RecordingPropagator) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForFlag waits until the cached value of key equals want.
func WaitForFlag(t *testing.T, s *gesture.Settings, key string, want bool, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		got, _ := s.Flags().Get(key)
		return got == want
	})
}

// WaitForNotifications waits until n has been called at least count times.
func WaitForNotifications(t *testing.T, n *CountingNotifier, count int, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return n.Count() >= count
	})
}

// RequireFlags fails the test immediately if the cached flags differ from want.
func RequireFlags(t *testing.T, s *gesture.Settings, want gesture.Flags) {
	t.Helper()
	if got := s.Flags(); got != want {
		t.Fatalf("expected flags %+v, got %+v", want, got)
	}
}

// RequireState fails the test immediately if s is not in the expected state.
func RequireState(t *testing.T, s *gesture.Settings, expected gesture.State) {
	t.Helper()
	if got := s.State(); got != expected {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
}

// NewTestSettings creates sync-mode Settings over a MemoryStore seeded with
// initial, and starts it. The subscription ends when the test finishes.
func NewTestSettings(t *testing.T, initial map[string]bool) (*gesture.Settings, *gesture.MemoryStore, *CountingNotifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := gesture.NewMemoryStore(initial)
	notifier := &CountingNotifier{}
	s := gesture.New(store, gesture.NewMemorySecureStore(nil), notifier).SyncMode()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s, store, notifier
}
