package gesture

import (
	"context"
	"sync"
)

// DefaultMemoryBuffer is the per-subscriber change buffer of a MemoryStore.
const DefaultMemoryBuffer = 64

// MemoryStore is an in-process Store. Every write is delivered to each
// subscriber in write order; a writer blocks while a subscriber's buffer is
// full. Useful for testing and for embedding without a persistent backend.
type MemoryStore struct {
	// writeMu serializes writes with their fan-out so delivery order matches
	// write order. Reads never take it.
	writeMu sync.Mutex
	subs    map[*memorySub]struct{}
	closed  bool
	done    chan struct{}
	buffer  int

	mu     sync.RWMutex
	values map[string]bool
}

type memorySub struct {
	ch   chan Change
	done <-chan struct{}
}

// NewMemoryStore creates a MemoryStore holding a copy of initial.
func NewMemoryStore(initial map[string]bool) *MemoryStore {
	values := make(map[string]bool, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryStore{
		subs:   make(map[*memorySub]struct{}),
		done:   make(chan struct{}),
		buffer: DefaultMemoryBuffer,
		values: values,
	}
}

// Bool implements Store.
func (m *MemoryStore) Bool(_ context.Context, key string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// SetBool stores v and notifies subscribers.
func (m *MemoryStore) SetBool(_ context.Context, key string, v bool) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()

	m.deliver(Change{Key: key, Value: v})
	return nil
}

// Delete removes key and notifies subscribers.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()

	m.deliver(Change{Key: key, Deleted: true})
	return nil
}

// Watch implements Store.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	sub := &memorySub{
		ch:   make(chan Change, m.buffer),
		done: ctx.Done(),
	}
	if m.closed {
		close(sub.ch)
		return sub.ch, nil
	}
	m.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-m.done:
			return
		}
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.ch)
		}
	}()

	return sub.ch, nil
}

// Close ends every subscription. Later Watch calls return a closed channel.
func (m *MemoryStore) Close() {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
	for sub := range m.subs {
		delete(m.subs, sub)
		close(sub.ch)
	}
}

// deliver fans a change out to subscribers. Caller holds writeMu.
func (m *MemoryStore) deliver(change Change) {
	for sub := range m.subs {
		select {
		case sub.ch <- change:
		case <-sub.done:
		}
	}
}

// MemorySecureStore is an in-process SecureStore.
type MemorySecureStore struct {
	mu     sync.RWMutex
	values map[string]int
}

// NewMemorySecureStore creates a MemorySecureStore holding a copy of initial.
func NewMemorySecureStore(initial map[string]int) *MemorySecureStore {
	values := make(map[string]int, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemorySecureStore{values: values}
}

// Int implements SecureStore.
func (m *MemorySecureStore) Int(_ context.Context, key string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// SetInt stores v.
func (m *MemorySecureStore) SetInt(key string, v int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = v
}

// Delete removes key.
func (m *MemorySecureStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ Writer      = (*MemoryStore)(nil)
	_ SecureStore = (*MemorySecureStore)(nil)
)
