package gesture

import (
	"fmt"
	"sync"
)

// Failure stages recorded by Settings.
const (
	StageRead      = "read"
	StagePropagate = "propagate"
	StageDoze      = "doze"
	StageTorch     = "torch"
)

// Failure is an error recorded by Settings together with the stage and
// preference key it occurred for.
type Failure struct {
	Stage string
	Key   string
	Err   error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Key == "" {
		return fmt.Sprintf("%s: %v", f.Stage, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Key, f.Err)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// failureRing is a thread-safe ring buffer of recent failures.
type failureRing struct {
	mu       sync.RWMutex
	failures []*Failure
	size     int
	head     int
	count    int
}

// newFailureRing creates a ring with the given capacity.
// If size is 0, the ring is disabled and every method is a no-op.
func newFailureRing(size int) *failureRing {
	if size <= 0 {
		return nil
	}
	return &failureRing{
		failures: make([]*Failure, size),
		size:     size,
	}
}

// push records a failure, evicting the oldest when full.
func (r *failureRing) push(f *Failure) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures[r.head] = f
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// clear removes all failures.
func (r *failureRing) clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.failures {
		r.failures[i] = nil
	}
	r.head = 0
	r.count = 0
}

// all returns the recorded failures, oldest first.
func (r *failureRing) all() []error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	result := make([]error, r.count)
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		result[i] = r.failures[(start+i)%r.size]
	}
	return result
}
