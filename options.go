package gesture

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Propagation carries an untracked preference key through the propagation
// pipeline.
type Propagation struct {
	Key string
}

// Pipeline identities.
var (
	propagateID    = pipz.NewIdentity("gesture:propagate", "Forward untracked key to system settings")
	retryID        = pipz.NewIdentity("gesture:retry", "Retry propagation")
	backoffID      = pipz.NewIdentity("gesture:backoff", "Retry propagation with exponential backoff")
	timeoutID      = pipz.NewIdentity("gesture:timeout", "Bound propagation time")
	breakerID      = pipz.NewIdentity("gesture:circuit-breaker", "Stop propagating after repeated failures")
	errorHandlerID = pipz.NewIdentity("gesture:error-handler", "Observe propagation failures")
	fallbackID     = pipz.NewIdentity("gesture:fallback", "Propagate through an alternate target on failure")
	alternateID    = pipz.NewIdentity("gesture:propagate-alternate", "Forward untracked key to the alternate target")
)

// Option configures the pipeline that forwards untracked keys to the
// Propagator. Options wrap the propagation call with resilience behavior.
// Tracked keys never pass through the pipeline.
type Option func(pipz.Chainable[*Propagation]) pipz.Chainable[*Propagation]

// buildPipeline wraps a terminal with pipeline options, first option innermost.
func buildPipeline(terminal pipz.Chainable[*Propagation], opts []Option) pipz.Chainable[*Propagation] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// WithRetry retries a failed propagation immediately, up to maxAttempts
// attempts in total.
func WithRetry(maxAttempts int) Option {
	return func(p pipz.Chainable[*Propagation]) pipz.Chainable[*Propagation] {
		return pipz.NewRetry(retryID, p, maxAttempts)
	}
}

// WithBackoff retries a failed propagation with delays of baseDelay,
// 2*baseDelay, 4*baseDelay, and so on.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(p pipz.Chainable[*Propagation]) pipz.Chainable[*Propagation] {
		return pipz.NewBackoff(backoffID, p, maxAttempts, baseDelay)
	}
}

// WithTimeout fails a propagation that takes longer than d. The change
// handler is blocked for at most d per untracked key.
func WithTimeout(d time.Duration) Option {
	return func(p pipz.Chainable[*Propagation]) pipz.Chainable[*Propagation] {
		return pipz.NewTimeout(timeoutID, p, d)
	}
}

// WithCircuitBreaker rejects propagations for recovery after failures
// consecutive failures.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(p pipz.Chainable[*Propagation]) pipz.Chainable[*Propagation] {
		return pipz.NewCircuitBreaker(breakerID, p, failures, recovery)
	}
}

// WithErrorHandler passes propagation failures to handler. The failure is
// still recorded by Settings.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Propagation]]) Option {
	return func(p pipz.Chainable[*Propagation]) pipz.Chainable[*Propagation] {
		return pipz.NewHandle(errorHandlerID, p, handler)
	}
}

// WithFallback forwards the key to alt when the wrapped pipeline fails.
func WithFallback(alt Propagator) Option {
	return func(p pipz.Chainable[*Propagation]) pipz.Chainable[*Propagation] {
		secondary := pipz.Effect(alternateID, func(ctx context.Context, prop *Propagation) error {
			return alt.SetSystemSetting(ctx, prop.Key)
		})
		return pipz.NewFallback(fallbackID, p, secondary)
	}
}
