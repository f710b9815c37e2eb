// Package breaker implements a per-target circuit breaker: a mutex-
// guarded finite state machine that trips open after a run of
// consecutive failures and self-heals through a half-open probe.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// CircuitBreaker is the admission gate in front of a single dispatch
// target. It is safe for concurrent use.
type CircuitBreaker struct {
	mu     sync.Mutex
	logger zerolog.Logger

	threshold int
	timeout   time.Duration

	state            State
	consecutiveFails int
	openedAt         time.Time
	halfOpenInFlight bool
}

// New creates a breaker that trips after threshold consecutive
// failures and attempts recovery timeout after tripping.
func New(threshold int, timeout time.Duration, logger zerolog.Logger) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		logger:    logger.With().Str("component", "breaker").Logger(),
		threshold: threshold,
		timeout:   timeout,
		state:     Closed,
	}
}

// Allow reports whether a request may be dispatched right now. In the
// half_open state it admits exactly one probe request and denies any
// concurrent caller until that probe resolves via RecordSuccess or
// RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	return cb.AllowAt(time.Now())
}

// AllowAt is Allow with an explicit clock, for deterministic tests.
func (cb *CircuitBreaker) AllowAt(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if now.Sub(cb.openedAt) > cb.timeout {
			cb.state = HalfOpen
			cb.halfOpenInFlight = true
			cb.logger.Debug().Msg("breaker probing after timeout")
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful dispatch. From half_open this
// closes the breaker; from closed it resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.state = Closed
		cb.consecutiveFails = 0
		cb.halfOpenInFlight = false
		cb.logger.Debug().Msg("breaker closed after successful probe")
	case Closed:
		cb.consecutiveFails = 0
	}
}

// RecordFailure reports a failed dispatch. From half_open this
// re-opens the breaker; from closed it increments the failure counter
// and trips once the counter reaches threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.RecordFailureAt(time.Now())
}

// RecordFailureAt is RecordFailure with an explicit clock.
func (cb *CircuitBreaker) RecordFailureAt(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.trip(now)
		cb.halfOpenInFlight = false
	case Closed:
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.threshold {
			cb.trip(now)
		}
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = Open
	cb.openedAt = now
	cb.consecutiveFails = 0
	cb.logger.Debug().Time("opened_at", now).Msg("breaker tripped open")
}

// CurrentState returns the breaker's current state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
