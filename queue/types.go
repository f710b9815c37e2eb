// Package queue implements the priority request queue: admission
// pipeline (capacity, breaker, dedup), a cooperative dispatch loop
// shaped by a throughput ring and a concurrency semaphore, batching of
// compatible requests, and retry re-enqueue with pluggable backoff.
package queue

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Priority ranks a queued request; higher values preempt lower ones
// at selection time (never preempting an in-flight dispatch).
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityImmediate
)

// RetryPolicy selects the backoff formula applied between attempts.
type RetryPolicy struct {
	Kind        RetryKind
	BaseDelay   time.Duration
	Multiplier  float64
	FixedDelay  time.Duration
}

// RetryKind identifies a backoff shape.
type RetryKind string

const (
	RetryNone        RetryKind = "none"
	RetryLinear      RetryKind = "linear"
	RetryExponential RetryKind = "exponential"
	RetryFixed       RetryKind = "fixed"
	RetryAdaptive    RetryKind = "adaptive"
)

// Delay returns the backoff duration before the given retry number
// (0-indexed: attempt 0 is the delay preceding the first retry).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	switch p.Kind {
	case RetryLinear:
		return p.BaseDelay
	case RetryExponential:
		mult := p.Multiplier
		if mult <= 0 {
			mult = 2
		}
		return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
	case RetryFixed:
		return p.FixedDelay
	case RetryAdaptive:
		seconds := math.Min(1*math.Pow(2, float64(attempt)), 60)
		return time.Duration(seconds * float64(time.Second))
	default:
		return 0
	}
}

// QueuedRequest is one admitted unit of work.
type QueuedRequest struct {
	ID           string
	Target       string
	Method       string
	URL          string
	Body         string
	Priority     Priority
	Coalesceable bool
	Batchable    bool
	DedupKey     string

	CreatedAt     time.Time
	ScheduledAt   time.Time
	LastAttemptAt time.Time
	AttemptCount  int
	// MaxRetries is the per-request retry ceiling. UnsetMaxRetries (the
	// NewRequest default) means "use the queue's configured default";
	// an explicit 0 means the request must never retry, and is honored
	// as such rather than silently upgraded.
	MaxRetries  int
	RetryPolicy RetryPolicy
	Timeout     time.Duration
}

// UnsetMaxRetries marks a QueuedRequest.MaxRetries that was never set
// explicitly, so Queue falls back to its configured DefaultMaxRetries
// instead of mistaking an explicit "no retries" (0) for "unset".
const UnsetMaxRetries = -1

// NewRequest builds a QueuedRequest with a generated ID and CreatedAt
// set to now.
func NewRequest(target, method, url, body string, priority Priority) *QueuedRequest {
	now := time.Now()
	return &QueuedRequest{
		ID:          uuid.NewString(),
		Target:      target,
		Method:      method,
		URL:         url,
		Body:        body,
		Priority:    priority,
		CreatedAt:   now,
		ScheduledAt: now,
		MaxRetries:  UnsetMaxRetries,
	}
}

// RequestResult is posted to the results stream once a request
// resolves, successfully or not.
type RequestResult struct {
	ID                    string
	Success               bool
	Status                int
	Body                  string
	Err                   error
	Duration              time.Duration
	AttemptCount          int
	CircuitBreakerTripped bool
	CompletedAt           time.Time
}

// QueueError classifies an admission or dispatch failure kind.
type QueueError string

func (e QueueError) Error() string { return string(e) }

const (
	ErrQueueFull           QueueError = "queue full"
	ErrCircuitBreakerOpen  QueueError = "circuit breaker open"
	ErrInvalidRequest      QueueError = "invalid request"
	ErrRetryLimitExceeded  QueueError = "retry limit exceeded"
	ErrTimeout             QueueError = "timeout"
)
