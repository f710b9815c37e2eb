// Package ratelimit implements the rate-limiter component: four
// interchangeable admission algorithms (fixed window, sliding window,
// token bucket, leaky bucket) behind one Status/Context contract, with
// per-key scoping and a daily quota layer on top.
package ratelimit

import (
	"fmt"
	"time"
)

// Algorithm identifies which rate-limiting strategy backs a key.
type Algorithm string

const (
	FixedWindow   Algorithm = "fixed_window"
	SlidingWindow Algorithm = "sliding_window"
	TokenBucket   Algorithm = "token_bucket"
	LeakyBucket   Algorithm = "leaky_bucket"
)

// Window is a named refill/reset period, or a custom duration.
type Window struct {
	name string
	d    time.Duration
}

var (
	PerSecond = Window{name: "sec", d: time.Second}
	PerMinute = Window{name: "min", d: time.Minute}
	PerHour   = Window{name: "hour", d: time.Hour}
	PerDay    = Window{name: "day", d: 24 * time.Hour}
)

// CustomWindow builds an arbitrary window duration.
func CustomWindow(d time.Duration) Window { return Window{name: "custom", d: d} }

// Duration returns the window's length.
func (w Window) Duration() time.Duration { return w.d }

// RateLimit is the declarative limit applied to a key.
type RateLimit struct {
	Requests  uint32
	Window    Window
	Algorithm Algorithm
}

// Status is a snapshot of a key's current rate-limit state.
type Status struct {
	Limit      uint32
	Remaining  int64
	ResetTime  time.Time
	RetryAfter time.Duration
	Algorithm  Algorithm
	HasRetry   bool
}

// Exceeded reports whether this status has no remaining capacity
// (Remaining ≤ 0).
func (s Status) Exceeded() bool { return s.Remaining <= 0 }

// Priority scales the global limit via a multiplier before the
// algorithm is applied, per §4.1.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
	PrioritySystem   Priority = "system"
)

var priorityMultiplier = map[Priority]float64{
	PriorityLow:      0.5,
	PriorityNormal:   1.0,
	PriorityHigh:     1.5,
	PriorityCritical: 2.0,
	PrioritySystem:   2.0,
}

// Context describes the caller whose request is being admission
// checked. It yields an ordered key list: global, endpoint, user,
// client, ip.
type Context struct {
	Endpoint string
	UserID   string
	ClientID string
	IP       string
	Priority Priority
}

// Keys returns the ordered per-scope key list for this context.
func (c Context) Keys() []string {
	keys := []string{"global"}
	if c.Endpoint != "" {
		keys = append(keys, fmt.Sprintf("endpoint:%s", c.Endpoint))
	}
	if c.UserID != "" {
		keys = append(keys, fmt.Sprintf("user:%s", c.UserID))
	}
	if c.ClientID != "" {
		keys = append(keys, fmt.Sprintf("client:%s", c.ClientID))
	}
	if c.IP != "" {
		keys = append(keys, fmt.Sprintf("ip:%s", c.IP))
	}
	return keys
}

// ViolationType classifies why a request was denied.
type ViolationType string

const (
	ViolationSoft  ViolationType = "soft"
	ViolationHard  ViolationType = "hard"
	ViolationBurst ViolationType = "burst"
	ViolationQuota ViolationType = "quota"
)

// Severity of a violation, used to prioritize alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation is emitted on every denied request.
type Violation struct {
	Key     string
	Context Context
	Limit   uint32
	Actual  int64
	Type    ViolationType
	Severity Severity
	At      time.Time
}

type rateLimitError string

func (e rateLimitError) Error() string { return string(e) }

const (
	ErrQuotaExceeded       = rateLimitError("quota exceeded")
	ErrAlgorithmUnsupported = rateLimitError("unsupported rate limit algorithm")
	ErrInvalidConfiguration = rateLimitError("invalid rate limit configuration")
)

// RateLimitExceededError carries the denying Status so callers can
// read limit/remaining/retry_after without a type switch on Status
// alone.
type RateLimitExceededError struct {
	Status Status
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: remaining=%d reset=%s", e.Status.Remaining, e.Status.ResetTime.Format(time.RFC3339))
}
