package ratelimit

import (
	"time"

	xtime "golang.org/x/time/rate"
)

// evalResult is the outcome of admitting weight against one key's
// bucket. commit is invoked only once every key in the fan-out has
// been evaluated as admissible; rollback undoes an eager mutation
// (only the token-bucket algorithm mutates eagerly, via
// golang.org/x/time/rate's Reservation).
type evalResult struct {
	status   Status
	admitted bool
	commit   func()
	rollback func()
}

// bucketState evaluates one key's algorithm-specific admission
// decision for weight at now, without assuming the decision will be
// committed — the caller may still roll back if a sibling key in the
// same fan-out is denied (testable property 1).
type bucketState interface {
	evaluate(limit RateLimit, weight uint32, now time.Time) evalResult
}

func newBucketState(limit RateLimit) bucketState {
	switch limit.Algorithm {
	case TokenBucket:
		rate := refillRate(limit)
		return &tokenBucket{limiter: xtime.NewLimiter(xtime.Limit(rate), int(limit.Requests)), rate: rate}
	case SlidingWindow:
		return &slidingWindow{}
	case LeakyBucket:
		return &leakyBucket{}
	default:
		return &fixedWindow{}
	}
}

func refillRate(limit RateLimit) float64 {
	if limit.Window.Duration() <= 0 {
		return float64(limit.Requests)
	}
	return float64(limit.Requests) / limit.Window.Duration().Seconds()
}

// ─── Token bucket — wraps golang.org/x/time/rate ──────────────

type tokenBucket struct {
	limiter *xtime.Limiter
	rate    float64
}

func (t *tokenBucket) evaluate(limit RateLimit, weight uint32, now time.Time) evalResult {
	tokensBefore := t.limiter.TokensAt(now)

	if tokensBefore < float64(weight) {
		retryAfter := time.Duration(0)
		if t.rate > 0 {
			retryAfter = time.Duration((float64(weight) - tokensBefore) / t.rate * float64(time.Second))
		}
		return evalResult{
			admitted: false,
			status: Status{
				Limit:      limit.Requests,
				Remaining:  0,
				ResetTime:  now.Add(retryAfter),
				RetryAfter: retryAfter,
				HasRetry:   true,
				Algorithm:  TokenBucket,
			},
		}
	}

	// ReserveN mutates the limiter's token count immediately; stash a
	// rollback that gives the tokens back if a sibling key denies.
	reservation := t.limiter.ReserveN(now, int(weight))
	return evalResult{
		admitted: true,
		status: Status{
			Limit:     limit.Requests,
			Remaining: int64(tokensBefore) - int64(weight),
			ResetTime: now,
			Algorithm: TokenBucket,
		},
		rollback: func() { reservation.CancelAt(now) },
	}
}

// ─── Sliding window ─────────────────────────────────────────

type slidingWindow struct {
	hits []time.Time
}

func (s *slidingWindow) evaluate(limit RateLimit, weight uint32, now time.Time) evalResult {
	windowStart := now.Add(-limit.Window.Duration())
	pruned := make([]time.Time, 0, len(s.hits))
	for _, h := range s.hits {
		if h.After(windowStart) {
			pruned = append(pruned, h)
		}
	}

	count := int64(len(pruned))
	remaining := int64(limit.Requests) - count

	resetTime := now.Add(limit.Window.Duration())
	if len(pruned) > 0 {
		resetTime = pruned[0].Add(limit.Window.Duration())
	}

	if remaining < int64(weight) {
		return evalResult{
			admitted: false,
			status: Status{
				Limit:      limit.Requests,
				Remaining:  0,
				ResetTime:  resetTime,
				RetryAfter: resetTime.Sub(now),
				HasRetry:   true,
				Algorithm:  SlidingWindow,
			},
			commit: func() { s.hits = pruned },
		}
	}

	next := append(pruned, repeatNow(now, int(weight))...)
	return evalResult{
		admitted: true,
		status: Status{
			Limit:     limit.Requests,
			Remaining: remaining - int64(weight),
			ResetTime: resetTime,
			Algorithm: SlidingWindow,
		},
		commit: func() { s.hits = next },
	}
}

func repeatNow(now time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = now
	}
	return out
}

// ─── Leaky bucket ───────────────────────────────────────────

type leakyBucket struct {
	level      float64
	lastUpdate time.Time
}

func (l *leakyBucket) evaluate(limit RateLimit, weight uint32, now time.Time) evalResult {
	capacity := float64(limit.Requests)
	leakRate := refillRate(limit)

	level := l.level
	if !l.lastUpdate.IsZero() {
		elapsed := now.Sub(l.lastUpdate).Seconds()
		level -= elapsed * leakRate
		if level < 0 {
			level = 0
		}
	}

	if level+float64(weight) > capacity {
		var retryAfter time.Duration
		if leakRate > 0 {
			overflow := level + float64(weight) - capacity
			retryAfter = time.Duration(overflow / leakRate * float64(time.Second))
		}
		return evalResult{
			admitted: false,
			status: Status{
				Limit:      limit.Requests,
				Remaining:  0,
				ResetTime:  now.Add(retryAfter),
				RetryAfter: retryAfter,
				HasRetry:   true,
				Algorithm:  LeakyBucket,
			},
			commit: func() { l.level, l.lastUpdate = level, now },
		}
	}

	newLevel := level + float64(weight)
	return evalResult{
		admitted: true,
		status: Status{
			Limit:     limit.Requests,
			Remaining: int64(capacity - newLevel),
			ResetTime: now,
			Algorithm: LeakyBucket,
		},
		commit: func() { l.level, l.lastUpdate = newLevel, now },
	}
}

// ─── Fixed window ───────────────────────────────────────────

type fixedWindow struct {
	windowStart time.Time
	count       int64
}

func (f *fixedWindow) evaluate(limit RateLimit, weight uint32, now time.Time) evalResult {
	windowStart := f.windowStart
	count := f.count
	if windowStart.IsZero() || now.Sub(windowStart) >= limit.Window.Duration() {
		windowStart = now
		count = 0
	}

	resetTime := windowStart.Add(limit.Window.Duration())
	remaining := int64(limit.Requests) - count

	if remaining < int64(weight) {
		return evalResult{
			admitted: false,
			status: Status{
				Limit:      limit.Requests,
				Remaining:  0,
				ResetTime:  resetTime,
				RetryAfter: resetTime.Sub(now),
				HasRetry:   true,
				Algorithm:  FixedWindow,
			},
			commit: func() { f.windowStart, f.count = windowStart, count },
		}
	}

	return evalResult{
		admitted: true,
		status: Status{
			Limit:     limit.Requests,
			Remaining: remaining - int64(weight),
			ResetTime: resetTime,
			Algorithm: FixedWindow,
		},
		commit: func() { f.windowStart, f.count = windowStart, count+int64(weight) },
	}
}
