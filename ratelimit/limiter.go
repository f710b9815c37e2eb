package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/alfred-ai/netctl/stream"
	"github.com/rs/zerolog"
)

// DistributedSync is the optional extension hook for cluster-wide
// rate-limit coordination. The core limiter works fully without one;
// see distsync.RedisSync for the reference stub implementation.
type DistributedSync interface {
	// Sync reports a local consumption of weight against key and
	// returns the cluster-wide count observed so far in the window.
	Sync(key string, weight uint32, window time.Duration) (clusterCount int64, err error)
}

// LimiterConfig is the default (global) limit plus the knobs from §4.1.
type LimiterConfig struct {
	Default            RateLimit
	BurstMultiplier    float64
	PriorityAdjustment bool
	DailyQuotaPerUser  uint32
	Whitelist          map[string]bool // endpoint -> bypass all checks
}

// Limiter is the rate-limiter component: a single serialized execution
// domain (mutex-guarded) holding per-key bucket state, per-scope
// overrides, and the daily quota layer.
type Limiter struct {
	mu   sync.Mutex
	cfg  LimiterConfig
	logger zerolog.Logger

	buckets   map[string]bucketState
	overrides map[string]RateLimit // "endpoint:x" or "user:y" -> explicit limit

	quotas map[string]*quotaCounter

	sync DistributedSync

	violations *stream.Broadcaster[Violation]
}

type quotaCounter struct {
	count    uint32
	dayStart time.Time
}

// New creates a rate limiter with the given configuration.
func New(cfg LimiterConfig, logger zerolog.Logger) *Limiter {
	if cfg.BurstMultiplier <= 0 {
		cfg.BurstMultiplier = 1.0
	}
	if cfg.Whitelist == nil {
		cfg.Whitelist = map[string]bool{}
	}
	return &Limiter{
		cfg:        cfg,
		logger:     logger.With().Str("component", "ratelimit").Logger(),
		buckets:    make(map[string]bucketState),
		overrides:  make(map[string]RateLimit),
		quotas:     make(map[string]*quotaCounter),
		violations: stream.New[Violation](),
	}
}

// SetDistributedSync installs an optional cluster-sync hook.
func (l *Limiter) SetDistributedSync(s DistributedSync) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sync = s
}

// SetOverride installs an explicit limit for a specific scope key
// (e.g. "endpoint:/v1/chat" or "user:abc123"), overriding the global
// default for that key per §4.1.
func (l *Limiter) SetOverride(scopeKey string, limit RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[scopeKey] = limit
}

// Violations returns the broadcast stream of denial events.
func (l *Limiter) Violations() *stream.Broadcaster[Violation] {
	return l.violations
}

// Check is a pure read: it reports what Consume would decide without
// mutating any bucket.
func (l *Limiter) Check(ctx Context) (Status, error) {
	return l.evaluate(ctx, 1, false)
}

// Consume atomically decrements every applicable bucket for ctx, but
// only if none of them would be exceeded (testable property 1). The
// returned Status is the most restrictive one observed.
func (l *Limiter) Consume(ctx Context) (Status, error) {
	return l.evaluate(ctx, 1, true)
}

// ConsumeN is Consume with an explicit token weight.
func (l *Limiter) ConsumeN(ctx Context, weight uint32) (Status, error) {
	return l.evaluate(ctx, weight, true)
}

func (l *Limiter) evaluate(ctx Context, weight uint32, mutate bool) (Status, error) {
	now := time.Now()

	if l.cfg.Whitelist[ctx.Endpoint] {
		return Status{Remaining: math.MaxInt64, Algorithm: l.cfg.Default.Algorithm, ResetTime: now}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkQuota(ctx, now, mutate); err != nil {
		status := Status{Remaining: 0, ResetTime: nextMidnight(now), HasRetry: true, RetryAfter: nextMidnight(now).Sub(now)}
		l.emitViolation(Violation{
			Key: "quota:" + ctx.UserID, Context: ctx, Type: ViolationQuota,
			Severity: SeverityWarning, At: now,
		})
		return status, err
	}

	keys := ctx.Keys()
	results := make(map[string]evalResult, len(keys))
	var worst *Status

	for _, key := range keys {
		limit := l.resolveLimit(key, ctx)
		bucket, ok := l.buckets[key]
		if !ok {
			bucket = newBucketState(limit)
			l.buckets[key] = bucket
		}

		res := bucket.evaluate(limit, weight, now)
		results[key] = res

		if !res.admitted {
			if worst == nil || res.status.RetryAfter > worst.RetryAfter {
				worst = &res.status
			}
		}
	}

	if worst != nil {
		// Deny: roll back any key that eagerly mutated (token bucket).
		for _, res := range results {
			if res.admitted && res.rollback != nil {
				res.rollback()
			}
		}
		l.emitViolation(Violation{
			Context: ctx, Limit: worst.Limit, Actual: int64(worst.Limit) - worst.Remaining,
			Type: ViolationHard, Severity: SeverityWarning, At: now,
		})
		return *worst, &RateLimitExceededError{Status: *worst}
	}

	// Local buckets all admit. If a distributed sync hook is installed,
	// fold the cluster-wide count for the global key into the decision
	// before committing, so a cluster of instances shares one quota
	// instead of each enforcing it independently.
	if mutate && l.sync != nil {
		if status, err := l.checkDistributed(ctx, weight, now, results); err != nil {
			return status, err
		}
	}

	// All keys admitted. Commit non-eager algorithms; eager ones
	// (token bucket) already mutated during evaluate.
	if mutate {
		for _, res := range results {
			if res.commit != nil {
				res.commit()
			}
		}
	} else {
		// Check(): undo any eager mutation since this was a pure read.
		for _, res := range results {
			if res.rollback != nil {
				res.rollback()
			}
		}
	}

	return mostRestrictive(results), nil
}

// checkDistributed consults the distributed sync hook for the global
// key once every local bucket has already admitted. A sync transport
// failure is logged and swallowed — the local decision stands, since
// the hook is an optional best-effort extension, not a requirement.
// A cluster-wide overrun rolls back any local eager mutation and
// denies with the cluster count as the observed usage.
func (l *Limiter) checkDistributed(ctx Context, weight uint32, now time.Time, results map[string]evalResult) (Status, error) {
	globalLimit := l.resolveLimit("global", ctx)
	clusterCount, err := l.sync.Sync("global", weight, globalLimit.Window.Duration())
	if err != nil {
		l.logger.Warn().Err(err).Msg("distributed rate-limit sync failed; falling back to local decision")
		return Status{}, nil
	}
	if globalLimit.Requests == 0 || clusterCount <= int64(globalLimit.Requests) {
		return Status{}, nil
	}

	for _, res := range results {
		if res.admitted && res.rollback != nil {
			res.rollback()
		}
	}
	status := Status{
		Limit:      globalLimit.Requests,
		Remaining:  0,
		ResetTime:  now.Add(globalLimit.Window.Duration()),
		RetryAfter: globalLimit.Window.Duration(),
		HasRetry:   true,
		Algorithm:  globalLimit.Algorithm,
	}
	l.emitViolation(Violation{
		Key: "global", Context: ctx, Limit: globalLimit.Requests, Actual: clusterCount,
		Type: ViolationHard, Severity: SeverityWarning, At: now,
	})
	return status, &RateLimitExceededError{Status: status}
}

func mostRestrictive(results map[string]evalResult) Status {
	var best *Status
	for _, res := range results {
		s := res.status
		if best == nil || s.Remaining < best.Remaining {
			best = &s
		}
	}
	return *best
}

func (l *Limiter) resolveLimit(key string, ctx Context) RateLimit {
	if override, ok := l.overrides[key]; ok {
		return override
	}

	limit := l.cfg.Default
	if key == "global" && l.cfg.PriorityAdjustment {
		mult := priorityMultiplier[ctx.Priority]
		if mult == 0 {
			mult = 1.0
		}
		limit.Requests = uint32(float64(limit.Requests) * mult * l.cfg.BurstMultiplier)
	}
	return limit
}

func (l *Limiter) checkQuota(ctx Context, now time.Time, mutate bool) error {
	if l.cfg.DailyQuotaPerUser == 0 || ctx.UserID == "" {
		return nil
	}

	q, ok := l.quotas[ctx.UserID]
	if !ok || now.Sub(q.dayStart) >= 24*time.Hour {
		q = &quotaCounter{dayStart: startOfDay(now)}
		l.quotas[ctx.UserID] = q
	}

	if q.count >= l.cfg.DailyQuotaPerUser {
		return ErrQuotaExceeded
	}
	if mutate {
		q.count++
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextMidnight(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

func (l *Limiter) emitViolation(v Violation) {
	l.logger.Debug().
		Str("endpoint", v.Context.Endpoint).
		Str("user_id", v.Context.UserID).
		Str("violation_type", string(v.Type)).
		Msg("rate limit denied")
	l.violations.Publish(v)
}

// QuotaUtilization returns each tracked user's fraction of their daily
// quota consumed so far. Left unused by any caller today — the source
// system computed the equivalent map but never surfaced it on a read
// path either; kept here as the hook a future status endpoint can
// populate from, per the open question in §9.
func (l *Limiter) QuotaUtilization() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64, len(l.quotas))
	if l.cfg.DailyQuotaPerUser == 0 {
		return out
	}
	for user, q := range l.quotas {
		out[user] = float64(q.count) / float64(l.cfg.DailyQuotaPerUser)
	}
	return out
}
