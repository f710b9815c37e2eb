package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfred-ai/netctl/breaker"
	"github.com/alfred-ai/netctl/dedup"
	"github.com/alfred-ai/netctl/stream"
	"github.com/alfred-ai/netctl/transport"
	"github.com/rs/zerolog"
)

// Config controls admission, scheduling, batching, and retry behavior.
type Config struct {
	MaxQueueSize           int
	MaxConcurrentRequests  int
	MaxThroughputPerSecond int
	BatchingEnabled        bool
	MaxBatchSize           int
	BatchTimeout           time.Duration
	DefaultMaxRetries      int
	BreakerThreshold       int
	BreakerTimeout         time.Duration
	TickInterval           time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Millisecond
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 1
	}
	return c
}

// Queue is the priority request queue: a serialized execution domain
// guarding a priority-ordered slice, one breaker per target, a
// deduplicator, a throughput ring, and a concurrency semaphore.
type Queue struct {
	cfg       Config
	transport transport.Transport
	logger    zerolog.Logger

	mu           sync.Mutex
	items        []*QueuedRequest
	currentBatch []*QueuedRequest
	inFlight     map[string]context.CancelFunc
	throughput   []time.Time
	dedupSavings int64

	dedup    *dedup.Deduplicator
	breakers map[string]*breaker.CircuitBreaker
	sem      *semaphore

	results *stream.Broadcaster[RequestResult]

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a queue dispatching through t.
func New(cfg Config, t transport.Transport, logger zerolog.Logger) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:       cfg,
		transport: t,
		logger:    logger.With().Str("component", "queue").Logger(),
		inFlight:  make(map[string]context.CancelFunc),
		dedup:     dedup.New(),
		breakers:  make(map[string]*breaker.CircuitBreaker),
		sem:       newSemaphore(cfg.MaxConcurrentRequests),
		results:   stream.New[RequestResult](),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Results returns the broadcast stream of completed request outcomes.
func (q *Queue) Results() *stream.Broadcaster[RequestResult] {
	return q.results
}

// Start launches the dispatch loop. It runs until ctx is done or Stop
// is called.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(2)
	go q.dispatchLoop(ctx)
	go q.batchTicker(ctx)
}

// Stop halts the dispatch loop and releases its goroutines.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// DedupSavings returns the cumulative count of requests dropped as
// duplicates of an already-queued request.
func (q *Queue) DedupSavings() int64 {
	return atomic.LoadInt64(&q.dedupSavings)
}

// Size returns the number of requests currently queued (not counting
// in-flight dispatches).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + len(q.currentBatch)
}

// Enqueue runs the admission pipeline — capacity check, breaker check,
// deduplication, priority-insert — in that order.
func (q *Queue) Enqueue(req *QueuedRequest) error {
	q.mu.Lock()
	full := len(q.items)+len(q.currentBatch) >= q.cfg.MaxQueueSize
	q.mu.Unlock()
	if full {
		return ErrQueueFull
	}

	br := q.breakerFor(req.Target)

	if !br.Allow() {
		q.results.Publish(RequestResult{
			ID: req.ID, Success: false, CircuitBreakerTripped: true,
			CompletedAt: time.Now(),
		})
		return ErrCircuitBreakerOpen
	}

	if req.Coalesceable {
		if req.DedupKey == "" {
			req.DedupKey = dedup.Key(req.Method, req.URL, req.Body)
		}
		if !q.dedup.TryAdmit(req.DedupKey) {
			atomic.AddInt64(&q.dedupSavings, 1)
			return nil // silently dropped, not an error
		}
	}

	q.mu.Lock()
	q.insertLocked(req)
	q.mu.Unlock()

	q.nudge()
	return nil
}

// Cancel removes req from the queue if still waiting, or aborts its
// in-flight Transport call otherwise. Reports whether anything was
// cancelled.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	for i, it := range q.items {
		if it.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.releaseDedupLocked(it)
			q.mu.Unlock()
			return true
		}
	}
	for i, it := range q.currentBatch {
		if it.ID == id {
			q.currentBatch = append(q.currentBatch[:i], q.currentBatch[i+1:]...)
			q.releaseDedupLocked(it)
			q.mu.Unlock()
			return true
		}
	}
	cancel, ok := q.inFlight[id]
	q.mu.Unlock()
	if ok {
		cancel()
		return true
	}
	return false
}

func (q *Queue) releaseDedupLocked(req *QueuedRequest) {
	if req.Coalesceable && req.DedupKey != "" {
		q.dedup.Release(req.DedupKey)
	}
}

// insertLocked keeps items sorted by (priority desc, created_at asc) —
// FIFO within a class, preemption across classes.
func (q *Queue) insertLocked(req *QueuedRequest) {
	idx := sort.Search(len(q.items), func(i int) bool {
		if q.items[i].Priority != req.Priority {
			return q.items[i].Priority < req.Priority
		}
		return q.items[i].CreatedAt.After(req.CreatedAt)
	})
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = req
}

func (q *Queue) breakerFor(target string) *breaker.CircuitBreaker {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.breakers[target]
	if !ok {
		b = breaker.New(q.cfg.BreakerThreshold, q.cfg.BreakerTimeout, q.logger)
		q.breakers[target] = b
	}
	return b
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop cooperatively schedules ready requests while concurrency
// and throughput budget allow, yielding (sleeping) otherwise.
func (q *Queue) dispatchLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-q.wake:
			q.scheduleReady(ctx)
		case <-ticker.C:
			q.scheduleReady(ctx)
		}
	}
}

func (q *Queue) scheduleReady(ctx context.Context) {
	for {
		req, dispatchNow := q.popNextLocked()
		if req == nil {
			return
		}
		if !dispatchNow {
			return
		}
		q.dispatchOne(ctx, req)
	}
}

// popNextLocked finds the highest-priority ready request. If it is
// batchable and batching is enabled, it moves to currentBatch and the
// loop continues without dispatching; otherwise it is removed from
// items only if concurrency and throughput allow an immediate
// dispatch.
func (q *Queue) popNextLocked() (*QueuedRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, it := range q.items {
		if it.ScheduledAt.After(now) {
			continue
		}

		if q.cfg.BatchingEnabled && it.Batchable {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.currentBatch = append(q.currentBatch, it)
			if len(q.currentBatch) >= q.cfg.MaxBatchSize {
				batch := q.currentBatch
				q.currentBatch = nil
				go q.dispatchBatch(context.Background(), batch)
			}
			return it, false
		}

		if !q.sem.tryAcquire() {
			return nil, false
		}
		if !q.admitThroughputLocked(now) {
			q.sem.release()
			return nil, false
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return it, true
	}
	return nil, false
}

func (q *Queue) admitThroughputLocked(now time.Time) bool {
	cutoff := now.Add(-time.Second)
	pruned := q.throughput[:0]
	for _, t := range q.throughput {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	q.throughput = pruned
	if q.cfg.MaxThroughputPerSecond > 0 && len(q.throughput) >= q.cfg.MaxThroughputPerSecond {
		return false
	}
	q.throughput = append(q.throughput, now)
	return true
}

func (q *Queue) dispatchOne(ctx context.Context, req *QueuedRequest) {
	go func() {
		defer q.sem.release()
		q.execute(ctx, req)
		q.nudge()
	}()
}

func (q *Queue) dispatchBatch(ctx context.Context, batch []*QueuedRequest) {
	var wg sync.WaitGroup
	for _, req := range batch {
		if !q.sem.tryAcquire() {
			// No slot free — return this member to the main queue
			// rather than dropping it.
			q.mu.Lock()
			q.insertLocked(req)
			q.mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(r *QueuedRequest) {
			defer wg.Done()
			defer q.sem.release()
			q.execute(ctx, r)
		}(req)
	}
	wg.Wait()
	q.nudge()
}

func (q *Queue) execute(parent context.Context, req *QueuedRequest) {
	dispatchCtx := parent
	cancel := func() {}
	if req.Timeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(parent, req.Timeout)
	} else {
		dispatchCtx, cancel = context.WithCancel(parent)
	}

	q.mu.Lock()
	q.inFlight[req.ID] = cancel
	q.mu.Unlock()
	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.inFlight, req.ID)
		q.mu.Unlock()
	}()

	req.AttemptCount++
	req.LastAttemptAt = time.Now()

	br := q.breakerFor(req.Target)

	resp, duration, err := q.transport.Execute(dispatchCtx, transport.HttpRequest{
		URL: req.URL, Method: req.Method, Body: []byte(req.Body),
	})

	if err != nil {
		br.RecordFailure()
		q.handleFailure(req, err, duration)
		return
	}

	br.RecordSuccess()
	q.releaseQueueBookkeeping(req)
	q.results.Publish(RequestResult{
		ID: req.ID, Success: true, Status: resp.Status, Body: string(resp.Body),
		Duration: duration, AttemptCount: req.AttemptCount, CompletedAt: time.Now(),
	})
}

func (q *Queue) handleFailure(req *QueuedRequest, err error, duration time.Duration) {
	retryable := isRetryable(err)
	maxRetries := req.MaxRetries
	if maxRetries == UnsetMaxRetries {
		maxRetries = q.cfg.DefaultMaxRetries
	}

	if retryable && req.AttemptCount <= maxRetries {
		delay := req.RetryPolicy.Delay(req.AttemptCount - 1)
		req.ScheduledAt = time.Now().Add(delay)
		q.mu.Lock()
		q.insertLocked(req)
		q.mu.Unlock()
		q.nudge()
		return
	}

	q.releaseQueueBookkeeping(req)

	result := RequestResult{
		ID: req.ID, Success: false, Err: err, Duration: duration,
		AttemptCount: req.AttemptCount, CompletedAt: time.Now(),
	}
	if retryable && req.AttemptCount > maxRetries {
		result.Err = ErrRetryLimitExceeded
	}
	q.results.Publish(result)
}

func (q *Queue) releaseQueueBookkeeping(req *QueuedRequest) {
	q.mu.Lock()
	q.releaseDedupLocked(req)
	q.mu.Unlock()
}

func isRetryable(err error) bool {
	te, ok := err.(*transport.TransportError)
	if !ok {
		return false
	}
	return te.Kind.Retryable()
}

func (q *Queue) batchTicker(ctx context.Context) {
	defer q.wg.Done()
	if !q.cfg.BatchingEnabled {
		<-q.stopCh
		return
	}

	ticker := time.NewTicker(q.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.mu.Lock()
			batch := q.currentBatch
			q.currentBatch = nil
			q.mu.Unlock()
			if len(batch) > 0 {
				go q.dispatchBatch(ctx, batch)
			}
		}
	}
}
