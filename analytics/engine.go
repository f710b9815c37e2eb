package analytics

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alfred-ai/netctl/stream"
)

// Config controls sampling, retention, and alerting thresholds.
type Config struct {
	// SamplingRate is the Bernoulli probability [0,1] that an ingested
	// Measurement is retained. 0 defaults to 1.0 (retain everything).
	SamplingRate float64
	// MaxDataPoints caps the retained measurement ring; oldest is
	// evicted first once full.
	MaxDataPoints int
	// RetentionPeriod bounds how long a measurement or resolved alert
	// is kept before the sweep drops it.
	RetentionPeriod time.Duration
	// AggregationInterval is the retention sweep's tick period.
	AggregationInterval time.Duration
	// AnomalyThreshold is the latency-spike multiplier: an observation
	// whose latency exceeds baseline*AnomalyThreshold is anomalous.
	// Defaults to 2.0.
	AnomalyThreshold float64
	// ThroughputDropFraction flags a throughput_drop anomaly when the
	// current rate falls below baseline*(1-ThroughputDropFraction).
	// Defaults to 0.5.
	ThroughputDropFraction float64
	// CriticalLatencyMs triggers a PerformanceDegradation alert.
	CriticalLatencyMs float64
	// ConsecutiveFailureThreshold triggers a ServiceUnavailable alert
	// once an endpoint has this many consecutive failing measurements.
	ConsecutiveFailureThreshold int
}

func (c Config) withDefaults() Config {
	if c.SamplingRate <= 0 {
		c.SamplingRate = 1.0
	}
	if c.MaxDataPoints <= 0 {
		c.MaxDataPoints = 10000
	}
	if c.AnomalyThreshold <= 0 {
		c.AnomalyThreshold = 2.0
	}
	if c.ThroughputDropFraction <= 0 {
		c.ThroughputDropFraction = 0.5
	}
	if c.AggregationInterval <= 0 {
		c.AggregationInterval = time.Minute
	}
	return c
}

// Engine ingests measurements, maintains per-endpoint baselines, and
// derives windowed statistics, anomalies, and alerts on demand.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	logger zerolog.Logger
	rnd    *rand.Rand
	sink   AlertSink

	measurements []Measurement
	baselines    map[string]*Baseline
	consecutive  map[string]int
	alerts       []Alert

	statsCache      map[time.Duration]cachedStats
	anomalyStream   *stream.Broadcaster[Anomaly]
	alertStream     *stream.Broadcaster[Alert]

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type cachedStats struct {
	computedAt time.Time
	value      Stats
}

// New creates an ingestion engine. sink may be nil; critical alerts
// simply stay in-engine without paging out.
func New(cfg Config, logger zerolog.Logger, sink AlertSink) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:           cfg,
		logger:        logger.With().Str("component", "analytics").Logger(),
		rnd:           rand.New(rand.NewSource(1)),
		sink:          sink,
		baselines:     make(map[string]*Baseline),
		consecutive:   make(map[string]int),
		statsCache:    make(map[time.Duration]cachedStats),
		anomalyStream: stream.New[Anomaly](),
		alertStream:   stream.New[Alert](),
		stopCh:        make(chan struct{}),
	}
}

// Anomalies returns the broadcast stream of detected anomalies.
func (e *Engine) Anomalies() *stream.Broadcaster[Anomaly] { return e.anomalyStream }

// Alerts returns the broadcast stream of raised alerts. The engine
// publishes no resolution events.
func (e *Engine) Alerts() *stream.Broadcaster[Alert] { return e.alertStream }

// StartRetentionSweep launches the periodic purge of data older than
// RetentionPeriod. A no-op if RetentionPeriod is zero.
func (e *Engine) StartRetentionSweep(ctx context.Context) {
	if e.cfg.RetentionPeriod <= 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.AggregationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.sweep(time.Now())
			}
		}
	}()
}

// Stop halts the retention sweep and closes the broadcast streams.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.anomalyStream.Close()
	e.alertStream.Close()
}

// Record ingests one measurement: sampling, ring eviction, baseline
// update, cache invalidation, and anomaly/alert detection.
func (e *Engine) Record(m Measurement) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	e.mu.Lock()
	if e.rnd.Float64() > e.cfg.SamplingRate {
		e.mu.Unlock()
		return
	}

	e.measurements = append(e.measurements, m)
	if overflow := len(e.measurements) - e.cfg.MaxDataPoints; overflow > 0 {
		e.measurements = e.measurements[overflow:]
	}

	baseline := e.baselines[m.Endpoint]
	if baseline == nil {
		baseline = &Baseline{Endpoint: m.Endpoint}
		e.baselines[m.Endpoint] = baseline
	}
	priorMean := baseline.MeanLatency
	priorCount := baseline.Count
	baseline.observe(float64(m.ResponseTime.Nanoseconds()))
	rps := e.recentThroughputLocked(m.Timestamp)
	baseline.observeThroughput(rps)

	e.statsCache = make(map[time.Duration]cachedStats)

	anomalies := e.detectAnomaliesLocked(m, baseline, priorMean, priorCount, rps)
	newAlerts := e.evaluateAlertRulesLocked(m)
	e.mu.Unlock()

	for _, a := range anomalies {
		e.anomalyStream.Publish(a)
	}
	for _, a := range newAlerts {
		e.alertStream.Publish(a)
		if a.Severity == AlertSeverityCritical && e.sink != nil {
			if err := e.sink.Page(a); err != nil {
				e.logger.Warn().Err(err).Str("alert_id", a.ID).Msg("alert paging failed")
			}
		}
	}
}

// recentThroughputLocked counts measurements within the trailing
// second of now as a requests-per-second sample. Caller holds mu.
func (e *Engine) recentThroughputLocked(now time.Time) float64 {
	cutoff := now.Add(-time.Second)
	count := 0
	for i := len(e.measurements) - 1; i >= 0; i-- {
		if e.measurements[i].Timestamp.Before(cutoff) {
			break
		}
		count++
	}
	return float64(count)
}

func (e *Engine) detectAnomaliesLocked(m Measurement, baseline *Baseline, priorMean float64, priorCount int64, rps float64) []Anomaly {
	var out []Anomaly
	if priorCount < 2 {
		return out
	}

	observedMs := float64(m.ResponseTime.Milliseconds())
	baselineMs := priorMean / float64(time.Millisecond)
	if baselineMs > 0 && observedMs > baselineMs*e.cfg.AnomalyThreshold {
		out = append(out, Anomaly{
			Type:      AnomalyLatencySpike,
			Endpoint:  m.Endpoint,
			Observed:  observedMs,
			Baseline:  baselineMs,
			Threshold: e.cfg.AnomalyThreshold,
			At:        m.Timestamp,
		})
	}

	if baseline.MeanThroughput > 0 && rps < baseline.MeanThroughput*(1-e.cfg.ThroughputDropFraction) {
		out = append(out, Anomaly{
			Type:      AnomalyThroughputDrop,
			Endpoint:  m.Endpoint,
			Observed:  rps,
			Baseline:  baseline.MeanThroughput,
			Threshold: e.cfg.ThroughputDropFraction,
			At:        m.Timestamp,
		})
	}
	return out
}

func (e *Engine) evaluateAlertRulesLocked(m Measurement) []Alert {
	var out []Alert

	if e.cfg.CriticalLatencyMs > 0 && float64(m.ResponseTime.Milliseconds()) > e.cfg.CriticalLatencyMs {
		out = append(out, e.raiseLocked(AlertPerformanceDegradation, AlertSeverityCritical, m.Endpoint,
			"response time exceeded critical latency threshold"))
	}

	if m.Success {
		e.consecutive[m.Endpoint] = 0
	} else {
		e.consecutive[m.Endpoint]++
		if e.cfg.ConsecutiveFailureThreshold > 0 && e.consecutive[m.Endpoint] >= e.cfg.ConsecutiveFailureThreshold {
			out = append(out, e.raiseLocked(AlertServiceUnavailable, AlertSeverityCritical, m.Endpoint,
				"endpoint has exceeded its consecutive-failure threshold"))
			e.consecutive[m.Endpoint] = 0
		}
	}
	return out
}

func (e *Engine) raiseLocked(rule AlertRule, sev AlertSeverity, endpoint, summary string) Alert {
	a := Alert{
		ID:       uuid.NewString(),
		Rule:     rule,
		Severity: sev,
		Endpoint: endpoint,
		Summary:  summary,
		RaisedAt: time.Now(),
	}
	e.alerts = append(e.alerts, a)
	return a
}

// Stats computes the full distribution over the trailing window.
// Results are cached until the next Record invalidates them.
func (e *Engine) Stats(window time.Duration) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cached, ok := e.statsCache[window]; ok {
		return cached.value
	}

	cutoff := time.Now().Add(-window)
	var latenciesMs []float64
	endpointLatenciesMs := make(map[string][]float64)
	endpoints := make(map[string]*EndpointStats)
	statusCodes := make(map[int]int64)
	networkTypes := make(map[string]int64)

	var success, failure int64
	var totalBytes int64
	var minMs, maxMs float64
	first := true

	for _, m := range e.measurements {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		ms := float64(m.ResponseTime.Milliseconds())
		latenciesMs = append(latenciesMs, ms)
		totalBytes += m.BytesOut
		statusCodes[m.StatusCode]++
		if m.NetworkType != "" {
			networkTypes[m.NetworkType]++
		}

		if first {
			minMs, maxMs = ms, ms
			first = false
		} else {
			if ms < minMs {
				minMs = ms
			}
			if ms > maxMs {
				maxMs = ms
			}
		}

		ep := endpoints[m.Endpoint]
		if ep == nil {
			ep = &EndpointStats{Endpoint: m.Endpoint}
			endpoints[m.Endpoint] = ep
		}
		ep.Count++
		if m.Success {
			success++
			ep.SuccessCount++
		} else {
			failure++
			ep.FailureCount++
		}
		endpointLatenciesMs[m.Endpoint] = append(endpointLatenciesMs[m.Endpoint], ms)
	}

	total := success + failure
	stats := Stats{
		Window:       window,
		Count:        total,
		SuccessCount: success,
		FailureCount: failure,
		TotalBytes:   totalBytes,
		MinLatencyMs: minMs,
		MaxLatencyMs: maxMs,
		Endpoints:    make(map[string]EndpointStats, len(endpoints)),
		StatusCodes:  statusCodes,
		NetworkTypes: networkTypes,
	}
	if total > 0 {
		stats.ErrorRate = float64(failure) / float64(total)
	}
	if window > 0 {
		stats.MeanThroughputRPS = float64(total) / window.Seconds()
	}

	sort.Float64s(latenciesMs)
	stats.MeanLatencyMs = mean(latenciesMs)
	stats.MedianLatencyMs = percentile(latenciesMs, 50)
	stats.P95LatencyMs = percentile(latenciesMs, 95)
	stats.P99LatencyMs = percentile(latenciesMs, 99)
	stats.PeakThroughputRPS = peakThroughput(e.measurements, cutoff)

	for name, ep := range endpoints {
		epLatencies := endpointLatenciesMs[name]
		sort.Float64s(epLatencies)
		ep.MeanLatencyMs = mean(epLatencies)
		ep.P95LatencyMs = percentile(epLatencies, 95)
		ep.P99LatencyMs = percentile(epLatencies, 99)
		stats.Endpoints[name] = *ep
	}

	e.statsCache[window] = cachedStats{computedAt: time.Now(), value: stats}
	return stats
}

// sweep drops measurements and resolved alerts older than
// RetentionPeriod, comparing each item's own timestamp against now —
// not against another retained item's timestamp, which would make the
// cutoff itself drift as older data is purged. Anomalies are only
// published, never stored, so there are none for it to drop.
func (e *Engine) sweep(now time.Time) {
	cutoff := now.Add(-e.cfg.RetentionPeriod)

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.measurements[:0]
	for _, m := range e.measurements {
		if m.Timestamp.After(cutoff) {
			kept = append(kept, m)
		}
	}
	e.measurements = kept

	keptAlerts := e.alerts[:0]
	for _, a := range e.alerts {
		if a.ResolvedAt.IsZero() || a.ResolvedAt.After(cutoff) {
			keptAlerts = append(keptAlerts, a)
		}
	}
	e.alerts = keptAlerts

	e.statsCache = make(map[time.Duration]cachedStats)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// percentile expects xs sorted ascending.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	idx := int(p/100*float64(len(xs)-1) + 0.5)
	if idx >= len(xs) {
		idx = len(xs) - 1
	}
	return xs[idx]
}

func peakThroughput(measurements []Measurement, cutoff time.Time) float64 {
	buckets := make(map[int64]int64)
	var peak int64
	for _, m := range measurements {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		bucket := m.Timestamp.Unix()
		buckets[bucket]++
		if buckets[bucket] > peak {
			peak = buckets[bucket]
		}
	}
	return float64(peak)
}
