package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testEngine(cfg Config) *Engine {
	return New(cfg, zerolog.Nop(), nil)
}

func TestBaselineMeanMatchesExactArithmeticMean(t *testing.T) {
	e := testEngine(Config{SamplingRate: 1.0, MaxDataPoints: 1000})

	samples := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		15 * time.Millisecond,
		25 * time.Millisecond,
	}
	base := time.Now()
	for i, d := range samples {
		e.Record(Measurement{
			Endpoint:     "ep",
			ResponseTime: d,
			Success:      true,
			Timestamp:    base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	var sumNs float64
	for _, d := range samples {
		sumNs += float64(d.Nanoseconds())
	}
	want := sumNs / float64(len(samples))

	e.mu.Lock()
	got := e.baselines["ep"].MeanLatency
	e.mu.Unlock()

	if math.Abs(got-want) > 1e-9*want {
		t.Fatalf("expected baseline mean %.4f, got %.4f", want, got)
	}
}

func TestRingBufferEvictsOldestBeyondCap(t *testing.T) {
	e := testEngine(Config{SamplingRate: 1.0, MaxDataPoints: 3})
	base := time.Now()
	for i := 0; i < 5; i++ {
		e.Record(Measurement{Endpoint: "ep", ResponseTime: time.Millisecond, Success: true, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	e.mu.Lock()
	n := len(e.measurements)
	e.mu.Unlock()
	if n != 3 {
		t.Fatalf("expected ring capped at 3, got %d", n)
	}
}

func TestNegativeSamplingRateAdmitsNothing(t *testing.T) {
	e := testEngine(Config{SamplingRate: 0.0, MaxDataPoints: 100})
	e.cfg.SamplingRate = -1 // force rnd.Float64() > SamplingRate to always hold
	e.Record(Measurement{Endpoint: "ep", ResponseTime: time.Millisecond, Success: true})

	e.mu.Lock()
	n := len(e.measurements)
	e.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no measurements retained, got %d", n)
	}
}

func TestLatencySpikeAnomalyDetected(t *testing.T) {
	e := testEngine(Config{SamplingRate: 1.0, MaxDataPoints: 1000, AnomalyThreshold: 2.0})
	sub, cancel := e.Anomalies().Subscribe()
	defer cancel()

	base := time.Now()
	for i := 0; i < 5; i++ {
		e.Record(Measurement{Endpoint: "ep", ResponseTime: 10 * time.Millisecond, Success: true, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	e.Record(Measurement{Endpoint: "ep", ResponseTime: 200 * time.Millisecond, Success: true, Timestamp: base.Add(6 * time.Second)})

	select {
	case a := <-sub:
		if a.Type != AnomalyLatencySpike {
			t.Fatalf("expected latency_spike, got %v", a.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a latency_spike anomaly to be published")
	}
}

func TestServiceUnavailableAlertAfterConsecutiveFailures(t *testing.T) {
	e := testEngine(Config{SamplingRate: 1.0, MaxDataPoints: 1000, ConsecutiveFailureThreshold: 3})
	sub, cancel := e.Alerts().Subscribe()
	defer cancel()

	base := time.Now()
	for i := 0; i < 3; i++ {
		e.Record(Measurement{Endpoint: "ep", ResponseTime: time.Millisecond, Success: false, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	select {
	case a := <-sub:
		if a.Rule != AlertServiceUnavailable {
			t.Fatalf("expected service_unavailable alert, got %v", a.Rule)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a service_unavailable alert to be published")
	}
}

func TestStatsComputesDistributionOverWindow(t *testing.T) {
	e := testEngine(Config{SamplingRate: 1.0, MaxDataPoints: 1000})
	base := time.Now()
	for i := 0; i < 10; i++ {
		e.Record(Measurement{
			Endpoint:     "ep",
			ResponseTime: time.Duration(i+1) * time.Millisecond,
			StatusCode:   200,
			Success:      true,
			Timestamp:    base,
		})
	}

	stats := e.Stats(time.Hour)
	if stats.Count != 10 {
		t.Fatalf("expected 10 measurements, got %d", stats.Count)
	}
	if stats.SuccessCount != 10 || stats.FailureCount != 0 {
		t.Fatalf("expected all successes, got success=%d failure=%d", stats.SuccessCount, stats.FailureCount)
	}
	if stats.MaxLatencyMs != 10 {
		t.Fatalf("expected max latency 10ms, got %.2f", stats.MaxLatencyMs)
	}
}

func TestStatsComputesPerEndpointLatencyDistribution(t *testing.T) {
	e := testEngine(Config{SamplingRate: 1.0, MaxDataPoints: 1000})
	base := time.Now()

	for i := 0; i < 10; i++ {
		e.Record(Measurement{
			Endpoint:     "/fast",
			ResponseTime: time.Millisecond,
			StatusCode:   200,
			Success:      true,
			Timestamp:    base,
		})
	}
	for i := 1; i <= 10; i++ {
		e.Record(Measurement{
			Endpoint:     "/slow",
			ResponseTime: time.Duration(i*10) * time.Millisecond,
			StatusCode:   200,
			Success:      true,
			Timestamp:    base,
		})
	}

	stats := e.Stats(time.Hour)

	fast, ok := stats.Endpoints["/fast"]
	if !ok {
		t.Fatal("expected /fast endpoint stats present")
	}
	if fast.MeanLatencyMs != 1 {
		t.Fatalf("expected /fast mean latency 1ms, got %.4f", fast.MeanLatencyMs)
	}

	slow, ok := stats.Endpoints["/slow"]
	if !ok {
		t.Fatal("expected /slow endpoint stats present")
	}
	if slow.MeanLatencyMs == 0 {
		t.Fatal("expected /slow mean latency to be populated, not zero")
	}
	if slow.MeanLatencyMs <= fast.MeanLatencyMs {
		t.Fatalf("expected /slow (mean %.2fms) to run hotter than /fast (mean %.2fms)", slow.MeanLatencyMs, fast.MeanLatencyMs)
	}
	if slow.P95LatencyMs == 0 || slow.P99LatencyMs == 0 {
		t.Fatalf("expected non-zero p95/p99 for /slow, got p95=%.2f p99=%.2f", slow.P95LatencyMs, slow.P99LatencyMs)
	}
	// Global distribution must stay independent of per-endpoint ones.
	if stats.MeanLatencyMs == 0 {
		t.Fatal("expected global mean latency to remain populated")
	}
}

func TestRetentionSweepDropsOldMeasurementsByOwnTimestamp(t *testing.T) {
	e := testEngine(Config{SamplingRate: 1.0, MaxDataPoints: 1000, RetentionPeriod: time.Minute})
	now := time.Now()
	e.Record(Measurement{Endpoint: "ep", ResponseTime: time.Millisecond, Success: true, Timestamp: now.Add(-2 * time.Minute)})
	e.Record(Measurement{Endpoint: "ep", ResponseTime: time.Millisecond, Success: true, Timestamp: now})

	e.sweep(now)

	e.mu.Lock()
	n := len(e.measurements)
	e.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly 1 measurement retained after sweep, got %d", n)
	}
}
