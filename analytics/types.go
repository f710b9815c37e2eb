// Package analytics ingests request measurements, maintains a
// per-endpoint running baseline, derives windowed statistics on
// demand, and raises anomalies and alerts when live behavior departs
// from the baseline. It generalizes the async batch-ingestion pipeline
// of a ClickHouse-backed event sink down to synchronous ingest plus
// derived in-memory stats: there is no warehouse sink in scope here.
package analytics

import "time"

// EventType distinguishes what kind of operation a Measurement
// describes.
type EventType string

const (
	EventRequest EventType = "request"
	EventError   EventType = "error"
)

// Measurement is one recorded observation.
type Measurement struct {
	ID           string
	Endpoint     string
	NetworkType  string
	StatusCode   int
	ResponseTime time.Duration
	BytesOut     int64
	Success      bool
	Timestamp    time.Time
}

// Baseline is the incrementally-updated arithmetic mean for one
// endpoint: a true running mean (count + incremental update, see
// observe), not an exponentially weighted average, so it equals the
// exact mean of everything ingested since the endpoint was first
// observed, within floating-point tolerance.
type Baseline struct {
	Endpoint       string
	Count          int64
	MeanLatency    float64 // running arithmetic mean, time.Duration nanoseconds as float64
	MeanThroughput float64 // running mean of per-second throughput samples
	thrSamples     int64
}

// observe folds one latency sample into the running mean using
// Welford's incremental-mean update: mean += (x - mean) / n.
func (b *Baseline) observe(latencyNs float64) {
	b.Count++
	b.MeanLatency += (latencyNs - b.MeanLatency) / float64(b.Count)
}

// observeThroughput folds one throughput sample (requests/sec) into
// its own running mean, independent of the latency sample count.
func (b *Baseline) observeThroughput(rps float64) {
	b.thrSamples++
	b.MeanThroughput += (rps - b.MeanThroughput) / float64(b.thrSamples)
}

// EndpointStats is the derived distribution for a single endpoint
// within a Stats window.
type EndpointStats struct {
	Endpoint       string
	Count          int64
	SuccessCount   int64
	FailureCount   int64
	MeanLatencyMs  float64
	P95LatencyMs   float64
	P99LatencyMs   float64
}

// Stats is the full windowed snapshot produced by Engine.Stats.
type Stats struct {
	Window           time.Duration
	Count            int64
	SuccessCount     int64
	FailureCount     int64
	ErrorRate        float64
	MeanLatencyMs    float64
	MedianLatencyMs  float64
	P95LatencyMs     float64
	P99LatencyMs     float64
	MinLatencyMs     float64
	MaxLatencyMs     float64
	TotalBytes       int64
	MeanThroughputRPS float64
	PeakThroughputRPS float64
	Endpoints        map[string]EndpointStats
	StatusCodes      map[int]int64
	NetworkTypes     map[string]int64
}

// AnomalyType enumerates the kinds of detected deviation from baseline.
type AnomalyType string

const (
	AnomalyLatencySpike   AnomalyType = "latency_spike"
	AnomalyThroughputDrop AnomalyType = "throughput_drop"
)

// Anomaly is a single detected deviation from an endpoint's baseline.
type Anomaly struct {
	Type      AnomalyType
	Endpoint  string
	Observed  float64
	Baseline  float64
	Threshold float64
	At        time.Time
}

// AlertSeverity mirrors the severity tiers an external paging system
// understands.
type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertRule enumerates the built-in alert conditions.
type AlertRule string

const (
	AlertPerformanceDegradation AlertRule = "performance_degradation"
	AlertServiceUnavailable     AlertRule = "service_unavailable"
)

// Alert is a raised condition requiring operator attention. Resolved
// alerts remain in the engine (for the retention sweep to age out)
// with ResolvedAt set.
type Alert struct {
	ID         string
	Rule       AlertRule
	Severity   AlertSeverity
	Endpoint   string
	Summary    string
	RaisedAt   time.Time
	ResolvedAt time.Time
}

// AlertSink receives critical alerts for out-of-process paging. An
// optional plug point; a nil sink simply means alerts stay in-engine.
type AlertSink interface {
	Page(a Alert) error
	Resolve(a Alert) error
}
