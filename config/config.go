package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment selects a derived configuration profile.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvDevelopment Environment = "development"
	EnvDebug      Environment = "debug"
	EnvLowPower   Environment = "low_power"
)

// Config is the root configuration for the outbound control plane.
// Every component is constructed with its own nested section.
type Config struct {
	Env             string
	GracefulTimeout time.Duration

	RedisURL string

	Queue     QueueConfig
	RateLimit RateLimitConfig
	KeyMgr    KeyManagerConfig
	Analytics AnalyticsConfig
	Transport TransportConfig

	LogLevel string

	// adjustedEnv records which environment profile has already been
	// applied, so AdjustForEnvironment stays idempotent under repeat
	// calls instead of re-halving an already-halved value.
	adjustedEnv Environment
}

// QueueConfig controls admission, scheduling, batching, and retry
// behavior of the request queue.
type QueueConfig struct {
	MaxQueueSize          int
	MaxConcurrentRequests int
	MaxThroughputPerSecond int
	BatchingEnabled       bool
	MaxBatchSize          int
	BatchTimeout          time.Duration
	DefaultMaxRetries     int
	BreakerThreshold      int
	BreakerTimeout        time.Duration
}

// RateLimitConfig controls the default rate limit applied before
// per-endpoint/per-user overrides and the quota layer.
type RateLimitConfig struct {
	DefaultRequests      uint32
	DefaultWindow        time.Duration
	DefaultAlgorithm     string // fixed_window|sliding_window|token_bucket|leaky_bucket
	BurstMultiplier      float64
	PriorityAdjustment   bool
	DailyQuotaPerUser    uint32
	DistributedSyncEnabled bool
}

// KeyManagerConfig controls key lifecycle policy.
type KeyManagerConfig struct {
	MaxKeysPerService int
	DefaultLifetime   time.Duration
	DefaultStrength   string // low|medium|high|maximum
	EnableBackupKeys  bool
	RotationInterval  time.Duration
	WarningDays       int
	PerKeyRateRPH     uint32 // default per-key request rate window, requests/hour
	StorePath         string // directory used by the file backend, one JSON file per key
}

// AnalyticsConfig controls ingestion sampling, retention, and
// anomaly/alert thresholds.
type AnalyticsConfig struct {
	SamplingRate         float64
	MaxDataPoints         int
	AggregationInterval   time.Duration
	RetentionPeriod       time.Duration
	AnomalyThreshold      float64 // default 2.0x baseline for latency_spike
	CriticalLatency       time.Duration
	ConsecutiveFailures   int
	WarningThreshold      float64 // for key-expiry-style warnings reused across components
}

// TransportConfig tunes the pooled HTTP transport used to execute
// outbound requests.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	DefaultTimeout      time.Duration
}

// Load reads configuration from environment variables and an optional
// .env file, the way every component in this repo is bootstrapped.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("NETCTL_GRACEFUL_TIMEOUT_SEC", 15)

	return &Config{
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,
		RedisURL:        getEnv("REDIS_URL", "redis://redis:6379"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		Queue: QueueConfig{
			MaxQueueSize:           getEnvInt("QUEUE_MAX_SIZE", 10000),
			MaxConcurrentRequests:  getEnvInt("QUEUE_MAX_CONCURRENT", 50),
			MaxThroughputPerSecond: getEnvInt("QUEUE_MAX_THROUGHPUT_PER_SEC", 100),
			BatchingEnabled:        getEnvBool("QUEUE_BATCHING_ENABLED", true),
			MaxBatchSize:           getEnvInt("QUEUE_MAX_BATCH_SIZE", 20),
			BatchTimeout:           time.Duration(getEnvInt("QUEUE_BATCH_TIMEOUT_MS", 250)) * time.Millisecond,
			DefaultMaxRetries:      getEnvInt("QUEUE_DEFAULT_MAX_RETRIES", 3),
			BreakerThreshold:       getEnvInt("QUEUE_BREAKER_THRESHOLD", 5),
			BreakerTimeout:         time.Duration(getEnvInt("QUEUE_BREAKER_TIMEOUT_SEC", 30)) * time.Second,
		},

		RateLimit: RateLimitConfig{
			DefaultRequests:        uint32(getEnvInt("RATE_LIMIT_DEFAULT_REQUESTS", 100)),
			DefaultWindow:          time.Duration(getEnvInt("RATE_LIMIT_DEFAULT_WINDOW_SEC", 60)) * time.Second,
			DefaultAlgorithm:       getEnv("RATE_LIMIT_ALGORITHM", "token_bucket"),
			BurstMultiplier:        getEnvFloat("RATE_LIMIT_BURST_MULTIPLIER", 1.5),
			PriorityAdjustment:     getEnvBool("RATE_LIMIT_PRIORITY_ADJUSTMENT", true),
			DailyQuotaPerUser:      uint32(getEnvInt("RATE_LIMIT_DAILY_QUOTA", 100000)),
			DistributedSyncEnabled: getEnvBool("RATE_LIMIT_DISTRIBUTED_SYNC", false),
		},

		KeyMgr: KeyManagerConfig{
			MaxKeysPerService: getEnvInt("KEYMGR_MAX_KEYS_PER_SERVICE", 10),
			DefaultLifetime:   time.Duration(getEnvInt("KEYMGR_DEFAULT_LIFETIME_DAYS", 90)) * 24 * time.Hour,
			DefaultStrength:   getEnv("KEYMGR_DEFAULT_STRENGTH", "high"),
			EnableBackupKeys:  getEnvBool("KEYMGR_ENABLE_BACKUP_KEYS", true),
			RotationInterval:  time.Duration(getEnvInt("KEYMGR_ROTATION_INTERVAL_HOURS", 24)) * time.Hour,
			WarningDays:       getEnvInt("KEYMGR_WARNING_DAYS", 7),
			PerKeyRateRPH:     uint32(getEnvInt("KEYMGR_PER_KEY_RATE_RPH", 1000)),
			StorePath:         getEnv("KEYMGR_STORE_PATH", "./keydata"),
		},

		Analytics: AnalyticsConfig{
			SamplingRate:        getEnvFloat("ANALYTICS_SAMPLING_RATE", 1.0),
			MaxDataPoints:       getEnvInt("ANALYTICS_MAX_DATA_POINTS", 100000),
			AggregationInterval: time.Duration(getEnvInt("ANALYTICS_AGGREGATION_INTERVAL_SEC", 60)) * time.Second,
			RetentionPeriod:     time.Duration(getEnvInt("ANALYTICS_RETENTION_HOURS", 24)) * time.Hour,
			AnomalyThreshold:    getEnvFloat("ANALYTICS_ANOMALY_THRESHOLD", 2.0),
			CriticalLatency:     time.Duration(getEnvInt("ANALYTICS_CRITICAL_LATENCY_MS", 5000)) * time.Millisecond,
			ConsecutiveFailures: getEnvInt("ANALYTICS_CONSECUTIVE_FAILURES", 5),
			WarningThreshold:    getEnvFloat("ANALYTICS_WARNING_THRESHOLD", 0.8),
		},

		Transport: TransportConfig{
			MaxIdleConns:        getEnvInt("TRANSPORT_MAX_IDLE_CONNS", 256),
			MaxIdleConnsPerHost: getEnvInt("TRANSPORT_MAX_IDLE_CONNS_PER_HOST", 32),
			IdleConnTimeout:     time.Duration(getEnvInt("TRANSPORT_IDLE_CONN_TIMEOUT_SEC", 90)) * time.Second,
			DialTimeout:         time.Duration(getEnvInt("TRANSPORT_DIAL_TIMEOUT_SEC", 10)) * time.Second,
			DefaultTimeout:      time.Duration(getEnvInt("TRANSPORT_DEFAULT_TIMEOUT_SEC", 30)) * time.Second,
		},
	}
}

// IsValid checks every nested section's invariants and returns the
// first violation found.
func (c *Config) IsValid() error {
	if c.GracefulTimeout <= 0 {
		return fmt.Errorf("config: graceful timeout must be positive")
	}
	if err := c.Queue.IsValid(); err != nil {
		return err
	}
	if err := c.RateLimit.IsValid(); err != nil {
		return err
	}
	if err := c.KeyMgr.IsValid(); err != nil {
		return err
	}
	if err := c.Analytics.IsValid(); err != nil {
		return err
	}
	if err := c.Transport.IsValid(); err != nil {
		return err
	}
	return nil
}

func (q QueueConfig) IsValid() error {
	if q.MaxQueueSize <= 0 || q.MaxConcurrentRequests <= 0 || q.MaxThroughputPerSecond <= 0 {
		return fmt.Errorf("config: queue capacity/concurrency/throughput must be positive")
	}
	if q.MaxBatchSize <= 0 || q.BatchTimeout <= 0 {
		return fmt.Errorf("config: queue batch size and timeout must be positive")
	}
	if q.BreakerThreshold <= 0 || q.BreakerTimeout <= 0 {
		return fmt.Errorf("config: queue breaker threshold/timeout must be positive")
	}
	return nil
}

func (r RateLimitConfig) IsValid() error {
	if r.DefaultRequests == 0 || r.DefaultWindow <= 0 {
		return fmt.Errorf("config: rate limit requests/window must be positive")
	}
	if r.BurstMultiplier <= 0 {
		return fmt.Errorf("config: rate limit burst multiplier must be > 0")
	}
	return nil
}

func (k KeyManagerConfig) IsValid() error {
	if k.MaxKeysPerService <= 0 {
		return fmt.Errorf("config: key manager max keys per service must be positive")
	}
	if k.DefaultLifetime <= 0 || k.RotationInterval <= 0 {
		return fmt.Errorf("config: key manager lifetime/rotation interval must be positive")
	}
	if k.WarningDays < 0 {
		return fmt.Errorf("config: key manager warning days must be non-negative")
	}
	return nil
}

func (a AnalyticsConfig) IsValid() error {
	if a.SamplingRate <= 0 || a.SamplingRate > 1 {
		return fmt.Errorf("config: analytics sampling rate must be in (0,1]")
	}
	if a.WarningThreshold <= 0 || a.WarningThreshold > 1 {
		return fmt.Errorf("config: analytics warning threshold must be in (0,1]")
	}
	if a.MaxDataPoints <= 0 || a.AggregationInterval <= 0 || a.RetentionPeriod <= 0 {
		return fmt.Errorf("config: analytics capacity/interval/retention must be positive")
	}
	if a.AnomalyThreshold <= 0 {
		return fmt.Errorf("config: analytics anomaly threshold must be positive")
	}
	return nil
}

func (t TransportConfig) IsValid() error {
	if t.DialTimeout <= 0 || t.DefaultTimeout <= 0 || t.IdleConnTimeout <= 0 {
		return fmt.Errorf("config: transport timeouts must be positive")
	}
	return nil
}

// AdjustForEnvironment derives a new Config tuned for env. It is
// idempotent: calling it twice with the same env yields the same
// result as calling it once.
func (c *Config) AdjustForEnvironment(env Environment) *Config {
	if c.adjustedEnv == env {
		out := *c
		return &out
	}

	out := *c
	out.Queue = c.Queue
	out.RateLimit = c.RateLimit
	out.KeyMgr = c.KeyMgr
	out.Analytics = c.Analytics
	out.Transport = c.Transport
	out.adjustedEnv = env

	switch env {
	case EnvLowPower:
		out.Queue.MaxConcurrentRequests = halve(c.Queue.MaxConcurrentRequests)
		out.Queue.MaxBatchSize = halve(c.Queue.MaxBatchSize)
		out.Queue.MaxThroughputPerSecond = halve(c.Queue.MaxThroughputPerSecond)
		out.Queue.MaxQueueSize = halve(c.Queue.MaxQueueSize)
		out.Analytics.SamplingRate = clamp01(c.Analytics.SamplingRate / 2)
		out.RateLimit.DistributedSyncEnabled = false
	case EnvDebug:
		out.LogLevel = "debug"
	}

	return &out
}

func halve(v int) int {
	if v <= 1 {
		return v
	}
	return v / 2
}

func clamp01(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	if v > 1 {
		return 1
	}
	return v
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
