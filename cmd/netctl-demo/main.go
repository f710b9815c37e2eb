// Command netctl-demo wires the control-plane components into a
// single process and drives a handful of synthetic requests through
// them, the way an embedding application would. It starts no network
// listener: every component here is a client-side library.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfred-ai/netctl/analytics"
	"github.com/alfred-ai/netctl/breaker"
	"github.com/alfred-ai/netctl/config"
	"github.com/alfred-ai/netctl/distsync"
	"github.com/alfred-ai/netctl/keymanager"
	"github.com/alfred-ai/netctl/logger"
	"github.com/alfred-ai/netctl/queue"
	"github.com/alfred-ai/netctl/ratelimit"
	"github.com/alfred-ai/netctl/redisclient"
	"github.com/alfred-ai/netctl/transport"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	if err := cfg.IsValid(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Str("env", cfg.Env).Msg("netctl demo starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(ratelimit.LimiterConfig{
		Default: ratelimit.RateLimit{
			Requests:  cfg.RateLimit.DefaultRequests,
			Window:    ratelimit.CustomWindow(cfg.RateLimit.DefaultWindow),
			Algorithm: ratelimit.Algorithm(cfg.RateLimit.DefaultAlgorithm),
		},
		BurstMultiplier:    cfg.RateLimit.BurstMultiplier,
		PriorityAdjustment: cfg.RateLimit.PriorityAdjustment,
		DailyQuotaPerUser:  cfg.RateLimit.DailyQuotaPerUser,
	}, log)

	if cfg.RateLimit.DistributedSyncEnabled {
		rc, err := redisclient.New(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — continuing with local-only rate limiting")
		} else if err := rc.Ping(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed — continuing with local-only rate limiting")
		} else {
			limiter.SetDistributedSync(distsync.New(rc, "netctl:"))
			log.Info().Msg("distributed rate-limit sync enabled via redis")
		}
	}

	pool := transport.NewPooledHTTPTransport(transport.PoolConfig{
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		DialTimeout:         cfg.Transport.DialTimeout,
		DefaultTimeout:      cfg.Transport.DefaultTimeout,
	})

	q := queue.New(queue.Config{
		MaxQueueSize:           cfg.Queue.MaxQueueSize,
		MaxConcurrentRequests:  cfg.Queue.MaxConcurrentRequests,
		MaxThroughputPerSecond: cfg.Queue.MaxThroughputPerSecond,
		BatchingEnabled:        cfg.Queue.BatchingEnabled,
		MaxBatchSize:           cfg.Queue.MaxBatchSize,
		BatchTimeout:           cfg.Queue.BatchTimeout,
		DefaultMaxRetries:      cfg.Queue.DefaultMaxRetries,
		BreakerThreshold:       cfg.Queue.BreakerThreshold,
		BreakerTimeout:         cfg.Queue.BreakerTimeout,
	}, pool, log)
	q.Start(ctx)

	keyStore, err := keymanager.NewFileStore(cfg.KeyMgr.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("key store init failed")
	}
	keyMgr := keymanager.New(keymanager.Config{
		MaxKeysPerService: cfg.KeyMgr.MaxKeysPerService,
		DefaultLifetime:   cfg.KeyMgr.DefaultLifetime,
		DefaultStrength:   keymanager.Strength(cfg.KeyMgr.DefaultStrength),
		EnableBackupKeys:  cfg.KeyMgr.EnableBackupKeys,
		RotationInterval:  cfg.KeyMgr.RotationInterval,
		WarningPeriod:     time.Duration(cfg.KeyMgr.WarningDays) * 24 * time.Hour,
		PerKeyRateLimitPerHr: int(cfg.KeyMgr.PerKeyRateRPH),
	}, keyStore, log)
	keyMgr.StartRotationTimer()

	engine := analytics.New(analytics.Config{
		SamplingRate:                cfg.Analytics.SamplingRate,
		MaxDataPoints:               cfg.Analytics.MaxDataPoints,
		AggregationInterval:         cfg.Analytics.AggregationInterval,
		RetentionPeriod:             cfg.Analytics.RetentionPeriod,
		AnomalyThreshold:            cfg.Analytics.AnomalyThreshold,
		CriticalLatencyMs:           float64(cfg.Analytics.CriticalLatency.Milliseconds()),
		ConsecutiveFailureThreshold: cfg.Analytics.ConsecutiveFailures,
	}, log, nil)
	engine.StartRetentionSweep(ctx)

	cb := breaker.New(cfg.Queue.BreakerThreshold, cfg.Queue.BreakerTimeout, log)

	demoKey, err := keyMgr.Create("netctl-demo", "local dev key", keymanager.KeyTypeStandard, []string{"read", "write"}, nil, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("demo key creation failed")
	}
	log.Info().Str("key_id", demoKey.ID).Msg("issued demo api key")

	results, cancelResults := q.Results().Subscribe()
	defer cancelResults()
	go func() {
		for r := range results {
			log.Info().Str("id", r.ID).Bool("success", r.Success).Int("status", r.Status).Msg("request completed")
		}
	}()

	anomalies, cancelAnomalies := engine.Anomalies().Subscribe()
	defer cancelAnomalies()
	go func() {
		for a := range anomalies {
			log.Warn().Str("type", string(a.Type)).Str("endpoint", a.Endpoint).Float64("observed", a.Observed).Float64("baseline", a.Baseline).Msg("anomaly detected")
		}
	}()

	runSyntheticTraffic(log, limiter, q, cb, engine, demoKey.Secret)

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	q.Stop()
	keyMgr.Stop()
	engine.Stop()
	log.Info().Msg("netctl demo stopped gracefully")
}

// runSyntheticTraffic drives a handful of requests through the
// rate limiter, breaker-gated queue, and analytics engine, the way a
// real caller's request path would.
func runSyntheticTraffic(
	log zerolog.Logger,
	limiter *ratelimit.Limiter,
	q *queue.Queue,
	cb *breaker.CircuitBreaker,
	engine *analytics.Engine,
	apiKeySecret string,
) {
	rlCtx := ratelimit.Context{Endpoint: "demo.echo", UserID: "demo-user", Priority: ratelimit.PriorityNormal}

	for i := 0; i < 5; i++ {
		status, err := limiter.Consume(rlCtx)
		if err != nil {
			log.Warn().Err(err).Msg("request rejected by rate limiter")
			continue
		}

		start := time.Now()
		allowed := cb.Allow()
		if !allowed {
			log.Warn().Msg("request rejected by circuit breaker")
			continue
		}

		req := queue.NewRequest("demo-backend", "GET", "/echo", "", queue.PriorityNormal)
		req.RetryPolicy = queue.RetryPolicy{Kind: queue.RetryExponential, BaseDelay: time.Second, Multiplier: 2}
		req.MaxRetries = 3
		if err := q.Enqueue(req); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("enqueue failed")
			cb.RecordFailure()
			continue
		}
		cb.RecordSuccess()

		engine.Record(analytics.Measurement{
			Endpoint:     rlCtx.Endpoint,
			NetworkType:  "wifi",
			StatusCode:   200,
			ResponseTime: time.Since(start),
			BytesOut:     256,
			Success:      true,
		})

		log.Info().Int64("remaining", status.Remaining).Str("request_id", req.ID).Msg("synthetic request submitted")
	}
}
