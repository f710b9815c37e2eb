package config_test

import (
	"os"
	"testing"

	"github.com/alfred-ai/netctl/config"
)

func TestLoadConfigFromEnv(t *testing.T) {
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("ENV", "test")
	os.Setenv("QUEUE_MAX_CONCURRENT", "42")
	defer func() {
		os.Unsetenv("REDIS_URL")
		os.Unsetenv("ENV")
		os.Unsetenv("QUEUE_MAX_CONCURRENT")
	}()

	cfg := config.Load()
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Fatalf("expected REDIS_URL to be loaded, got %s", cfg.RedisURL)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected ENV=test, got %s", cfg.Env)
	}
	if cfg.Queue.MaxConcurrentRequests != 42 {
		t.Fatalf("expected QUEUE_MAX_CONCURRENT=42, got %d", cfg.Queue.MaxConcurrentRequests)
	}
	if err := cfg.IsValid(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
}

func TestIsValidRejectsBadSections(t *testing.T) {
	cfg := config.Load()
	cfg.Analytics.SamplingRate = 0
	if err := cfg.IsValid(); err == nil {
		t.Fatal("expected sampling rate of 0 to be invalid")
	}

	cfg = config.Load()
	cfg.RateLimit.BurstMultiplier = 0
	if err := cfg.IsValid(); err == nil {
		t.Fatal("expected burst multiplier of 0 to be invalid")
	}
}

func TestAdjustForEnvironmentLowPowerHalvesConcurrency(t *testing.T) {
	cfg := config.Load()
	cfg.Queue.MaxConcurrentRequests = 50
	cfg.Queue.MaxBatchSize = 20

	adjusted := cfg.AdjustForEnvironment(config.EnvLowPower)
	if adjusted.Queue.MaxConcurrentRequests != 25 {
		t.Fatalf("expected concurrency halved to 25, got %d", adjusted.Queue.MaxConcurrentRequests)
	}
	if adjusted.Queue.MaxBatchSize != 10 {
		t.Fatalf("expected batch size halved to 10, got %d", adjusted.Queue.MaxBatchSize)
	}
}

func TestAdjustForEnvironmentIsIdempotent(t *testing.T) {
	cfg := config.Load()
	once := cfg.AdjustForEnvironment(config.EnvLowPower)
	twice := once.AdjustForEnvironment(config.EnvLowPower)

	if once.Queue.MaxConcurrentRequests != twice.Queue.MaxConcurrentRequests {
		t.Fatalf("adjust is not idempotent: %d != %d", once.Queue.MaxConcurrentRequests, twice.Queue.MaxConcurrentRequests)
	}
	if once.Analytics.SamplingRate != twice.Analytics.SamplingRate {
		t.Fatalf("adjust is not idempotent for sampling rate: %v != %v", once.Analytics.SamplingRate, twice.Analytics.SamplingRate)
	}
}

func TestAdjustForEnvironmentDebugForcesLogging(t *testing.T) {
	cfg := config.Load()
	adjusted := cfg.AdjustForEnvironment(config.EnvDebug)
	if adjusted.LogLevel != "debug" {
		t.Fatalf("expected debug env to force debug logging, got %s", adjusted.LogLevel)
	}
}
