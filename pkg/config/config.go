// Copyright 2025 Certen Protocol
//
// Process configuration, read from environment variables with safe
// defaults. Grounded on the teacher's pkg/config.Config/Load shape (flat
// struct, getEnv/getEnvInt/getEnvDuration helpers, no config file
// parser), generalized from the teacher's validator-specific fields to
// this system's orchestrator/worker fields.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything an orchestrator or worker process needs at
// startup.
type Config struct {
	// DataDir is the base directory for the on-disk KV store. Empty
	// means run entirely in memory (tests, local experimentation).
	DataDir string

	// ListenAddr serves the control-plane HTTP endpoints (submit
	// request, trigger ProduceBlock).
	ListenAddr string
	// MetricsAddr serves /metrics (prometheus).
	MetricsAddr string
	// HealthAddr serves /health.
	HealthAddr string

	// WorkerCount is how many worker goroutines run against a queue and
	// proof store: it sizes both cmd/orchestrator's embedded pool and each
	// `cmd/worker` process's own pool.
	WorkerCount int
	// ProvingInterval is the Q_JOB visibility timeout, set to the worst
	// expected prove time (spec §5).
	ProvingInterval time.Duration
	// MaxProveRetries bounds retries before a job is quarantined.
	MaxProveRetries int

	// MaxWithdrawalsPerBlock bounds the process_withdrawal batch the
	// planner will take per checkpoint (spec §4.5).
	MaxWithdrawalsPerBlock int

	LogLevel string
}

// Load reads configuration from environment variables, falling back to
// defaults suitable for local development.
func Load() *Config {
	return &Config{
		DataDir:     getEnv("CITYROLLUP_DATA_DIR", ""),
		ListenAddr:  getEnv("CITYROLLUP_LISTEN_ADDR", "0.0.0.0:8080"),
		MetricsAddr: getEnv("CITYROLLUP_METRICS_ADDR", "0.0.0.0:9090"),
		HealthAddr:  getEnv("CITYROLLUP_HEALTH_ADDR", "0.0.0.0:8081"),

		WorkerCount:     getEnvInt("CITYROLLUP_WORKER_COUNT", 4),
		ProvingInterval: getEnvDuration("CITYROLLUP_PROVING_INTERVAL", 2*time.Minute),
		MaxProveRetries: getEnvInt("CITYROLLUP_MAX_PROVE_RETRIES", 5),

		MaxWithdrawalsPerBlock: getEnvInt("CITYROLLUP_MAX_WITHDRAWALS_PER_BLOCK", 1024),

		LogLevel: getEnv("CITYROLLUP_LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
