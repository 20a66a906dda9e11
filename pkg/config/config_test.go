package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"CITYROLLUP_DATA_DIR", "CITYROLLUP_LISTEN_ADDR", "CITYROLLUP_METRICS_ADDR",
		"CITYROLLUP_HEALTH_ADDR", "CITYROLLUP_WORKER_COUNT", "CITYROLLUP_PROVING_INTERVAL",
		"CITYROLLUP_MAX_PROVE_RETRIES", "CITYROLLUP_MAX_WITHDRAWALS_PER_BLOCK", "CITYROLLUP_LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}

	cfg := Load()
	if cfg.DataDir != "" {
		t.Errorf("DataDir = %q, want empty", cfg.DataDir)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("ListenAddr = %q, want 0.0.0.0:8080", cfg.ListenAddr)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", cfg.WorkerCount)
	}
	if cfg.ProvingInterval != 2*time.Minute {
		t.Errorf("ProvingInterval = %v, want 2m", cfg.ProvingInterval)
	}
	if cfg.MaxProveRetries != 5 {
		t.Errorf("MaxProveRetries = %d, want 5", cfg.MaxProveRetries)
	}
	if cfg.MaxWithdrawalsPerBlock != 1024 {
		t.Errorf("MaxWithdrawalsPerBlock = %d, want 1024", cfg.MaxWithdrawalsPerBlock)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("CITYROLLUP_DATA_DIR", "/var/lib/cityrollup")
	os.Setenv("CITYROLLUP_WORKER_COUNT", "16")
	os.Setenv("CITYROLLUP_PROVING_INTERVAL", "90s")
	defer func() {
		os.Unsetenv("CITYROLLUP_DATA_DIR")
		os.Unsetenv("CITYROLLUP_WORKER_COUNT")
		os.Unsetenv("CITYROLLUP_PROVING_INTERVAL")
	}()

	cfg := Load()
	if cfg.DataDir != "/var/lib/cityrollup" {
		t.Errorf("DataDir = %q, want /var/lib/cityrollup", cfg.DataDir)
	}
	if cfg.WorkerCount != 16 {
		t.Errorf("WorkerCount = %d, want 16", cfg.WorkerCount)
	}
	if cfg.ProvingInterval != 90*time.Second {
		t.Errorf("ProvingInterval = %v, want 90s", cfg.ProvingInterval)
	}
}

func TestGetEnvIntIgnoresUnparseable(t *testing.T) {
	os.Setenv("CITYROLLUP_MAX_PROVE_RETRIES", "not-a-number")
	defer os.Unsetenv("CITYROLLUP_MAX_PROVE_RETRIES")

	cfg := Load()
	if cfg.MaxProveRetries != 5 {
		t.Errorf("MaxProveRetries = %d, want default 5 on unparseable env value", cfg.MaxProveRetries)
	}
}
