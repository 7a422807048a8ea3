package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
database:
  dsn: ./pipeline.db
orders:
  csv_path: ./sales_data.csv
`

func writeConfigFile(t *testing.T, dir, contents string) {
	t.Helper()
	cfgDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "dev.yaml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config", "secrets.yaml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	t.Setenv("WEATHER_API_KEY", "")
	os.Unsetenv("WEATHER_API_KEY")

	dir := t.TempDir()
	writeConfigFile(t, dir, minimalYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	t.Setenv("WEATHER_API_KEY", "")
	os.Unsetenv("WEATHER_API_KEY")

	dir := t.TempDir()
	writeConfigFile(t, dir, minimalYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

	dir := t.TempDir()
	writeConfigFile(t, dir, minimalYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBDriver != "sqlite3" {
		t.Errorf("DBDriver = %q, want sqlite3", cfg.DBDriver)
	}
	if cfg.WeatherConcurrency != 4 {
		t.Errorf("WeatherConcurrency = %d, want 4", cfg.WeatherConcurrency)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if cfg.WeatherAPITimeout != 2*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want 2s", cfg.WeatherAPITimeout)
	}
	if cfg.CacheBackend != "none" {
		t.Errorf("CacheBackend = %q, want none", cfg.CacheBackend)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want empty", cfg.MetricsAddr)
	}
	if cfg.BreakerFailureThreshold != 5 || cfg.BreakerSuccessThreshold != 2 {
		t.Errorf("breaker thresholds = (%d, %d), want (5, 2)",
			cfg.BreakerFailureThreshold, cfg.BreakerSuccessThreshold)
	}
	if cfg.BreakerCooldown != 30*time.Second {
		t.Errorf("BreakerCooldown = %v, want 30s", cfg.BreakerCooldown)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WEATHER_API_KEY", "env-key-1234567890")
	t.Setenv("DB_DSN", "/data/run.db")
	t.Setenv("ORDERS_CSV_PATH", "/data/orders.csv")
	t.Setenv("CACHE_BACKEND", "in_memory")

	dir := t.TempDir()
	writeConfigFile(t, dir, minimalYAML)
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DBDSN != "/data/run.db" {
		t.Errorf("DBDSN = %q, want env override", cfg.DBDSN)
	}
	if cfg.OrdersCSVPath != "/data/orders.csv" {
		t.Errorf("OrdersCSVPath = %q, want env override", cfg.OrdersCSVPath)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
}

func TestLoad_RejectsUnknownCacheBackend(t *testing.T) {
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	t.Setenv("CACHE_BACKEND", "redis")

	dir := t.TempDir()
	writeConfigFile(t, dir, minimalYAML)
	chdir(t, dir)

	if _, err := Load(); err == nil {
		t.Fatal("Load() with unknown cache backend succeeded, want error")
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	t.Setenv("ENV_NAME", "nonexistent")

	chdir(t, t.TempDir())

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing config file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
}
