package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("NOTARY_LISTEN_ADDR", "")
	cfg, err := loadConfig(writeConfig(t, "storage: memory\n"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Session.Timeout != 30*time.Minute {
		t.Errorf("expected 30m session timeout, got %s", cfg.Session.Timeout)
	}
	if cfg.RateLimit.Requests != 100 || cfg.RateLimit.Window != time.Hour {
		t.Errorf("expected 100 requests per hour, got %d per %s", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}
	if cfg.Maintenance.Schedule != "@every 15m" {
		t.Errorf("unexpected maintenance schedule %q", cfg.Maintenance.Schedule)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
storage: postgres
db_url: postgres://file
session:
  timeout: 45m
  warning_threshold: 2m
auth:
  max_login_attempts: 3
bootstrap_admin:
  username: admin
`)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("NOTARY_LOG_LEVEL", "debug")
	t.Setenv("NOTARY_LISTEN_ADDR", "")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("expected listen addr from file, got %q", cfg.ListenAddr)
	}
	if cfg.DBUrl != "postgres://env" {
		t.Errorf("env should override db_url, got %q", cfg.DBUrl)
	}
	if cfg.Session.Store != "redis" || cfg.Session.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("REDIS_URL should select the redis store, got %q %q", cfg.Session.Store, cfg.Session.RedisURL)
	}
	if cfg.Session.Timeout != 45*time.Minute || cfg.Session.WarningThreshold != 2*time.Minute {
		t.Errorf("durations not parsed: %s %s", cfg.Session.Timeout, cfg.Session.WarningThreshold)
	}
	if cfg.Session.RotateInterval != 30*time.Minute {
		t.Errorf("unset keys should keep defaults, got %s", cfg.Session.RotateInterval)
	}
	if cfg.Auth.MaxLoginAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Auth.MaxLoginAttempts)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %q", cfg.LogLevel)
	}
	if cfg.BootstrapAdmin.Username != "admin" {
		t.Errorf("expected bootstrap admin, got %q", cfg.BootstrapAdmin.Username)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cases := map[string]string{
		"postgres without url": "storage: postgres\n",
		"unknown storage":      "storage: sqlite\n",
		"redis without url":    "storage: memory\nsession:\n  store: redis\n",
		"smtp without relay":   "storage: memory\nnotify:\n  driver: smtp\n",
	}
	for name, body := range cases {
		if _, err := loadConfig(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("a missing file should fall back to defaults: %v", err)
	}
	if cfg.Storage != "postgres" {
		t.Errorf("expected postgres storage, got %q", cfg.Storage)
	}
}
