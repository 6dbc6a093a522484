package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type sessionConfig struct {
	Store              string        `yaml:"store"` // memory or redis
	RedisURL           string        `yaml:"redis_url"`
	CookieName         string        `yaml:"cookie_name"`
	RememberCookieName string        `yaml:"remember_cookie_name"`
	Timeout            time.Duration `yaml:"timeout"`
	RotateInterval     time.Duration `yaml:"rotate_interval"`
	RotateGrace        time.Duration `yaml:"rotate_grace"`
	RememberTTL        time.Duration `yaml:"remember_ttl"`
	WarningThreshold   time.Duration `yaml:"warning_threshold"`
	SecureCookies      bool          `yaml:"secure_cookies"`
}

type authConfig struct {
	MaxLoginAttempts  int           `yaml:"max_login_attempts"`
	LockoutDuration   time.Duration `yaml:"lockout_duration"`
	MinPasswordLength int           `yaml:"min_password_length"`
}

type rateLimitConfig struct {
	Requests    int           `yaml:"requests"`
	Window      time.Duration `yaml:"window"`
	GlobalRPS   float64       `yaml:"global_rps"`
	GlobalBurst int           `yaml:"global_burst"`
}

type notifyConfig struct {
	Driver       string `yaml:"driver"` // console or smtp
	SMTPAddr     string `yaml:"smtp_addr"`
	SMTPFrom     string `yaml:"smtp_from"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
}

type bootstrapConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Email    string `yaml:"email"`
	FullName string `yaml:"full_name"`
}

type maintenanceConfig struct {
	Schedule string `yaml:"schedule"`
}

type config struct {
	ListenAddr        string            `yaml:"listen_addr"`
	TLSCertFile       string            `yaml:"tls_cert"`
	TLSKeyFile        string            `yaml:"tls_key"`
	TrustProxyHeaders bool              `yaml:"trust_proxy_headers"`
	Storage           string            `yaml:"storage"` // postgres or memory
	DBUrl             string            `yaml:"db_url"`
	MigrationsDir     string            `yaml:"migrations_dir"`
	RunMigrations     bool              `yaml:"run_migrations"`
	LogLevel          string            `yaml:"log_level"`
	Session           sessionConfig     `yaml:"session"`
	Auth              authConfig        `yaml:"auth"`
	RateLimit         rateLimitConfig   `yaml:"rate_limit"`
	Maintenance       maintenanceConfig `yaml:"maintenance"`
	Notify            notifyConfig      `yaml:"notify"`
	BootstrapAdmin    bootstrapConfig   `yaml:"bootstrap_admin"`
}

func defaultConfig() config {
	cfg := config{
		ListenAddr:    ":8080",
		Storage:       "postgres",
		MigrationsDir: "migrations",
		RunMigrations: true,
		LogLevel:      "info",
		Session: sessionConfig{
			Store:            "memory",
			Timeout:          30 * time.Minute,
			RotateInterval:   30 * time.Minute,
			RotateGrace:      30 * time.Second,
			RememberTTL:      30 * 24 * time.Hour,
			WarningThreshold: 5 * time.Minute,
		},
		Auth: authConfig{
			MaxLoginAttempts:  5,
			LockoutDuration:   15 * time.Minute,
			MinPasswordLength: 8,
		},
		RateLimit: rateLimitConfig{
			Requests:    100,
			Window:      time.Hour,
			GlobalRPS:   20,
			GlobalBurst: 40,
		},
		Maintenance: maintenanceConfig{Schedule: "@every 15m"},
		Notify:      notifyConfig{Driver: "console"},
	}
	return cfg
}

// loadConfig applies defaults, then the YAML file at path if it exists,
// then environment overrides.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if v := os.Getenv("NOTARY_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Session.RedisURL = v
		cfg.Session.Store = "redis"
	}
	if v := os.Getenv("NOTARY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch c.Storage {
	case "postgres":
		if c.DBUrl == "" {
			return errors.New("db_url must be configured (or DATABASE_URL env var)")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			return errors.New("session.redis_url must be configured (or REDIS_URL env var)")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	switch c.Notify.Driver {
	case "console":
	case "smtp":
		if c.Notify.SMTPAddr == "" || c.Notify.SMTPFrom == "" {
			return errors.New("notify.smtp_addr and notify.smtp_from are required for the smtp driver")
		}
	default:
		return fmt.Errorf("unknown notify driver %q", c.Notify.Driver)
	}
	return nil
}
