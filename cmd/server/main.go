package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/org/notaryadmin/internal/api"
	"github.com/org/notaryadmin/internal/auth"
	"github.com/org/notaryadmin/internal/guard"
	"github.com/org/notaryadmin/internal/maintenance"
	"github.com/org/notaryadmin/internal/notify"
	"github.com/org/notaryadmin/internal/ratelimit"
	"github.com/org/notaryadmin/internal/session"
	"github.com/org/notaryadmin/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("NOTARY_CONFIG"); v != "" {
		cfgFile = v
	}
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfgFile).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	// Storage
	var store storage.Backend
	if cfg.Storage == "memory" {
		log.Warn().Msg("using in-memory storage; accounts and audit entries are lost on restart")
		store = storage.NewMemoryBackend()
	} else {
		if cfg.RunMigrations {
			version, err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to run migrations")
			}
			log.Info().Uint("version", version).Msg("migrations applied")
		}
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pg
	}
	defer store.Close()

	// Sessions and rate limiting share one Redis when configured.
	var (
		sessions session.Store
		limiter  ratelimit.Limiter
		jobs     []maintenance.Job
	)
	if cfg.Session.Store == "redis" {
		opts, err := redis.ParseURL(cfg.Session.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis url")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		sessions = session.NewRedisStore(rdb, "")
		limiter = ratelimit.NewRedisLimiter(rdb, "")
	} else {
		mem := session.NewMemoryStore()
		memLimiter := ratelimit.NewMemoryLimiter()
		sessions = mem
		limiter = memLimiter
		jobs = append(jobs,
			maintenance.SessionPurge(mem),
			maintenance.RateLimitSweep(memLimiter, cfg.RateLimit.Window),
		)
	}

	var notifier auth.Notifier = notify.NewConsoleNotifier(os.Stdout)
	if cfg.Notify.Driver == "smtp" {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Addr:     cfg.Notify.SMTPAddr,
			From:     cfg.Notify.SMTPFrom,
			Username: cfg.Notify.SMTPUsername,
			Password: cfg.Notify.SMTPPassword,
		})
	}

	// Create server
	srv := api.NewServer(api.Deps{
		Store:    store,
		Sessions: sessions,
		Limiter:  limiter,
		Notifier: notifier,
	}, api.Config{
		ListenAddr:        cfg.ListenAddr,
		TLSCertFile:       cfg.TLSCertFile,
		TLSKeyFile:        cfg.TLSKeyFile,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		WarningThreshold:  cfg.Session.WarningThreshold,
		GlobalRPS:         cfg.RateLimit.GlobalRPS,
		GlobalBurst:       cfg.RateLimit.GlobalBurst,
		Session: session.Config{
			CookieName:         cfg.Session.CookieName,
			RememberCookieName: cfg.Session.RememberCookieName,
			Timeout:            cfg.Session.Timeout,
			RotateInterval:     cfg.Session.RotateInterval,
			RotateGrace:        cfg.Session.RotateGrace,
			RememberTTL:        cfg.Session.RememberTTL,
			SecureCookies:      cfg.Session.SecureCookies,
		},
		Auth: auth.Config{
			MaxLoginAttempts:  cfg.Auth.MaxLoginAttempts,
			LockoutDuration:   cfg.Auth.LockoutDuration,
			MinPasswordLength: cfg.Auth.MinPasswordLength,
		},
		Guard: guard.Config{
			RateLimit:  cfg.RateLimit.Requests,
			RateWindow: cfg.RateLimit.Window,
		},
	})

	if b := cfg.BootstrapAdmin; b.Username != "" {
		created, err := srv.Auth().BootstrapAdmin(ctx, b.Username, b.Password, b.Email, b.FullName)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create bootstrap administrator")
		}
		if created {
			log.Info().Str("username", b.Username).Msg("bootstrap administrator created")
		}
	}

	// Maintenance
	jobs = append(jobs,
		maintenance.RememberTokenPurge(store, time.Now),
		maintenance.LoginFailurePrune(srv.Auth().Lockout(), time.Now),
	)
	sched, err := maintenance.New(cfg.Maintenance.Schedule, jobs...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule maintenance")
	}
	sched.Start()
	defer sched.Stop()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
