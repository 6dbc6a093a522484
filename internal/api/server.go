package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/notaryadmin/internal/audit"
	"github.com/org/notaryadmin/internal/auth"
	"github.com/org/notaryadmin/internal/guard"
	"github.com/org/notaryadmin/internal/notify"
	"github.com/org/notaryadmin/internal/policy"
	"github.com/org/notaryadmin/internal/ratelimit"
	"github.com/org/notaryadmin/internal/session"
	"github.com/org/notaryadmin/internal/storage"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	TrustProxyHeaders bool
	// WarningThreshold is the remaining idle time at which a session is
	// reported as about to expire.
	WarningThreshold time.Duration
	// GlobalRPS and GlobalBurst size the per-IP throttle in front of all
	// routes. A zero rate disables it.
	GlobalRPS   float64
	GlobalBurst int

	Session session.Config
	Auth    auth.Config
	Guard   guard.Config
}

// Deps are the backing services the server is wired onto.
type Deps struct {
	Store    storage.Backend
	Sessions session.Store
	Limiter  ratelimit.Limiter
	Notifier auth.Notifier
}

// Server is the HTTP front end of the authorization core.
type Server struct {
	sessions *session.Manager
	auth     *auth.Service
	policy   *policy.Engine
	guard    *guard.Guard
	auditor  *audit.Logger
	throttle *throttle
	checks   map[string]pinger
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server. Nil session store, limiter and
// notifier fall back to in-process implementations.
func NewServer(deps Deps, cfg Config) *Server {
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewMemoryLimiter()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewConsoleNotifier(os.Stdout)
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 5 * time.Minute
	}
	if def := guard.DefaultConfig(); cfg.Guard.LoginPath == "" {
		cfg.Guard.LoginPath = def.LoginPath
	}
	auditor := audit.NewLogger(deps.Store)
	sessions := session.NewManager(deps.Sessions, deps.Store, cfg.Session)
	authSvc := auth.NewService(deps.Store, sessions, auditor, deps.Notifier, cfg.Auth)
	g := guard.New(sessions, authSvc, deps.Limiter, auditor, cfg.Guard)

	checks := map[string]pinger{}
	if p, ok := deps.Store.(pinger); ok {
		checks["database"] = p
	}
	if p, ok := deps.Sessions.(pinger); ok {
		checks["sessions"] = p
	}

	return &Server{
		sessions: sessions,
		auth:     authSvc,
		policy:   policy.NewEngine(deps.Store),
		guard:    g,
		auditor:  auditor,
		throttle: newThrottle(cfg.GlobalRPS, cfg.GlobalBurst),
		checks:   checks,
		cfg:      cfg,
	}
}

// Auth exposes the credential service (for bootstrap and maintenance).
func (s *Server) Auth() *auth.Service {
	return s.auth
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestIDMiddleware)
	r.Use(securityHeaders)
	r.Use(metricsMiddleware)
	r.Use(s.throttle.middleware)

	// Unauthenticated, sessionless
	r.Handle("/metrics", MetricsHandler())
	r.Get("/health", s.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware)

		public := s.guard.Protect(guard.Rule{Public: true})
		throttled := s.guard.Protect(guard.Rule{Public: true, RateLimit: true})
		authed := s.guard.Protect(guard.Rule{})

		// Login flow
		r.With(public).Get("/login", s.LoginFormHandler)
		r.With(throttled).Post("/login", s.LoginHandler)
		r.With(public).Post("/logout", s.LogoutHandler)
		r.With(public).Get("/forbidden", s.ForbiddenHandler)
		r.With(throttled).Post("/password/reset", s.PasswordResetHandler)

		// Dashboards
		r.With(s.guard.Protect(guard.Rule{Roles: []models.Role{models.RoleAdministrator}})).
			Get("/admin/dashboard", s.DashboardHandler)
		r.With(s.guard.Protect(guard.Rule{Roles: []models.Role{models.RoleSupervisor}})).
			Get("/supervisor/dashboard", s.DashboardHandler)
		r.With(s.guard.Protect(guard.Rule{Roles: []models.Role{models.RoleNotary}})).
			Get("/notary/dashboard", s.DashboardHandler)

		// Session API
		r.With(public).Get("/api/session/status", s.SessionStatusHandler)
		r.With(authed).Post("/api/session/extend", s.SessionExtendHandler)
		r.With(authed).Post("/api/password/change", s.PasswordChangeHandler)

		// Scoped resource lookups
		r.With(authed).Get("/api/{kind}/{id}", s.ResourceHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
