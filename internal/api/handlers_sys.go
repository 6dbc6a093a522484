package api

import (
	"context"
	"net/http"
	"time"

	"github.com/org/notaryadmin/internal/policy"
	"github.com/org/notaryadmin/internal/session"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

const healthTimeout = 2 * time.Second

// pinger is a dependency that can report its reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles GET /health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	code := http.StatusOK
	status := map[string]string{}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("health check failed")
			status[name] = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"healthy": code == http.StatusOK,
		"checks":  status,
		"version": "1.0.0",
	})
}

// ForbiddenHandler handles GET /forbidden, the landing page for browser
// requests the guard refused.
func (s *Server) ForbiddenHandler(w http.ResponseWriter, r *http.Request) {
	var flash []string
	if sess := session.FromContext(r.Context()); sess != nil {
		var err error
		if flash, err = s.sessions.TakeFlash(r.Context(), sess); err != nil {
			log.Error().Err(err).Msg("failed to read flash messages")
		}
	}
	writeJSON(w, http.StatusForbidden, map[string]any{
		"success": false,
		"message": "Access denied.",
		"flash":   nonNil(flash),
	})
}

// DashboardHandler serves the role landing pages. The route rule has
// already checked the role.
func (s *Server) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	p := sess.Principal()
	flash, err := s.sessions.TakeFlash(r.Context(), sess)
	if err != nil {
		log.Error().Err(err).Msg("failed to read flash messages")
	}
	perms := policy.PermissionsFor(p.Role)
	if p.Role == models.RoleAdministrator {
		perms = policy.AllPermissions()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":           viewOf(p),
		"permissions":    perms,
		"remaining_time": int(s.sessions.RemainingTime(sess).Seconds()),
		"flash":          nonNil(flash),
	})
}
