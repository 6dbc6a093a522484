package api

import (
	"net/http"

	"github.com/org/notaryadmin/internal/audit"
	"github.com/org/notaryadmin/internal/guard"
	"github.com/org/notaryadmin/internal/session"
	"github.com/rs/zerolog/log"
)

// SessionStatusHandler handles GET /api/session/status. Polling it does
// not count as activity.
func (s *Server) SessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	remaining := s.sessions.RemainingTime(sess)
	loggedIn := sess.HasPrincipal() && remaining > 0

	resp := map[string]any{
		"logged_in":       loggedIn,
		"remaining_time":  int(remaining.Seconds()),
		"about_to_expire": loggedIn && s.sessions.IsAboutToExpire(sess, s.cfg.WarningThreshold),
		"user":            nil,
	}
	if loggedIn {
		resp["user"] = viewOf(sess.Principal())
	}
	writeJSON(w, http.StatusOK, resp)
}

// SessionExtendHandler handles POST /api/session/extend.
func (s *Server) SessionExtendHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	if err := s.sessions.Extend(ctx, sess); err != nil {
		log.Error().Err(err).Msg("extending session failed")
		guard.WriteError(w, err)
		return
	}
	s.auditor.LogActivity(ctx, sess.Principal(), audit.ActionSessionExtended, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Session extended.",
		"remaining_time": int(s.sessions.RemainingTime(sess).Seconds()),
	})
}
