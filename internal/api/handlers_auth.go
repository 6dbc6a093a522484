package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/org/notaryadmin/internal/audit"
	"github.com/org/notaryadmin/internal/auth"
	"github.com/org/notaryadmin/internal/guard"
	"github.com/org/notaryadmin/internal/session"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

// dashboards maps each role onto its landing page after login.
var dashboards = map[models.Role]string{
	models.RoleAdministrator: "/admin/dashboard",
	models.RoleSupervisor:    "/supervisor/dashboard",
	models.RoleNotary:        "/notary/dashboard",
}

func dashboardFor(role models.Role) string {
	if path, ok := dashboards[role]; ok {
		return path
	}
	return "/login"
}

type userView struct {
	ID         int64       `json:"id"`
	Username   string      `json:"username"`
	FullName   string      `json:"full_name"`
	Role       models.Role `json:"role"`
	DistrictID *int64      `json:"district_id,omitempty"`
}

func viewOf(p *models.Principal) *userView {
	if p == nil {
		return nil
	}
	return &userView{
		ID:         p.ID,
		Username:   p.Username,
		FullName:   p.DisplayName(),
		Role:       p.Role,
		DistrictID: p.DistrictID,
	}
}

// LoginFormHandler handles GET /login. It hands out the CSRF token the
// login form must echo back and any pending flash messages.
func (s *Server) LoginFormHandler(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		guard.WriteError(w, session.ErrAuthenticationRequired)
		return
	}
	flash, err := s.sessions.TakeFlash(r.Context(), sess)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestIDFromCtx(r.Context())).Msg("failed to read flash messages")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": sess.CSRFToken,
		"flash":      nonNil(flash),
		"logged_in":  sess.HasPrincipal(),
	})
}

// LoginHandler handles POST /login.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	if sess == nil {
		guard.WriteError(w, session.ErrAuthenticationRequired)
		return
	}

	fields, err := readFields(w, r)
	if err != nil {
		badRequest(w, "invalid request body")
		return
	}
	username := strings.TrimSpace(fields.Get("username"))
	password := fields.Get("password")
	if username == "" || password == "" {
		badRequest(w, "Username and password are required.")
		return
	}

	remember := fields.Get("remember_me")
	if remember == "" {
		remember = fields.Get("remember")
	}
	p, err := s.auth.Login(ctx, w, r, sess, username, password, truthy(remember))
	if err != nil {
		if status, _, _ := guard.Classify(err); status == http.StatusInternalServerError {
			log.Error().Err(err).Str("request_id", requestIDFromCtx(ctx)).Msg("login failed")
		}
		guard.WriteError(w, err)
		return
	}

	redirect, err := s.sessions.TakeIntendedURL(ctx, sess)
	if err != nil {
		log.Error().Err(err).Msg("failed to read intended url")
	}
	if redirect == "" || !strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//") {
		redirect = dashboardFor(p.Role)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Login successful.",
		"user":       viewOf(p),
		"redirect":   redirect,
		"csrf_token": sess.CSRFToken,
	})
}

// LogoutHandler handles POST /logout. It always succeeds.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	if p := sess.Principal(); p != nil {
		s.auditor.LogActivity(ctx, p, audit.ActionLogout, "")
	}
	if err := s.sessions.Logout(ctx, w, r, sess); err != nil {
		log.Error().Err(err).Msg("logout failed")
	}
	if !guard.IsAPIRequest(r) {
		http.Redirect(w, r, s.cfg.Guard.LoginPath, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "You have been logged out.",
		"redirect": s.cfg.Guard.LoginPath,
	})
}

// PasswordChangeHandler handles POST /api/password/change.
func (s *Server) PasswordChangeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := principalFromCtx(ctx)

	fields, err := readFields(w, r)
	if err != nil {
		badRequest(w, "invalid request body")
		return
	}
	current := fields.Get("current_password")
	next := fields.Get("new_password")
	if current == "" || next == "" {
		badRequest(w, "Current and new password are required.")
		return
	}
	if confirm, ok := fields["confirm_password"]; ok && (len(confirm) == 0 || confirm[0] != next) {
		badRequest(w, "New passwords do not match.")
		return
	}

	if err := s.auth.ChangePassword(ctx, p.ID, current, next); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			badRequest(w, "Current password is incorrect.")
			return
		}
		if status, _, _ := guard.Classify(err); status == http.StatusInternalServerError {
			log.Error().Err(err).Int64("principal_id", p.ID).Msg("password change failed")
		}
		guard.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password changed successfully.",
	})
}

// PasswordResetHandler handles POST /password/reset. The answer is the same
// whether or not the email belongs to an account.
func (s *Server) PasswordResetHandler(w http.ResponseWriter, r *http.Request) {
	fields, err := readFields(w, r)
	if err != nil {
		badRequest(w, "invalid request body")
		return
	}
	email := strings.TrimSpace(fields.Get("email"))
	if email == "" || !strings.Contains(email, "@") {
		badRequest(w, "A valid email address is required.")
		return
	}
	if err := s.auth.ResetPassword(r.Context(), email); err != nil {
		log.Error().Err(err).Str("request_id", requestIDFromCtx(r.Context())).Msg("password reset failed")
		guard.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If the address belongs to an account, a new password has been sent to it.",
	})
}

func nonNil(msgs []string) []string {
	if msgs == nil {
		return []string{}
	}
	return msgs
}
