package guard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/org/notaryadmin/internal/audit"
	"github.com/org/notaryadmin/internal/crypto"
	"github.com/org/notaryadmin/internal/policy"
	"github.com/org/notaryadmin/internal/ratelimit"
	"github.com/org/notaryadmin/internal/session"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

// CSRF token carriers.
const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// Auditor receives access decisions.
type Auditor interface {
	LogActivity(ctx context.Context, actor *models.Principal, action, detail string)
	LogSecurity(ctx context.Context, actor *models.Principal, action, detail string, sev models.Severity)
}

// Rule declares what a route requires.
type Rule struct {
	// Public skips the authentication, role and permission steps.
	Public bool
	// Roles lists the roles allowed through; empty admits any role.
	// Administrators always pass.
	Roles []models.Role
	// Permission, when set, must be held by the principal's role.
	Permission policy.Permission
	// SkipCSRF disables the token check on state-changing methods.
	SkipCSRF bool
	// RateLimit enables the sliding-window limit.
	RateLimit bool
}

// Config holds the guard's limits and browser redirect targets.
type Config struct {
	RateLimit     int
	RateWindow    time.Duration
	LoginPath     string
	ForbiddenPath string
}

// DefaultConfig allows 100 requests per hour.
func DefaultConfig() Config {
	return Config{
		RateLimit:     100,
		RateWindow:    time.Hour,
		LoginPath:     "/login",
		ForbiddenPath: "/forbidden",
	}
}

// Guard is the request-time enforcement point.
type Guard struct {
	sessions *session.Manager
	resolver session.PrincipalResolver
	limiter  ratelimit.Limiter
	audit    Auditor
	cfg      Config
}

// New creates a Guard. Zero config fields fall back to DefaultConfig.
func New(sessions *session.Manager, resolver session.PrincipalResolver, limiter ratelimit.Limiter, auditor Auditor, cfg Config) *Guard {
	def := DefaultConfig()
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = def.LoginPath
	}
	if cfg.ForbiddenPath == "" {
		cfg.ForbiddenPath = def.ForbiddenPath
	}
	return &Guard{sessions: sessions, resolver: resolver, limiter: limiter, audit: auditor, cfg: cfg}
}

// Protect returns middleware enforcing rule. Denied requests never reach next.
func (g *Guard) Protect(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.Evaluate(w, r, rule); err != nil {
				g.Deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Evaluate runs the checks in order: authentication, role, permission,
// CSRF, rate limit. It returns nil on ALLOW and the denial reason
// otherwise. Every outcome is audited.
func (g *Guard) Evaluate(w http.ResponseWriter, r *http.Request, rule Rule) error {
	ctx := r.Context()
	s := session.FromContext(ctx)
	target := r.Method + " " + r.URL.Path
	// Expiry replaces the session in place; the token the client holds is
	// the one issued before that.
	var csrfToken string
	if s != nil {
		csrfToken = s.CSRFToken
	}

	var actor *models.Principal
	if !rule.Public {
		if err := g.authenticate(w, r, s); err != nil {
			if s != nil && r.Method == http.MethodGet && !IsAPIRequest(r) {
				if serr := g.sessions.SetIntendedURL(ctx, s, r.URL.RequestURI()); serr != nil {
					log.Error().Err(serr).Msg("failed to store intended url")
				}
			}
			action := audit.ActionAccessDenied
			if errors.Is(err, session.ErrSessionExpired) {
				action = audit.ActionSessionExpired
			}
			return g.denied(ctx, nil, action, target+": authentication required", models.SeverityLow, err)
		}
		actor = s.Principal()

		if len(rule.Roles) > 0 && !roleAllowed(actor.Role, rule.Roles) {
			return g.denied(ctx, actor, audit.ActionUnauthorizedAccess,
				fmt.Sprintf("%s: role %s not permitted", target, actor.Role), models.SeverityMedium, ErrAccessDenied)
		}
		if rule.Permission != "" && !policy.HasPermission(actor.Role, rule.Permission) {
			return g.denied(ctx, actor, audit.ActionUnauthorizedAccess,
				fmt.Sprintf("%s: missing permission %s", target, rule.Permission), models.SeverityMedium, policy.ErrPermissionDenied)
		}
	} else if g.sessions.Expire(ctx, w, r, s) {
		g.audit.LogActivity(ctx, nil, audit.ActionSessionExpired, target)
	} else if s.HasPrincipal() {
		actor = s.Principal()
	}

	if !rule.SkipCSRF && !isSafeMethod(r.Method) {
		if !validCSRF(r, csrfToken) {
			return g.denied(ctx, actor, audit.ActionCSRFViolation, target, models.SeverityHigh, ErrCSRFInvalid)
		}
	}

	if rule.RateLimit {
		if err := g.rateLimit(w, r, actor); err != nil {
			return g.denied(ctx, actor, audit.ActionRateLimitExceeded, target, models.SeverityMedium, err)
		}
	}

	g.audit.LogActivity(ctx, actor, audit.ActionAccess, target)
	accessDecisions.WithLabelValues("allow", "").Inc()
	return nil
}

// authenticate checks the live session and falls back to the remember-me
// cookie when there is none.
func (g *Guard) authenticate(w http.ResponseWriter, r *http.Request, s *models.Session) error {
	if s == nil {
		return session.ErrAuthenticationRequired
	}
	ctx := r.Context()
	err := g.sessions.Authenticate(ctx, w, r, s)
	if err == nil || s.HasPrincipal() || g.resolver == nil {
		return err
	}
	ok, rerr := g.sessions.Resume(ctx, w, r, s, g.resolver)
	if rerr != nil {
		log.Warn().Err(rerr).Msg("remember-me login refused")
	}
	if !ok {
		return err
	}
	g.audit.LogActivity(ctx, s.Principal(), audit.ActionRememberLogin, "")
	return nil
}

func (g *Guard) rateLimit(w http.ResponseWriter, r *http.Request, actor *models.Principal) error {
	key := "ip:" + ClientIP(r)
	if actor != nil {
		key = "user:" + strconv.FormatInt(actor.ID, 10)
	}
	res, err := g.limiter.Allow(r.Context(), key, g.cfg.RateLimit, g.cfg.RateWindow)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
		return nil
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if res.Allowed {
		return nil
	}
	retry := time.Until(res.ResetAt).Seconds()
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
	return ErrRateLimitExceeded
}

func (g *Guard) denied(ctx context.Context, actor *models.Principal, action, detail string, sev models.Severity, err error) error {
	_, code, _ := Classify(err)
	if sev == models.SeverityLow {
		g.audit.LogActivity(ctx, actor, action, detail)
	} else {
		g.audit.LogSecurity(ctx, actor, action, detail, sev)
	}
	accessDecisions.WithLabelValues("deny", code).Inc()
	return err
}

// Deny renders a denial. API requests get the JSON envelope; browsers are
// redirected with a flash message, to the login page for authentication
// failures and to the forbidden page otherwise.
func (g *Guard) Deny(w http.ResponseWriter, r *http.Request, err error) {
	status, _, msg := Classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	if IsAPIRequest(r) {
		WriteError(w, err)
		return
	}
	if status == http.StatusInternalServerError {
		http.Error(w, msg, status)
		return
	}
	if s := session.FromContext(r.Context()); s != nil {
		if ferr := g.sessions.AddFlash(r.Context(), s, msg); ferr != nil {
			log.Error().Err(ferr).Msg("failed to store flash message")
		}
	}
	dest := g.cfg.ForbiddenPath
	if status == http.StatusUnauthorized {
		dest = g.cfg.LoginPath
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

// IsAPIRequest reports whether r expects a JSON answer rather than a page.
func IsAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// ClientIP returns the request's client address as recorded for auditing,
// falling back to the connection's remote address.
func ClientIP(r *http.Request) string {
	if ip := audit.RequestInfoFrom(r.Context()).ClientIP; ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func roleAllowed(role models.Role, allowed []models.Role) bool {
	if role == models.RoleAdministrator {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func validCSRF(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	token := r.Header.Get(CSRFHeader)
	if token == "" {
		token = r.PostFormValue(CSRFFormField)
	}
	return token != "" && crypto.Equal(token, expected)
}
