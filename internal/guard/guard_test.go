package guard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/org/notaryadmin/internal/audit"
	"github.com/org/notaryadmin/internal/policy"
	"github.com/org/notaryadmin/internal/ratelimit"
	"github.com/org/notaryadmin/internal/session"
	"github.com/org/notaryadmin/internal/storage"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct{ p *models.Principal }

func (r stubResolver) ResolvePrincipal(context.Context, int64) (*models.Principal, error) {
	if r.p == nil {
		return nil, errors.New("unknown principal")
	}
	return r.p, nil
}

type harness struct {
	guard    *Guard
	sessions *session.Manager
	store    *session.MemoryStore
	backend  *storage.MemoryBackend
}

func newHarness(t *testing.T, cfg Config, resolver session.PrincipalResolver) *harness {
	t.Helper()
	backend := storage.NewMemoryBackend()
	store := session.NewMemoryStore()
	sessions := session.NewManager(store, backend, session.DefaultConfig())
	g := New(sessions, resolver, ratelimit.NewMemoryLimiter(), audit.NewLogger(backend), cfg)
	return &harness{guard: g, sessions: sessions, store: store, backend: backend}
}

func (h *harness) handler(rule Rule) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	return h.sessions.Middleware(h.guard.Protect(rule)(ok))
}

// login returns the session cookie and CSRF token of a fresh session bound to p.
func (h *harness) login(t *testing.T, p *models.Principal) (*http.Cookie, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	s, err := h.sessions.Start(rec, req)
	require.NoError(t, err)
	require.NoError(t, h.sessions.Login(context.Background(), rec, req, s, p))
	return &http.Cookie{Name: "notary_session", Value: s.ID}, s.CSRFToken
}

func (h *harness) lastAudit(t *testing.T) models.AuditEntry {
	t.Helper()
	entries := h.backend.AuditEntries()
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func notaryPrincipal() *models.Principal {
	d := int64(3)
	return &models.Principal{ID: 5, Username: "ahmed", Role: models.RoleNotary, DistrictID: &d, Active: true}
}

func adminPrincipal() *models.Principal {
	return &models.Principal{ID: 1, Username: "root", Role: models.RoleAdministrator, Active: true}
}

func TestUnauthenticatedAPIRequest(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	rec := httptest.NewRecorder()
	h.handler(Rule{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, CodeAuthenticationRequired, env.ErrorCode)
	assert.Equal(t, audit.ActionAccessDenied, h.lastAudit(t).Action)
	assert.Equal(t, audit.Guest, h.lastAudit(t).ActorName)
}

func TestUnauthenticatedBrowserRedirectsAndRemembersURL(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	rec := httptest.NewRecorder()
	h.handler(Rule{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notary/contracts?page=2", nil))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	var sid string
	for _, c := range rec.Result().Cookies() {
		if c.Name == "notary_session" {
			sid = c.Value
		}
	}
	s, err := h.store.Get(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "/notary/contracts?page=2", s.IntendedURL)
	assert.Equal(t, []string{"Please log in to continue."}, s.Flash)
}

func TestRoleMismatch(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	cookie, _ := h.login(t, notaryPrincipal())
	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler(Rule{Roles: []models.Role{models.RoleSupervisor}}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeAccessDenied, decodeEnvelope(t, rec).ErrorCode)
	last := h.lastAudit(t)
	assert.Equal(t, audit.ActionUnauthorizedAccess, last.Action)
	assert.Equal(t, models.SeverityMedium, last.Severity)
	assert.Equal(t, "ahmed", last.ActorName)
}

func TestRoleMismatchBrowserGoesToForbiddenPage(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	cookie, _ := h.login(t, notaryPrincipal())
	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler(Rule{Roles: []models.Role{models.RoleAdministrator}}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/forbidden", rec.Header().Get("Location"))
}

func TestAdministratorBypassesRole(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	cookie, _ := h.login(t, adminPrincipal())
	req := httptest.NewRequest(http.MethodGet, "/supervisor/dashboard", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler(Rule{Roles: []models.Role{models.RoleSupervisor}, Permission: policy.ViewDistrictReports}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	last := h.lastAudit(t)
	assert.Equal(t, audit.ActionAccess, last.Action)
	assert.Equal(t, "GET /supervisor/dashboard", last.Detail)
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	cookie, _ := h.login(t, notaryPrincipal())
	req := httptest.NewRequest(http.MethodGet, "/api/reports/district", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler(Rule{Permission: policy.ViewDistrictReports}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodePermissionDenied, decodeEnvelope(t, rec).ErrorCode)
}

func TestCSRF(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	cookie, token := h.login(t, notaryPrincipal())

	// One character off.
	bad := []byte(token)
	if bad[0] == 'a' {
		bad[0] = 'b'
	} else {
		bad[0] = 'a'
	}
	req := httptest.NewRequest(http.MethodPost, "/api/session/extend", nil)
	req.AddCookie(cookie)
	req.Header.Set(CSRFHeader, string(bad))
	rec := httptest.NewRecorder()
	h.handler(Rule{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeCSRFInvalid, decodeEnvelope(t, rec).ErrorCode)
	last := h.lastAudit(t)
	assert.Equal(t, audit.ActionCSRFViolation, last.Action)
	assert.Equal(t, models.SeverityHigh, last.Severity)

	// Missing token.
	req = httptest.NewRequest(http.MethodPost, "/api/session/extend", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.handler(Rule{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Header token.
	req = httptest.NewRequest(http.MethodPost, "/api/session/extend", nil)
	req.AddCookie(cookie)
	req.Header.Set(CSRFHeader, token)
	rec = httptest.NewRecorder()
	h.handler(Rule{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Form token.
	form := url.Values{CSRFFormField: {token}}
	req = httptest.NewRequest(http.MethodPost, "/profile", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.handler(Rule{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// GET is never checked.
	req = httptest.NewRequest(http.MethodGet, "/api/session/status", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.handler(Rule{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicRouteStillChecksCSRF(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	rec := httptest.NewRecorder()
	h.handler(Rule{Public: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/forbidden", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.handler(Rule{Public: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 2
	h := newHarness(t, cfg, nil)
	cookie, _ := h.login(t, notaryPrincipal())
	handler := h.handler(Rule{RateLimit: true})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/contracts/1", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	req := httptest.NewRequest(http.MethodGet, "/api/contracts/1", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimitExceeded, decodeEnvelope(t, rec).ErrorCode)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, audit.ActionRateLimitExceeded, h.lastAudit(t).Action)

	// Anonymous callers are keyed by address and have their own budget.
	anon := httptest.NewRequest(http.MethodGet, "/password/reset", nil)
	rec = httptest.NewRecorder()
	h.handler(Rule{Public: true, RateLimit: true}).ServeHTTP(rec, anon)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExpiredSessionIsDenied(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	cookie, _ := h.login(t, notaryPrincipal())
	ctx := context.Background()
	s, err := h.store.Get(ctx, cookie.Value)
	require.NoError(t, err)
	s.LastActivity = s.LastActivity.Add(-31 * time.Minute)
	require.NoError(t, h.store.Save(ctx, s, time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/api/session/status", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.handler(Rule{}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, audit.ActionSessionExpired, h.lastAudit(t).Action)
	_, err = h.store.Get(ctx, cookie.Value)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestPublicRouteDropsIdlePrincipal(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	cookie, token := h.login(t, notaryPrincipal())
	ctx := context.Background()
	s, err := h.store.Get(ctx, cookie.Value)
	require.NoError(t, err)
	s.LastActivity = s.LastActivity.Add(-31 * time.Minute)
	require.NoError(t, h.store.Save(ctx, s, time.Hour))
	before := len(h.backend.AuditEntries())

	// The token issued before expiry still proves the form came from us.
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	req.Header.Set(CSRFHeader, token)
	rec := httptest.NewRecorder()
	h.handler(Rule{Public: true, RateLimit: true}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))

	_, err = h.store.Get(ctx, cookie.Value)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	entries := h.backend.AuditEntries()[before:]
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionSessionExpired, entries[0].Action)
	assert.Equal(t, audit.ActionAccess, entries[1].Action)
	assert.Nil(t, entries[1].ActorID, "an expired principal must not act on public routes")
}

func TestRememberMeResumesThroughGuard(t *testing.T) {
	p := notaryPrincipal()
	h := newHarness(t, DefaultConfig(), stubResolver{p: p})
	issue := httptest.NewRecorder()
	require.NoError(t, h.sessions.IssueRemember(context.Background(), issue, httptest.NewRequest(http.MethodPost, "/login", nil), p))

	req := httptest.NewRequest(http.MethodGet, "/notary/dashboard", nil)
	for _, c := range issue.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler(Rule{Roles: []models.Role{models.RoleNotary}}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var actions []string
	for _, e := range h.backend.AuditEntries() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionRememberLogin)
}

func TestClassifyUnknownError(t *testing.T) {
	status, code, msg := Classify(errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternal, code)
	assert.Equal(t, "An error occurred.", msg)

	status, code, _ = Classify(session.ErrSessionExpired)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, CodeAuthenticationRequired, code)
}

func TestIsAPIRequest(t *testing.T) {
	cases := []struct {
		path   string
		header map[string]string
		api    bool
	}{
		{"/api/session/status", nil, true},
		{"/notary/dashboard", nil, false},
		{"/notary/dashboard", map[string]string{"X-Requested-With": "XMLHttpRequest"}, true},
		{"/login", map[string]string{"Accept": "application/json"}, true},
		{"/login", map[string]string{"Accept": "text/html,application/json;q=0.9"}, false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		for k, v := range tc.header {
			req.Header.Set(k, v)
		}
		assert.Equal(t, tc.api, IsAPIRequest(req), "%s %v", tc.path, tc.header)
	}
}
