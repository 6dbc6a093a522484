package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/org/notaryadmin/internal/crypto"
	"github.com/org/notaryadmin/internal/storage"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

var (
	// ErrAuthenticationRequired means no principal is bound to the session.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrSessionExpired means the session sat idle past the timeout and was destroyed.
	ErrSessionExpired = errors.New("session expired")
)

// Config controls cookie names and session lifetimes.
type Config struct {
	CookieName         string
	RememberCookieName string
	Timeout            time.Duration
	RotateInterval     time.Duration
	RotateGrace        time.Duration
	RememberTTL        time.Duration
	SecureCookies      bool
}

// DefaultConfig returns the standard session settings: a 30 minute sliding
// timeout, rotation every 30 minutes with a 30 second grace for requests
// still carrying the old ID, and 30 day remember-me cookies.
func DefaultConfig() Config {
	return Config{
		CookieName:         "notary_session",
		RememberCookieName: "notary_remember",
		Timeout:            30 * time.Minute,
		RotateInterval:     30 * time.Minute,
		RotateGrace:        30 * time.Second,
		RememberTTL:        30 * 24 * time.Hour,
	}
}

// PrincipalResolver loads a principal for silent re-login and rejects
// principals that may no longer sign in.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, id int64) (*models.Principal, error)
}

// Manager owns the session lifecycle.
type Manager struct {
	store    Store
	remember storage.RememberStore
	cfg      Config
	now      func() time.Time
}

// NewManager creates a Manager. Zero config fields fall back to DefaultConfig.
func NewManager(store Store, remember storage.RememberStore, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.CookieName == "" {
		cfg.CookieName = def.CookieName
	}
	if cfg.RememberCookieName == "" {
		cfg.RememberCookieName = def.RememberCookieName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RotateInterval <= 0 {
		cfg.RotateInterval = def.RotateInterval
	}
	if cfg.RotateGrace <= 0 {
		cfg.RotateGrace = def.RotateGrace
	}
	if cfg.RememberTTL <= 0 {
		cfg.RememberTTL = def.RememberTTL
	}
	return &Manager{store: store, remember: remember, cfg: cfg, now: time.Now}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Middleware starts (or resumes) the session for every request and puts it
// in the request context. Storage failures leave the context without a
// session, which downstream checks treat as unauthenticated.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Start(w, r)
		if err != nil {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("session start failed")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

// Start returns the request's session, creating an anonymous one with a
// CSRF token if none exists. Calling it again for the same request is a no-op.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request) (*models.Session, error) {
	ctx := r.Context()
	if s := FromContext(ctx); s != nil {
		return s, nil
	}
	if c, err := r.Cookie(m.cfg.CookieName); err == nil && c.Value != "" {
		s, err := m.load(ctx, w, r, c.Value)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("loading session: %w", err)
		}
	}

	s, err := m.newSession()
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.setSessionCookie(w, r, s.ID)
	sessionsCreated.Inc()
	return s, nil
}

// maxSuccessorHops bounds how far load follows rotated records.
const maxSuccessorHops = 3

// load fetches the session for id. A record left behind by a rotation is
// followed to its successor and the cookie is moved along with it.
func (m *Manager) load(ctx context.Context, w http.ResponseWriter, r *http.Request, id string) (*models.Session, error) {
	s, err := m.store.Get(ctx, id)
	for hops := 0; err == nil && s.SuccessorID != ""; hops++ {
		if hops == maxSuccessorHops {
			return nil, ErrSessionNotFound
		}
		s, err = m.store.Get(ctx, s.SuccessorID)
	}
	if err != nil {
		return nil, err
	}
	if s.ID != id {
		m.setSessionCookie(w, r, s.ID)
	}
	return s, nil
}

func (m *Manager) newSession() (*models.Session, error) {
	id, err := crypto.RandomToken()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	csrf, err := crypto.RandomToken()
	if err != nil {
		return nil, fmt.Errorf("generating csrf token: %w", err)
	}
	now := m.now().UTC()
	return &models.Session{
		ID:           id,
		CSRFToken:    csrf,
		CreatedAt:    now,
		LastActivity: now,
		RotatedAt:    now,
	}, nil
}

// Login binds p to s. The session ID is replaced and the old record deleted,
// and a fresh CSRF token is issued.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session, p *models.Principal) error {
	csrf, err := crypto.RandomToken()
	if err != nil {
		return fmt.Errorf("generating csrf token: %w", err)
	}
	now := m.now().UTC()
	s.PrincipalID = p.ID
	s.Username = p.Username
	s.DisplayName = p.DisplayName()
	s.Role = p.Role
	s.DistrictID = nil
	if p.DistrictID != nil {
		d := *p.DistrictID
		s.DistrictID = &d
	}
	s.CSRFToken = csrf
	s.LoginTime = now
	s.LastActivity = now
	return m.rotate(ctx, w, r, s, now, false)
}

// Authenticate checks that s carries a principal and has not been idle past
// the timeout. An expired session is destroyed and replaced in place by a
// fresh anonymous one. A live session has its last activity refreshed and
// its ID rotated once the rotation interval has passed.
func (m *Manager) Authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session) error {
	if !s.HasPrincipal() {
		return ErrAuthenticationRequired
	}
	if m.Expire(ctx, w, r, s) {
		return ErrSessionExpired
	}

	now := m.now().UTC()
	s.LastActivity = now
	if now.Sub(s.RotatedAt) >= m.cfg.RotateInterval {
		if err := m.rotate(ctx, w, r, s, now, true); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthenticationRequired, err)
		}
		return nil
	}
	if err := m.save(ctx, s); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationRequired, err)
	}
	return nil
}

// Expire destroys s if it carries a principal and has been idle past the
// timeout, replacing it in place with a fresh anonymous session. It reports
// whether that happened. A live session is left untouched; checking it
// does not count as activity.
func (m *Manager) Expire(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session) bool {
	if !s.HasPrincipal() || m.now().UTC().Sub(s.LastActivity) <= m.cfg.Timeout {
		return false
	}
	if err := m.replace(ctx, w, r, s); err != nil {
		log.Error().Err(err).Msg("failed to replace expired session")
	}
	return true
}

// IsAuthenticated reports whether Authenticate succeeds.
func (m *Manager) IsAuthenticated(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session) bool {
	return m.Authenticate(ctx, w, r, s) == nil
}

// Logout destroys s and its remember-me tokens and expires both cookies. It
// always succeeds.
func (m *Manager) Logout(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session) error {
	if s != nil {
		if s.HasPrincipal() && m.remember != nil {
			if err := m.remember.DeleteRememberTokens(ctx, s.PrincipalID); err != nil {
				log.Error().Err(err).Int64("principal_id", s.PrincipalID).Msg("failed to delete remember tokens")
			}
		}
		if s.ID != "" {
			if err := m.store.Delete(ctx, s.ID); err != nil {
				log.Error().Err(err).Msg("failed to delete session")
			}
		}
		*s = models.Session{}
	}
	m.expireCookie(w, r, m.cfg.CookieName)
	m.expireCookie(w, r, m.cfg.RememberCookieName)
	return nil
}

// Extend refreshes the last activity of an authenticated session.
func (m *Manager) Extend(ctx context.Context, s *models.Session) error {
	if !s.HasPrincipal() {
		return ErrAuthenticationRequired
	}
	s.LastActivity = m.now().UTC()
	return m.save(ctx, s)
}

// RemainingTime returns how long s may stay idle before it expires.
func (m *Manager) RemainingTime(s *models.Session) time.Duration {
	if !s.HasPrincipal() {
		return 0
	}
	left := m.cfg.Timeout - m.now().Sub(s.LastActivity)
	if left < 0 {
		return 0
	}
	return left
}

// IsAboutToExpire reports whether an authenticated session has at most
// threshold left before it expires.
func (m *Manager) IsAboutToExpire(s *models.Session, threshold time.Duration) bool {
	return s.HasPrincipal() && m.RemainingTime(s) <= threshold
}

// IssueRemember creates a remember-me token for p, storing its hash and
// setting the long-lived cookie.
func (m *Manager) IssueRemember(ctx context.Context, w http.ResponseWriter, r *http.Request, p *models.Principal) error {
	token, err := crypto.RandomToken()
	if err != nil {
		return fmt.Errorf("generating remember token: %w", err)
	}
	now := m.now().UTC()
	rt := &models.RememberToken{
		PrincipalID: p.ID,
		TokenHash:   crypto.HashToken(token),
		ExpiresAt:   now.Add(m.cfg.RememberTTL),
		CreatedAt:   now,
	}
	if err := m.remember.SaveRememberToken(ctx, rt); err != nil {
		return fmt.Errorf("saving remember token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.RememberCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.cfg.RememberTTL / time.Second),
		Expires:  rt.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Resume performs a silent re-login from the remember-me cookie. A matching
// token is consumed, s is logged in and a new token is issued. A missing or
// unknown token clears the cookie and returns false.
func (m *Manager) Resume(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session, resolver PrincipalResolver) (bool, error) {
	c, err := r.Cookie(m.cfg.RememberCookieName)
	if err != nil || c.Value == "" {
		return false, nil
	}
	rt, err := m.remember.ConsumeRememberToken(ctx, crypto.HashToken(c.Value), m.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		m.expireCookie(w, r, m.cfg.RememberCookieName)
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("consuming remember token: %w", err)
	}

	p, err := resolver.ResolvePrincipal(ctx, rt.PrincipalID)
	if err != nil {
		m.expireCookie(w, r, m.cfg.RememberCookieName)
		return false, err
	}
	if err := m.Login(ctx, w, r, s, p); err != nil {
		return false, err
	}
	if err := m.IssueRemember(ctx, w, r, p); err != nil {
		return true, err
	}
	return true, nil
}

// AddFlash queues a one-shot message on s.
func (m *Manager) AddFlash(ctx context.Context, s *models.Session, msg string) error {
	s.Flash = append(s.Flash, msg)
	return m.save(ctx, s)
}

// TakeFlash returns and clears the queued messages.
func (m *Manager) TakeFlash(ctx context.Context, s *models.Session) ([]string, error) {
	msgs := s.Flash
	if len(msgs) == 0 {
		return nil, nil
	}
	s.Flash = nil
	return msgs, m.save(ctx, s)
}

// SetIntendedURL records where to send the principal after login.
func (m *Manager) SetIntendedURL(ctx context.Context, s *models.Session, url string) error {
	s.IntendedURL = url
	return m.save(ctx, s)
}

// TakeIntendedURL returns and clears the recorded post-login URL.
func (m *Manager) TakeIntendedURL(ctx context.Context, s *models.Session) (string, error) {
	url := s.IntendedURL
	if url == "" {
		return "", nil
	}
	s.IntendedURL = ""
	return url, m.save(ctx, s)
}

// rotate moves s to a new ID. On a privilege change the old record is
// deleted; otherwise it is kept for the grace period as a pointer to the new
// ID so concurrent requests on the old cookie land in the same session.
func (m *Manager) rotate(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session, now time.Time, keepOld bool) error {
	id, err := crypto.RandomToken()
	if err != nil {
		return fmt.Errorf("generating session id: %w", err)
	}
	oldID := s.ID
	s.ID = id
	s.RotatedAt = now
	if err := m.save(ctx, s); err != nil {
		return err
	}
	if oldID != "" && keepOld {
		stub := &models.Session{ID: oldID, SuccessorID: s.ID, CreatedAt: s.CreatedAt, RotatedAt: now}
		if err := m.store.Save(ctx, stub, m.cfg.RotateGrace); err != nil {
			log.Warn().Err(err).Msg("failed to keep rotated session")
		}
	} else if oldID != "" {
		if err := m.store.Delete(ctx, oldID); err != nil {
			log.Warn().Err(err).Msg("failed to delete rotated session")
		}
	}
	m.setSessionCookie(w, r, s.ID)
	return nil
}

// replace destroys s and overwrites it with a fresh anonymous session.
func (m *Manager) replace(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session) error {
	if s.ID != "" {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			log.Warn().Err(err).Msg("failed to delete expired session")
		}
	}
	fresh, err := m.newSession()
	if err != nil {
		*s = models.Session{}
		m.expireCookie(w, r, m.cfg.CookieName)
		return err
	}
	*s = *fresh
	if err := m.save(ctx, s); err != nil {
		return err
	}
	m.setSessionCookie(w, r, s.ID)
	return nil
}

// Records outlive the idle timeout so an expired session is still found
// and explicitly destroyed on its next touch.
func (m *Manager) save(ctx context.Context, s *models.Session) error {
	if err := m.store.Save(ctx, s, 2*m.cfg.Timeout); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (m *Manager) secure(r *http.Request) bool {
	return m.cfg.SecureCookies || r.TLS != nil
}

func (m *Manager) setSessionCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) expireCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure(r),
		SameSite: http.SameSiteLaxMode,
	})
}
