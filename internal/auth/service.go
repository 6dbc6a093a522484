package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/org/notaryadmin/internal/audit"
	"github.com/org/notaryadmin/internal/crypto"
	"github.com/org/notaryadmin/internal/storage"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("account temporarily locked after too many failed login attempts")
	ErrLicenseInactive    = errors.New("notary license is not active")
	ErrLicenseExpired     = errors.New("notary license has expired")
)

const resetPasswordLength = 12

// Store is the persistence the Service needs.
type Store interface {
	storage.PrincipalStore
	storage.LoginAttemptStore
	DeleteRememberTokens(ctx context.Context, principalID int64) error
}

// Sessions binds principals to HTTP sessions.
type Sessions interface {
	Login(ctx context.Context, w http.ResponseWriter, r *http.Request, s *models.Session, p *models.Principal) error
	IssueRemember(ctx context.Context, w http.ResponseWriter, r *http.Request, p *models.Principal) error
}

// Auditor receives authentication events.
type Auditor interface {
	LogActivity(ctx context.Context, actor *models.Principal, action, detail string)
	LogSecurity(ctx context.Context, actor *models.Principal, action, detail string, sev models.Severity)
	LogLogin(ctx context.Context, username string, actor *models.Principal, success bool, reason string)
}

// Notifier delivers generated credentials out of band.
type Notifier interface {
	SendPasswordReset(ctx context.Context, p *models.Principal, password string) error
}

// Config holds the lockout and password policy settings.
type Config struct {
	MaxLoginAttempts  int
	LockoutDuration   time.Duration
	MinPasswordLength int
}

// DefaultConfig returns 5 attempts per 15 minutes and 8 character passwords.
func DefaultConfig() Config {
	return Config{
		MaxLoginAttempts:  5,
		LockoutDuration:   15 * time.Minute,
		MinPasswordLength: 8,
	}
}

// Service verifies credentials and manages passwords.
type Service struct {
	store    Store
	sessions Sessions
	audit    Auditor
	notifier Notifier
	lockout  *Lockout
	policy   PasswordPolicy
	now      func() time.Time
}

// NewService creates a Service. Zero config fields fall back to DefaultConfig.
func NewService(store Store, sessions Sessions, auditor Auditor, notifier Notifier, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = def.MaxLoginAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = def.LockoutDuration
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = def.MinPasswordLength
	}
	return &Service{
		store:    store,
		sessions: sessions,
		audit:    auditor,
		notifier: notifier,
		lockout:  NewLockout(store, cfg.MaxLoginAttempts, cfg.LockoutDuration),
		policy:   PasswordPolicy{MinLength: cfg.MinPasswordLength},
		now:      time.Now,
	}
}

// Lockout returns the failure tracker used by Login.
func (s *Service) Lockout() *Lockout { return s.lockout }

// Login verifies username and password and, on success, binds the principal
// to sess. A locked username is refused before its password is checked.
func (s *Service) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *models.Session, username, password string, remember bool) (*models.Principal, error) {
	now := s.now().UTC()

	until, locked, err := s.lockout.Check(ctx, username, now)
	if err != nil {
		return nil, fmt.Errorf("checking lockout: %w", err)
	}
	if locked {
		s.audit.LogSecurity(ctx, nil, audit.ActionAccountLocked,
			fmt.Sprintf("login refused for %q until %s", username, until.Format(time.RFC3339)), models.SeverityHigh)
		s.audit.LogLogin(ctx, username, nil, false, ErrAccountLocked.Error())
		loginsTotal.WithLabelValues("locked").Inc()
		return nil, ErrAccountLocked
	}

	p, err := s.store.GetActivePrincipalByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		crypto.BurnPasswordCheck(password)
		return nil, s.fail(ctx, username, nil, now)
	} else if err != nil {
		return nil, fmt.Errorf("looking up principal: %w", err)
	}

	if err := crypto.CheckPassword(p.PasswordHash, password); err != nil {
		if errors.Is(err, crypto.ErrMismatchedPassword) {
			return nil, s.fail(ctx, username, p, now)
		}
		return nil, fmt.Errorf("checking password: %w", err)
	}

	if err := s.checkLicense(ctx, p, now); err != nil {
		s.audit.LogLogin(ctx, username, p, false, err.Error())
		loginsTotal.WithLabelValues("license").Inc()
		return nil, err
	}

	if err := s.sessions.Login(ctx, w, r, sess, p); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	if err := s.lockout.Reset(ctx, username); err != nil {
		log.Error().Err(err).Str("username", username).Msg("failed to clear login failures")
	}
	if err := s.store.TouchLastLogin(ctx, p.ID, now); err != nil {
		log.Error().Err(err).Int64("principal_id", p.ID).Msg("failed to update last login")
	}
	s.audit.LogLogin(ctx, username, p, true, "")
	loginsTotal.WithLabelValues("success").Inc()

	if remember {
		if err := s.sessions.IssueRemember(ctx, w, r, p); err != nil {
			log.Error().Err(err).Int64("principal_id", p.ID).Msg("failed to issue remember-me token")
		}
	}
	return p, nil
}

func (s *Service) fail(ctx context.Context, username string, p *models.Principal, now time.Time) error {
	if err := s.lockout.RecordFailure(ctx, username, now); err != nil {
		log.Error().Err(err).Str("username", username).Msg("failed to record login failure")
	}
	s.audit.LogLogin(ctx, username, p, false, ErrInvalidCredentials.Error())
	loginsTotal.WithLabelValues("failure").Inc()
	return ErrInvalidCredentials
}

// checkLicense gates notaries on an active, unexpired license.
func (s *Service) checkLicense(ctx context.Context, p *models.Principal, now time.Time) error {
	if p.Role != models.RoleNotary {
		return nil
	}
	if p.LicenseID == nil {
		return ErrLicenseInactive
	}
	lic, err := s.store.GetLicense(ctx, *p.LicenseID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrLicenseInactive
	} else if err != nil {
		return fmt.Errorf("loading license: %w", err)
	}
	if !lic.IsActive() {
		return ErrLicenseInactive
	}
	if lic.IsExpired(now) {
		return ErrLicenseExpired
	}
	return nil
}

// ResolvePrincipal loads an account for silent re-login, applying the same
// active-account and license rules as Login.
func (s *Service) ResolvePrincipal(ctx context.Context, id int64) (*models.Principal, error) {
	p, err := s.store.GetPrincipal(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, fmt.Errorf("loading principal: %w", err)
	}
	if !p.Active {
		return nil, ErrInvalidCredentials
	}
	if err := s.checkLicense(ctx, p, s.now().UTC()); err != nil {
		return nil, err
	}
	return p, nil
}

// ChangePassword replaces the password of principalID after verifying the
// current one. A weak new password yields a *PolicyError.
func (s *Service) ChangePassword(ctx context.Context, principalID int64, current, next string) error {
	p, err := s.store.GetPrincipal(ctx, principalID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrInvalidCredentials
	} else if err != nil {
		return fmt.Errorf("loading principal: %w", err)
	}
	if err := crypto.CheckPassword(p.PasswordHash, current); err != nil {
		if errors.Is(err, crypto.ErrMismatchedPassword) {
			s.audit.LogSecurity(ctx, p, audit.ActionPasswordChanged, "rejected: current password incorrect", models.SeverityMedium)
			return fmt.Errorf("current password: %w", ErrInvalidCredentials)
		}
		return fmt.Errorf("checking password: %w", err)
	}
	if err := s.policy.Validate(next); err != nil {
		return err
	}
	hash, err := crypto.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	s.audit.LogActivity(ctx, p, audit.ActionPasswordChanged, "")
	return nil
}

// ResetPassword assigns a random password to the active account registered
// under email and hands it to the Notifier. Unknown addresses succeed
// silently so callers cannot probe for accounts.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	p, err := s.store.GetActivePrincipalByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		s.audit.LogSecurity(ctx, nil, audit.ActionPasswordReset, "no active account for submitted email", models.SeverityLow)
		return nil
	} else if err != nil {
		return fmt.Errorf("looking up principal: %w", err)
	}

	password, err := crypto.RandomPassword(resetPasswordLength)
	if err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, p.ID, hash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if err := s.store.DeleteRememberTokens(ctx, p.ID); err != nil {
		log.Error().Err(err).Int64("principal_id", p.ID).Msg("failed to revoke remember tokens")
	}
	if err := s.notifier.SendPasswordReset(ctx, p, password); err != nil {
		return fmt.Errorf("delivering new password: %w", err)
	}
	s.audit.LogSecurity(ctx, p, audit.ActionPasswordReset, "new password issued", models.SeverityMedium)
	return nil
}

// BootstrapAdmin creates an administrator account unless the username is
// already taken. It reports whether an account was created.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password, email, fullName string) (bool, error) {
	if err := s.policy.Validate(password); err != nil {
		return false, fmt.Errorf("bootstrap admin password: %w", err)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return false, err
	}
	p := &models.Principal{
		Username:     username,
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         models.RoleAdministrator,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("creating admin: %w", err)
	}
	return true, nil
}
