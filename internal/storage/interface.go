package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/notaryadmin/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// Backend defines the persistence interface for the authorization core.
type Backend interface {
	PrincipalStore
	RememberStore
	LoginAttemptStore
	ScopeStore

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error

	// Lifecycle
	Close()
}

// PrincipalStore reads and updates accounts and their licenses.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *models.Principal) error
	GetPrincipal(ctx context.Context, id int64) (*models.Principal, error)
	// GetActivePrincipalByUsername ignores disabled accounts.
	GetActivePrincipalByUsername(ctx context.Context, username string) (*models.Principal, error)
	GetActivePrincipalByEmail(ctx context.Context, email string) (*models.Principal, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	GetLicense(ctx context.Context, id int64) (*models.License, error)
}

// RememberStore persists hashed remember-me tokens.
type RememberStore interface {
	SaveRememberToken(ctx context.Context, token *models.RememberToken) error
	// ConsumeRememberToken deletes the token and returns it. Expired tokens
	// are deleted and reported as ErrNotFound.
	ConsumeRememberToken(ctx context.Context, tokenHash string, now time.Time) (*models.RememberToken, error)
	DeleteRememberTokens(ctx context.Context, principalID int64) error
	DeleteExpiredRememberTokens(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttemptStore keeps timestamped login failures per username.
type LoginAttemptStore interface {
	RecordLoginFailure(ctx context.Context, username string, at time.Time) error
	// ListLoginFailures returns failures at or after since, oldest first.
	ListLoginFailures(ctx context.Context, username string, since time.Time) ([]time.Time, error)
	ClearLoginFailures(ctx context.Context, username string) error
	PruneLoginFailures(ctx context.Context, before time.Time) (int64, error)
}

// ScopeStore resolves the ownership facts used for resource-scoped access.
type ScopeStore interface {
	GetUserScope(ctx context.Context, id int64) (*models.UserScope, error)
	GetContractScope(ctx context.Context, id int64) (*models.RecordScope, error)
	GetTransactionScope(ctx context.Context, id int64) (*models.RecordScope, error)
	DistrictExists(ctx context.Context, id int64) (bool, error)
}
