package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/notaryadmin/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// Ping checks that the database is reachable.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// --- Principals ---

const principalColumns = `id, username, email, full_name, password_hash, role, district_id, license_id, active, last_login_at, created_at`

func (p *PostgresBackend) CreatePrincipal(ctx context.Context, pr *models.Principal) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, full_name, password_hash, role, district_id, license_id, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		pr.Username, pr.Email, pr.FullName, pr.PasswordHash, pr.Role.String(),
		pr.DistrictID, pr.LicenseID, pr.Active,
	).Scan(&pr.ID, &pr.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetPrincipal(ctx context.Context, id int64) (*models.Principal, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM users WHERE id = $1`, id)
	return scanPrincipal(row)
}

func (p *PostgresBackend) GetActivePrincipalByUsername(ctx context.Context, username string) (*models.Principal, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM users WHERE username = $1 AND active = TRUE`, username)
	return scanPrincipal(row)
}

func (p *PostgresBackend) GetActivePrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+principalColumns+` FROM users WHERE lower(email) = lower($1) AND active = TRUE`, email)
	return scanPrincipal(row)
}

func scanPrincipal(row pgx.Row) (*models.Principal, error) {
	var pr models.Principal
	var role string
	err := row.Scan(&pr.ID, &pr.Username, &pr.Email, &pr.FullName, &pr.PasswordHash, &role,
		&pr.DistrictID, &pr.LicenseID, &pr.Active, &pr.LastLoginAt, &pr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if pr.Role, err = models.ParseRole(role); err != nil {
		return nil, fmt.Errorf("user %d: %w", pr.ID, err)
	}
	return &pr, nil
}

func (p *PostgresBackend) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id)
	return err
}

func (p *PostgresBackend) GetLicense(ctx context.Context, id int64) (*models.License, error) {
	var l models.License
	err := p.pool.QueryRow(ctx,
		`SELECT id, license_number, status, expiry_date FROM licenses WHERE id = $1`, id,
	).Scan(&l.ID, &l.Number, &l.Status, &l.ExpiryDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// --- Remember-me ---

func (p *PostgresBackend) SaveRememberToken(ctx context.Context, t *models.RememberToken) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO remember_tokens (token_hash, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		t.TokenHash, t.PrincipalID, t.ExpiresAt, t.CreatedAt,
	)
	return err
}

func (p *PostgresBackend) ConsumeRememberToken(ctx context.Context, tokenHash string, now time.Time) (*models.RememberToken, error) {
	var t models.RememberToken
	err := p.pool.QueryRow(ctx,
		`DELETE FROM remember_tokens WHERE token_hash = $1
		 RETURNING token_hash, user_id, expires_at, created_at`,
		tokenHash,
	).Scan(&t.TokenHash, &t.PrincipalID, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if now.After(t.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (p *PostgresBackend) DeleteRememberTokens(ctx context.Context, principalID int64) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM remember_tokens WHERE user_id = $1`, principalID)
	return err
}

func (p *PostgresBackend) DeleteExpiredRememberTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM remember_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Login attempts ---

func (p *PostgresBackend) RecordLoginFailure(ctx context.Context, username string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO login_attempts (username, attempted_at) VALUES ($1, $2)`,
		strings.ToLower(username), at,
	)
	return err
}

func (p *PostgresBackend) ListLoginFailures(ctx context.Context, username string, since time.Time) ([]time.Time, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT attempted_at FROM login_attempts
		 WHERE username = $1 AND attempted_at >= $2
		 ORDER BY attempted_at`,
		strings.ToLower(username), since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

func (p *PostgresBackend) ClearLoginFailures(ctx context.Context, username string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM login_attempts WHERE username = $1`, strings.ToLower(username))
	return err
}

func (p *PostgresBackend) PruneLoginFailures(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM login_attempts WHERE attempted_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Ownership facts ---

func (p *PostgresBackend) GetUserScope(ctx context.Context, id int64) (*models.UserScope, error) {
	var s models.UserScope
	var role string
	err := p.pool.QueryRow(ctx,
		`SELECT id, role, district_id FROM users WHERE id = $1`, id,
	).Scan(&s.ID, &role, &s.DistrictID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if s.Role, err = models.ParseRole(role); err != nil {
		return nil, fmt.Errorf("user %d: %w", id, err)
	}
	return &s, nil
}

func (p *PostgresBackend) GetContractScope(ctx context.Context, id int64) (*models.RecordScope, error) {
	return p.recordScope(ctx, `SELECT id, notary_id, district_id FROM contracts WHERE id = $1`, id)
}

func (p *PostgresBackend) GetTransactionScope(ctx context.Context, id int64) (*models.RecordScope, error) {
	return p.recordScope(ctx, `SELECT id, notary_id, district_id FROM transactions WHERE id = $1`, id)
}

func (p *PostgresBackend) recordScope(ctx context.Context, query string, id int64) (*models.RecordScope, error) {
	var s models.RecordScope
	if err := p.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.NotaryID, &s.DistrictID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PostgresBackend) DistrictExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM districts WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	return p.pool.QueryRow(ctx,
		`INSERT INTO audit_log (request_id, timestamp, actor_id, actor_name, action, detail, severity, path, client_ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		e.RequestID, e.Timestamp, e.ActorID, e.ActorName, e.Action, e.Detail,
		string(e.Severity), e.Path, e.ClientIP, e.UserAgent,
	).Scan(&e.ID)
}
