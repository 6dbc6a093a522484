package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/org/notaryadmin/pkg/models"
)

// MemoryBackend is a Backend held entirely in process memory. It backs
// development mode and tests.
type MemoryBackend struct {
	mu           sync.RWMutex
	nextID       int64
	principals   map[int64]*models.Principal
	licenses     map[int64]*models.License
	districts    map[int64]bool
	contracts    map[int64]*models.RecordScope
	transactions map[int64]*models.RecordScope
	remember     map[string]*models.RememberToken
	failures     map[string][]time.Time
	audit        []*models.AuditEntry
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		principals:   map[int64]*models.Principal{},
		licenses:     map[int64]*models.License{},
		districts:    map[int64]bool{},
		contracts:    map[int64]*models.RecordScope{},
		transactions: map[int64]*models.RecordScope{},
		remember:     map[string]*models.RememberToken{},
		failures:     map[string][]time.Time{},
	}
}

func (m *MemoryBackend) Close() {}

// --- Seeding ---

// PutLicense stores or replaces a license.
func (m *MemoryBackend) PutLicense(l *models.License) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.licenses[l.ID] = &cp
}

// PutDistrict registers a district id.
func (m *MemoryBackend) PutDistrict(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.districts[id] = true
}

// PutContract stores the ownership facts of a contract.
func (m *MemoryBackend) PutContract(s models.RecordScope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[s.ID] = &s
}

// PutTransaction stores the ownership facts of a transaction.
func (m *MemoryBackend) PutTransaction(s models.RecordScope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[s.ID] = &s
}

// SetActive enables or disables an account.
func (m *MemoryBackend) SetActive(id int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.principals[id]; ok {
		p.Active = active
	}
}

// AuditEntries returns a copy of every audit entry written so far.
func (m *MemoryBackend) AuditEntries() []models.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditEntry, len(m.audit))
	for i, e := range m.audit {
		out[i] = *e
	}
	return out
}

// --- Principals ---

func (m *MemoryBackend) CreatePrincipal(_ context.Context, p *models.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if strings.EqualFold(existing.Username, p.Username) {
			return ErrAlreadyExists
		}
	}
	if p.ID == 0 {
		m.nextID++
		p.ID = m.nextID
	} else if p.ID > m.nextID {
		m.nextID = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *MemoryBackend) GetPrincipal(_ context.Context, id int64) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.principals[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) GetActivePrincipalByUsername(_ context.Context, username string) (*models.Principal, error) {
	return m.findActive(func(p *models.Principal) bool { return p.Username == username })
}

func (m *MemoryBackend) GetActivePrincipalByEmail(_ context.Context, email string) (*models.Principal, error) {
	return m.findActive(func(p *models.Principal) bool { return strings.EqualFold(p.Email, email) })
}

func (m *MemoryBackend) findActive(match func(*models.Principal) bool) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if p.Active && match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func (m *MemoryBackend) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.principals[id]; ok {
		p.LastLoginAt = &at
	}
	return nil
}

func (m *MemoryBackend) GetLicense(_ context.Context, id int64) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.licenses[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, ErrNotFound
}

// --- Remember-me ---

func (m *MemoryBackend) SaveRememberToken(_ context.Context, t *models.RememberToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.remember[t.TokenHash] = &cp
	return nil
}

func (m *MemoryBackend) ConsumeRememberToken(_ context.Context, tokenHash string, now time.Time) (*models.RememberToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.remember[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.remember, tokenHash)
	if now.After(t.ExpiresAt) {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryBackend) DeleteRememberTokens(_ context.Context, principalID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, t := range m.remember {
		if t.PrincipalID == principalID {
			delete(m.remember, h)
		}
	}
	return nil
}

func (m *MemoryBackend) DeleteExpiredRememberTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.remember {
		if now.After(t.ExpiresAt) {
			delete(m.remember, h)
			n++
		}
	}
	return n, nil
}

// --- Login attempts ---

func (m *MemoryBackend) RecordLoginFailure(_ context.Context, username string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(username)
	m.failures[key] = append(m.failures[key], at)
	return nil
}

func (m *MemoryBackend) ListLoginFailures(_ context.Context, username string, since time.Time) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []time.Time
	for _, at := range m.failures[strings.ToLower(username)] {
		if !at.Before(since) {
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *MemoryBackend) ClearLoginFailures(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, strings.ToLower(username))
	return nil
}

func (m *MemoryBackend) PruneLoginFailures(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, list := range m.failures {
		kept := list[:0]
		for _, at := range list {
			if at.Before(before) {
				n++
				continue
			}
			kept = append(kept, at)
		}
		if len(kept) == 0 {
			delete(m.failures, key)
		} else {
			m.failures[key] = kept
		}
	}
	return n, nil
}

// --- Ownership facts ---

func (m *MemoryBackend) GetUserScope(_ context.Context, id int64) (*models.UserScope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &models.UserScope{ID: p.ID, Role: p.Role, DistrictID: p.DistrictID}, nil
}

func (m *MemoryBackend) GetContractScope(_ context.Context, id int64) (*models.RecordScope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.contracts[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) GetTransactionScope(_ context.Context, id int64) (*models.RecordScope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.transactions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) DistrictExists(_ context.Context, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.districts[id], nil
}

// --- Audit ---

func (m *MemoryBackend) WriteAuditEntry(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.audit) + 1)
	cp := *e
	m.audit = append(m.audit, &cp)
	return nil
}
