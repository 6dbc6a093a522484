package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/org/notaryadmin/pkg/models"
)

// ErrSessionNotFound is returned by a Store when no record exists for an ID.
var ErrSessionNotFound = errors.New("session not found")

// Store is server-side session storage keyed by session ID. The last write
// for an ID wins.
type Store interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	session   *models.Session
	expiresAt time.Time
}

// MemoryStore is a single-node Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || (!e.expiresAt.IsZero() && m.now().After(e.expiresAt)) {
		return nil, ErrSessionNotFound
	}
	return clone(e.session), nil
}

func (m *MemoryStore) Save(_ context.Context, s *models.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.entries[s.ID] = memoryEntry{session: clone(s), expiresAt: exp}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Purge drops records whose storage TTL has elapsed and returns how many
// were removed.
func (m *MemoryStore) Purge(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func clone(s *models.Session) *models.Session {
	cp := *s
	if s.DistrictID != nil {
		d := *s.DistrictID
		cp.DistrictID = &d
	}
	if s.Flash != nil {
		cp.Flash = append([]string(nil), s.Flash...)
	}
	return &cp
}
