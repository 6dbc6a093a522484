package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/org/notaryadmin/internal/storage"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	d := int64(3)
	s := &models.Session{
		ID:          "abc",
		PrincipalID: 9,
		Username:    "sara",
		Role:        models.RoleSupervisor,
		DistrictID:  &d,
		CSRFToken:   "tok",
		Flash:       []string{"hello"},
	}
	require.NoError(t, store.Save(ctx, s, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("notaryadmin:session:abc"))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupervisor, got.Role)
	require.NotNil(t, got.DistrictID)
	assert.Equal(t, int64(3), *got.DistrictID)
	assert.Equal(t, []string{"hello"}, got.Flash)

	require.NoError(t, store.Delete(ctx, "abc"))
	_, err = store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &models.Session{ID: "short"}, time.Minute))
	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStoreCorruptRecord(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("notaryadmin:session:bad", "{not json"))
	_, err := store.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, mr.Exists("notaryadmin:session:bad"))
}

func TestManagerOverRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	m := NewManager(store, storage.NewMemoryBackend(), DefaultConfig())
	ctx := context.Background()

	rec := httptest.NewRecorder()
	s, err := m.Start(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.NoError(t, err)
	anonID := s.ID

	require.NoError(t, m.Login(ctx, httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil), s, notary()))
	assert.NotEqual(t, anonID, s.ID)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "notary_session", Value: s.ID})
	loaded, err := m.Start(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, s.PrincipalID, loaded.PrincipalID)
	assert.NoError(t, m.Authenticate(ctx, httptest.NewRecorder(), req, loaded))
}
