package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/notaryadmin/internal/storage"
	"github.com/org/notaryadmin/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*Logger, *storage.MemoryBackend) {
	store := storage.NewMemoryBackend()
	l := NewLogger(store)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return l, store
}

func TestLogLoginSuccessCarriesActorAndRequestInfo(t *testing.T) {
	l, store := newTestLogger()
	ctx := WithRequestInfo(context.Background(), RequestInfo{
		RequestID: "req-1", ClientIP: "10.0.0.5", UserAgent: "curl/8", Path: "/login",
	})
	actor := &models.Principal{ID: 42, Username: "ahmed"}

	l.LogLogin(ctx, "ahmed", actor, true, "")

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, ActionLogin, e.Action)
	require.NotNil(t, e.ActorID)
	assert.Equal(t, int64(42), *e.ActorID)
	assert.Equal(t, "ahmed", e.ActorName)
	assert.Equal(t, "10.0.0.5", e.ClientIP)
	assert.Equal(t, "curl/8", e.UserAgent)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, models.SeverityLow, e.Severity)
}

func TestLogLoginFailureAnonymous(t *testing.T) {
	l, store := newTestLogger()
	l.LogLogin(context.Background(), "nobody", nil, false, "invalid credentials")

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionFailedLogin, entries[0].Action)
	assert.Nil(t, entries[0].ActorID)
	assert.Equal(t, "nobody", entries[0].ActorName)
	assert.Equal(t, models.SeverityMedium, entries[0].Severity)
}

func TestGuestActorName(t *testing.T) {
	l, store := newTestLogger()
	l.LogSecurity(context.Background(), nil, ActionCSRFViolation, "POST /api/session/extend", models.SeverityHigh)

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, Guest, entries[0].ActorName)
	assert.Equal(t, models.SeverityHigh, entries[0].Severity)
}

type failingSink struct{}

func (failingSink) WriteAuditEntry(context.Context, *models.AuditEntry) error {
	return errors.New("disk full")
}

func TestSinkFailureDoesNotPanic(t *testing.T) {
	l := NewLogger(failingSink{})
	assert.NotPanics(t, func() {
		l.LogActivity(context.Background(), nil, ActionAccess, "GET /")
	})
}
