package session

import (
	"context"

	"github.com/org/notaryadmin/pkg/models"
)

type ctxKey string

const sessionKey ctxKey = "session"

// WithSession attaches the request's session to ctx.
func WithSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session attached by the session middleware, or nil.
func FromContext(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionKey).(*models.Session)
	return s
}
