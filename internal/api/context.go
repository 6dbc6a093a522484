package api

import (
	"context"

	"github.com/org/notaryadmin/internal/session"
	"github.com/org/notaryadmin/pkg/models"
)

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// principalFromCtx returns the principal bound to the request's session.
func principalFromCtx(ctx context.Context) *models.Principal {
	return session.FromContext(ctx).Principal()
}
