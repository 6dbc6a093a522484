package audit

import (
	"context"
	"time"

	"github.com/org/notaryadmin/pkg/models"
	"github.com/rs/zerolog/log"
)

// Actions recorded by the authorization core.
const (
	ActionLogin              = "login"
	ActionRememberLogin      = "remember_login"
	ActionFailedLogin        = "failed_login"
	ActionLogout             = "logout"
	ActionAccountLocked      = "account_locked"
	ActionSessionExpired     = "session_expired"
	ActionSessionExtended    = "session_extended"
	ActionPasswordChanged    = "password_changed"
	ActionPasswordReset      = "password_reset"
	ActionAccess             = "access"
	ActionAccessDenied       = "access_denied"
	ActionUnauthorizedAccess = "unauthorized_access_attempt"
	ActionCSRFViolation      = "csrf_violation"
	ActionRateLimitExceeded  = "rate_limit_exceeded"
)

// Guest is the actor name recorded for anonymous requests.
const Guest = "guest"

// Sink persists audit entries.
type Sink interface {
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
}

// Logger writes structured audit entries. It is write-only and holds no
// enforcement logic.
type Logger struct {
	sink Sink
	now  func() time.Time
}

// NewLogger creates an audit Logger.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: time.Now}
}

// LogActivity records a routine action by actor (nil for guests).
func (l *Logger) LogActivity(ctx context.Context, actor *models.Principal, action, detail string) {
	l.write(ctx, actor, "", action, detail, models.SeverityLow)
}

// LogSecurity records a security-relevant event with the given severity.
func (l *Logger) LogSecurity(ctx context.Context, actor *models.Principal, action, detail string, sev models.Severity) {
	l.write(ctx, actor, "", action, detail, sev)
}

// LogLogin records an authentication attempt. username is the name that was
// submitted; actor is nil when the attempt did not resolve to an account.
func (l *Logger) LogLogin(ctx context.Context, username string, actor *models.Principal, success bool, reason string) {
	if success {
		l.write(ctx, actor, username, ActionLogin, reason, models.SeverityLow)
		return
	}
	l.write(ctx, actor, username, ActionFailedLogin, reason, models.SeverityMedium)
}

func (l *Logger) write(ctx context.Context, actor *models.Principal, name, action, detail string, sev models.Severity) {
	info := RequestInfoFrom(ctx)
	entry := &models.AuditEntry{
		RequestID: info.RequestID,
		Timestamp: l.now().UTC(),
		ActorName: name,
		Action:    action,
		Detail:    detail,
		Severity:  sev,
		Path:      info.Path,
		ClientIP:  info.ClientIP,
		UserAgent: info.UserAgent,
	}
	if actor != nil {
		id := actor.ID
		entry.ActorID = &id
		if entry.ActorName == "" {
			entry.ActorName = actor.Username
		}
	}
	if entry.ActorName == "" {
		entry.ActorName = Guest
	}

	ev := log.Info()
	if sev != models.SeverityLow {
		ev = log.Warn()
	}
	ev.Str("action", action).
		Str("actor", entry.ActorName).
		Str("severity", string(sev)).
		Str("ip", entry.ClientIP).
		Str("path", entry.Path).
		Str("detail", detail).
		Msg("audit")

	// Audit failures must not break the request flow.
	if err := l.sink.WriteAuditEntry(ctx, entry); err != nil {
		log.Error().Err(err).Str("action", action).Msg("failed to persist audit entry")
	}
}
