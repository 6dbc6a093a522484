package auth

import (
	"context"
	"time"

	"github.com/org/notaryadmin/internal/storage"
)

// Lockout tracks login failures per username over a rolling window.
type Lockout struct {
	store  storage.LoginAttemptStore
	max    int
	window time.Duration
}

// NewLockout creates a Lockout that blocks a username after max failures
// within window.
func NewLockout(store storage.LoginAttemptStore, max int, window time.Duration) *Lockout {
	return &Lockout{store: store, max: max, window: window}
}

// Window returns the rolling window length.
func (l *Lockout) Window() time.Duration { return l.window }

// Check reports whether username is locked at now and, if so, when the
// lock lifts: the moment enough of the counted failures have aged out.
func (l *Lockout) Check(ctx context.Context, username string, now time.Time) (time.Time, bool, error) {
	failures, err := l.store.ListLoginFailures(ctx, username, now.Add(-l.window))
	if err != nil {
		return time.Time{}, false, err
	}
	if len(failures) < l.max {
		return time.Time{}, false, nil
	}
	return failures[len(failures)-l.max].Add(l.window), true, nil
}

// RecordFailure counts one failed attempt.
func (l *Lockout) RecordFailure(ctx context.Context, username string, at time.Time) error {
	return l.store.RecordLoginFailure(ctx, username, at)
}

// Reset clears the failures for username.
func (l *Lockout) Reset(ctx context.Context, username string) error {
	return l.store.ClearLoginFailures(ctx, username)
}

// Prune drops failures that fell out of the window before now.
func (l *Lockout) Prune(ctx context.Context, now time.Time) (int64, error) {
	return l.store.PruneLoginFailures(ctx, now.Add(-l.window))
}
