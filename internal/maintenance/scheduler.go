// Package maintenance runs periodic cleanup of expired authentication state.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/org/notaryadmin/internal/auth"
	"github.com/org/notaryadmin/internal/ratelimit"
	"github.com/org/notaryadmin/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSchedule runs the cleanup every 15 minutes.
const DefaultSchedule = "@every 15m"

const jobTimeout = time.Minute

// Job is one cleanup task. Run returns the number of records removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Scheduler runs its jobs on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	jobs []Job
}

// New creates a Scheduler that runs jobs on schedule, which accepts standard
// five-field cron expressions and descriptors such as "@every 15m".
func New(schedule string, jobs ...Job) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{cron: cron.New(), jobs: jobs}
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce runs every job once. A failing job does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]int64 {
	results := make(map[string]int64, len(s.jobs))
	for _, j := range s.jobs {
		n, err := j.Run(ctx)
		if err != nil {
			log.Error().Err(err).Str("job", j.Name).Msg("maintenance job failed")
			continue
		}
		results[j.Name] = n
		if n > 0 {
			log.Info().Str("job", j.Name).Int64("removed", n).Msg("maintenance job completed")
		}
	}
	return results
}

// Purger is a session store that can drop expired records itself.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// SessionPurge removes expired sessions from a store without native expiry.
func SessionPurge(p Purger) Job {
	return Job{Name: "sessions", Run: func(ctx context.Context) (int64, error) {
		n, err := p.Purge(ctx)
		return int64(n), err
	}}
}

// RememberTokenPurge removes expired remember-me tokens.
func RememberTokenPurge(store storage.RememberStore, now func() time.Time) Job {
	return Job{Name: "remember_tokens", Run: func(ctx context.Context) (int64, error) {
		return store.DeleteExpiredRememberTokens(ctx, now().UTC())
	}}
}

// LoginFailurePrune removes login failures older than the lockout window.
func LoginFailurePrune(l *auth.Lockout, now func() time.Time) Job {
	return Job{Name: "login_failures", Run: func(ctx context.Context) (int64, error) {
		return l.Prune(ctx, now().UTC())
	}}
}

// RateLimitSweep drops idle keys from an in-memory limiter.
func RateLimitSweep(l *ratelimit.MemoryLimiter, window time.Duration) Job {
	return Job{Name: "rate_limit_keys", Run: func(context.Context) (int64, error) {
		return int64(l.Sweep(window)), nil
	}}
}
