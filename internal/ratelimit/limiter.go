// Package ratelimit implements sliding-window request limits keyed by
// principal or client address.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result describes one limiter decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted hit leaves the window.
	ResetAt time.Time
}

// Limiter counts hits per key over a sliding window. Denied hits are not
// counted.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// MemoryLimiter is a single-node sliding-window log.
type MemoryLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{hits: map[string][]time.Time{}, now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := prune(l.hits[key], now.Add(-window))
	res := Result{Limit: limit, ResetAt: now.Add(window)}
	if len(hits) >= limit {
		l.hits[key] = hits
		if len(hits) > 0 {
			res.ResetAt = hits[0].Add(window)
		}
		return res, nil
	}
	hits = append(hits, now)
	l.hits[key] = hits
	res.Allowed = true
	res.Remaining = limit - len(hits)
	res.ResetAt = hits[0].Add(window)
	return res, nil
}

// Sweep drops keys with no hits newer than window and returns how many
// keys were removed.
func (l *MemoryLimiter) Sweep(window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-window)
	n := 0
	for key, hits := range l.hits {
		kept := prune(hits, cutoff)
		if len(kept) == 0 {
			delete(l.hits, key)
			n++
			continue
		}
		l.hits[key] = kept
	}
	return n
}

// prune drops hits at or before cutoff; hits are kept in arrival order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
