package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func exercise(t *testing.T, l Limiter, c *clock) {
	t.Helper()
	ctx := context.Background()
	start := c.t

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "user:1", 3, time.Hour)
		require.NoError(t, err)
		require.True(t, res.Allowed, "hit %d", i)
		assert.Equal(t, 2-i, res.Remaining)
		c.t = c.t.Add(10 * time.Minute)
	}

	res, err := l.Allow(ctx, "user:1", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.True(t, res.ResetAt.Equal(start.Add(time.Hour)), "reset at %v", res.ResetAt)

	// Other keys are independent.
	res, err = l.Allow(ctx, "ip:10.0.0.1", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Once the first hit slides out, one more is allowed.
	c.t = start.Add(time.Hour + time.Second)
	res, err = l.Allow(ctx, "user:1", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.Remaining)

	res, err = l.Allow(ctx, "user:1", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "denied hits must not have been counted, but the window is full again")
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	c := &clock{t: time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter()
	l.now = c.now
	exercise(t, l, c)
}

func TestMemoryLimiterSweep(t *testing.T) {
	c := &clock{t: time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter()
	l.now = c.now
	l.Allow(context.Background(), "a", 10, time.Minute) //nolint:errcheck
	c.t = c.t.Add(30 * time.Second)
	l.Allow(context.Background(), "b", 10, time.Minute) //nolint:errcheck
	c.t = c.t.Add(45 * time.Second)

	assert.Equal(t, 1, l.Sweep(time.Minute))
	assert.Len(t, l.hits, 1)
}

func TestRedisLimiterSlidingWindow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := &clock{t: time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)}
	l := NewRedisLimiter(client, "")
	l.now = c.now
	exercise(t, l, c)

	assert.True(t, mr.Exists("notaryadmin:ratelimit:user:1"))
}

func TestRedisLimiterUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	res, err := NewRedisLimiter(client, "").Allow(context.Background(), "k", 1, time.Minute)
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}
