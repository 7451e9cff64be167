package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreakerTransitions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{MinRequests: 2, FailureRatio: 0.5, OpenFor: time.Minute, Now: clock.Now})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	clock.Advance(time.Minute)
	require.True(t, breaker.Allow(ctx), "breaker should admit a trial request after cool off")
	require.Equal(t, resilience.HalfOpen, breaker.State())
	require.False(t, breaker.Allow(ctx), "only one trial request at a time")
	breaker.Report(ctx, true)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{OpenFor: time.Second, Now: clock.Now})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	clock.Advance(time.Second)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))
}

func TestBreakerDo(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("redis unavailable")
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "queue", OpenFor: time.Minute})
	require.Equal(t, "queue", breaker.Target())

	calls := 0
	fail := func(context.Context) error { calls++; return boom }
	require.ErrorIs(t, breaker.Do(ctx, fail), boom)
	require.ErrorIs(t, breaker.Do(ctx, fail), resilience.ErrOpenCircuit)
	require.Equal(t, 1, calls, "open breaker must not call through")

	var nilBreaker *resilience.Breaker
	require.NoError(t, nilBreaker.Do(ctx, func(context.Context) error { return nil }))

	canceled := resilience.NewBreaker(resilience.BreakerConfig{})
	require.ErrorIs(t, canceled.Do(ctx, func(context.Context) error { return context.Canceled }), context.Canceled)
	require.Equal(t, resilience.Closed, canceled.State())
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))
	require.Equal(t, 100*time.Millisecond, resilience.Backoff(0, 0, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-(base*2/5))
	require.LessOrEqual(t, d, base*2+(base*2/5))
}
