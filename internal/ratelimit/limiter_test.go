package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/marketpulse/internal/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	l := New(Config{Limit: limit, Window: window}, logger.NewNop(), WithClock(clock.Now))
	t.Cleanup(l.Close)
	return l, clock
}

func TestAdmitWindow(t *testing.T) {
	t.Parallel()

	const limit = 3
	l, clock := newTestLimiter(t, limit, time.Minute)

	for i := range limit {
		d := l.Admit("client")
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, limit-i-1, d.Remaining)
		assert.Equal(t, limit, d.Limit)
	}

	denied := l.Admit("client")
	require.False(t, denied.Allowed, "request over the cap is denied")
	assert.Zero(t, denied.Remaining)
	assert.Equal(t, time.Minute, denied.RetryAfter)

	clock.Advance(time.Minute)

	fresh := l.Admit("client")
	require.True(t, fresh.Allowed, "first request after the reset is admitted")
	assert.Equal(t, limit-1, fresh.Remaining, "count restarts at one")
}

func TestDenialDoesNotIncrement(t *testing.T) {
	t.Parallel()

	const limit = 2
	l, clock := newTestLimiter(t, limit, time.Minute)

	l.Admit("client")
	l.Admit("client")
	for range 5 {
		require.False(t, l.Admit("client").Allowed)
	}

	l.mu.Lock()
	count := l.entries["client"].count
	l.mu.Unlock()
	assert.Equal(t, limit, count, "denials must not grow the count")

	clock.Advance(30 * time.Second)
	d := l.Admit("client")
	require.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter, "retry guidance tracks the remaining window")
}

func TestFingerprintsIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 1, time.Minute)

	require.True(t, l.Admit("a").Allowed)
	require.False(t, l.Admit("a").Allowed)
	require.True(t, l.Admit("b").Allowed, "a saturated fingerprint does not affect others")
}

func TestConcurrentAdmitsAcrossReset(t *testing.T) {
	t.Parallel()

	const (
		limit      = 25
		goroutines = 20
		perRoutine = 10
	)
	l, clock := newTestLimiter(t, limit, time.Minute)

	var (
		mu      sync.Mutex
		allowed = make(map[time.Time]int)
	)
	hammer := func() {
		var wg sync.WaitGroup
		for range goroutines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range perRoutine {
					if d := l.Admit("client"); d.Allowed {
						mu.Lock()
						allowed[d.ResetAt]++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()
	}

	hammer()
	clock.Advance(time.Minute)
	hammer()

	require.Len(t, allowed, 2, "two distinct windows were exercised")
	for resetAt, n := range allowed {
		assert.Equal(t, limit, n, "window resetting at %v admitted a wrong count", resetAt)
	}
}

func TestSweepTwoPhase(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t, 5, time.Minute)

	l.Admit("idle")
	clock.Advance(2 * time.Minute)

	// First pass rolls the expired entry to a zero-count window.
	l.sweep(clock.Now())
	assert.Equal(t, 1, l.Stats().TrackedKeys, "entry with traffic survives the first pass")

	l.Admit("active")
	clock.Advance(2 * time.Minute)
	l.Admit("active")

	// Second pass removes the entry that stayed idle for a full window.
	l.sweep(clock.Now())
	stats := l.Stats()
	assert.Equal(t, 1, stats.TrackedKeys, "idle entry reclaimed, live entry kept")

	l.mu.Lock()
	_, idleKept := l.entries["idle"]
	_, activeKept := l.entries["active"]
	l.mu.Unlock()
	assert.False(t, idleKept)
	assert.True(t, activeKept)
}

func TestSweepNeverAffectsAdmission(t *testing.T) {
	t.Parallel()

	const limit = 3
	l, clock := newTestLimiter(t, limit, time.Minute)

	for range limit {
		require.True(t, l.Admit("client").Allowed)
	}
	l.sweep(clock.Now())
	require.False(t, l.Admit("client").Allowed, "sweeping a live window does not refresh its budget")
}

func TestStats(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(t, 10, time.Minute)

	l.Admit("a")
	clock.Advance(2 * time.Minute)
	l.Admit("b")

	stats := l.Stats()
	assert.Equal(t, 2, stats.TrackedKeys)
	assert.Equal(t, 1, stats.LiveKeys, "expired entries are tracked but not live")
	assert.Equal(t, 10, stats.Limit)
	assert.Equal(t, "1m0s", stats.Window)
}

func TestReset(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(t, 1, time.Minute)

	require.True(t, l.Admit("client").Allowed)
	require.False(t, l.Admit("client").Allowed)

	l.Reset()

	assert.Zero(t, l.Stats().TrackedKeys)
	require.True(t, l.Admit("client").Allowed, "reset clears every budget")
}
