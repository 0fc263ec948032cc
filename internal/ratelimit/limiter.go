// Package ratelimit implements the per-client sliding-window limiter guarding
// the API boundary.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonesrussell/marketpulse/internal/logger"
)

// Config holds the limiter settings.
type Config struct {
	// Limit is the number of requests admitted per window.
	Limit int `yaml:"limit" env:"RATE_LIMIT"`
	// Window is the length of the rolling window.
	Window time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
	// SweepInterval is how often idle entries are reclaimed. Defaults to the
	// window length.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"RATE_LIMIT_SWEEP_INTERVAL"`
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is how long the client should wait; set only on denial.
	RetryAfter time.Duration
}

// Stats describes the limiter's current table.
type Stats struct {
	TrackedKeys int    `json:"tracked_keys"`
	LiveKeys    int    `json:"live_keys"`
	Limit       int    `json:"limit"`
	Window      string `json:"window"`
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter tracks request counts per client fingerprint. All state lives on
// the instance; admission is a single critical section per call.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	limit  int
	window time.Duration

	now  func() time.Time
	log  logger.Logger
	done chan struct{}
	stop sync.Once
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source. Tests use this to cross window
// boundaries without sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter and starts its background sweep. Call Close to stop
// the sweep goroutine.
func New(cfg Config, log logger.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		limit:   cfg.Limit,
		window:  cfg.Window,
		now:     time.Now,
		log:     log,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = cfg.Window
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go l.sweepLoop(interval)

	return l
}

// Admit decides whether one request from the given fingerprint passes. The
// window resets lazily: an expired entry is rolled forward before the
// decision. A denial never mutates the count.
func (l *Limiter) Admit(fingerprint string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[fingerprint]
	if !ok {
		e = &entry{resetAt: now.Add(l.window)}
		l.entries[fingerprint] = e
	} else if !now.Before(e.resetAt) {
		e.count = 0
		e.resetAt = now.Add(l.window)
	}

	if e.count >= l.limit {
		return Decision{
			Limit:      l.limit,
			ResetAt:    e.resetAt,
			RetryAfter: e.resetAt.Sub(now),
		}
	}

	e.count++
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - e.count,
		ResetAt:   e.resetAt,
	}
}

// Stats reports the tracked and live entry counts alongside the configured
// window and cap.
func (l *Limiter) Stats() Stats {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	live := 0
	for _, e := range l.entries {
		if now.Before(e.resetAt) {
			live++
		}
	}
	return Stats{
		TrackedKeys: len(l.entries),
		LiveKeys:    live,
		Limit:       l.limit,
		Window:      l.window.String(),
	}
}

// Reset clears every tracked entry.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
	l.log.Info("rate limiter reset")
}

// Close stops the background sweep. Admit remains usable afterwards.
func (l *Limiter) Close() {
	l.stop.Do(func() { close(l.done) })
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

// sweep reclaims entries that stayed idle for a full window. An expired entry
// that saw traffic is first rolled to a fresh zero-count window; it is removed
// on a later pass only if it stays untouched. Admission never depends on
// sweep timing.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for fp, e := range l.entries {
		if now.Before(e.resetAt) {
			continue
		}
		if e.count == 0 {
			delete(l.entries, fp)
			removed++
			continue
		}
		e.count = 0
		e.resetAt = now.Add(l.window)
	}
	if removed > 0 {
		l.log.Debug("rate limiter sweep", logger.Int("entries_removed", removed))
	}
}
