// Package ratelimit implements a fixed-window request counter keyed by an
// opaque string, backed by an expiring in-memory map.
//
// Unlike a token bucket, a fixed window resets its counter at hard time
// boundaries: the first request for a key opens a window of cfg.Window and
// every request inside it increments one counter. Window reset is lazy,
// evaluated only when a key is next touched. An independent periodic sweep
// deletes entries whose window has already ended, bounding memory growth
// from abandoned keys.
//
// The limiter is process-local and best-effort: it provides no cross-instance
// consistency and resets on restart. That is acceptable for abuse mitigation;
// it is not billing-grade accounting.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// rejections counts denied checks by scope so abuse shows up on dashboards.
var rejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ratelimit_rejections_total",
		Help: "Total number of requests rejected by the fixed-window limiter.",
	},
	[]string{"scope"},
)

func init() {
	prometheus.MustRegister(rejections)
}

// Config describes one named limit: at most MaxRequests per Window.
//
// Scope labels the limit in metrics; it is not part of the key.
type Config struct {
	Scope       string
	MaxRequests int
	Window      time.Duration
}

// Result is the outcome of a single Check call.
//
// ResetTime is always populated so callers can surface it to clients on
// rejection (Retry-After) or for informational headers on success.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// entry is one key's window. An entry whose resetTime has passed is logically
// expired and treated as absent.
type entry struct {
	count     int
	resetTime time.Time
}

// Limiter is a fixed-window counter map. The zero value is not usable; call
// New.
//
// All key state lives behind one mutex so the read-check-increment-store for
// a key is atomic: two concurrent requests can never both observe "room in
// window" and increment past the limit.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	// now is an injection point for tests; defaults to time.Now.
	now func() time.Time
}

// New returns an empty Limiter.
func New() *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Check records one request under key against cfg and reports whether it is
// allowed. It never fails.
//
// Semantics (fixed window):
//   - absent or expired key: fresh entry with count=1,
//     resetTime=now+cfg.Window; allowed, remaining = MaxRequests-1.
//   - count >= MaxRequests: denied, remaining 0, stored entry untouched
//     (the window does not extend under pressure).
//   - otherwise: increment and allow.
func (l *Limiter) Check(key string, cfg Config) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.After(e.resetTime) || now.Equal(e.resetTime) {
		// Expired entries are replaced, never merged.
		e = &entry{count: 1, resetTime: now.Add(cfg.Window)}
		l.entries[key] = e
		return Result{Allowed: true, Remaining: cfg.MaxRequests - 1, ResetTime: e.resetTime}
	}

	if e.count >= cfg.MaxRequests {
		rejections.WithLabelValues(cfg.Scope).Inc()
		return Result{Allowed: false, Remaining: 0, ResetTime: e.resetTime}
	}

	e.count++
	return Result{Allowed: true, Remaining: cfg.MaxRequests - e.count, ResetTime: e.resetTime}
}

// Sweep deletes every entry whose window has already ended and returns the
// number removed. Check handles expiry lazily on its own; Sweep exists to
// reclaim memory held by keys that are never touched again.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, e := range l.entries {
		if !now.Before(e.resetTime) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled. It is meant
// to be launched once from main as `go limiter.StartSweeper(ctx, 5*time.Minute)`.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

// Len reports the number of live entries, expired or not. Used by tests and
// the sweeper's own accounting.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
