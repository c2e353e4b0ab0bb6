package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fixedClock lets tests move the limiter's notion of "now" explicitly.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fixedClock) {
	clk := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New()
	l.now = clk.now
	return l, clk
}

func TestCheck_WindowCorrectness(t *testing.T) {
	l, _ := newTestLimiter()
	cfg := Config{Scope: "test", MaxRequests: 3, Window: time.Second}

	wantAllowed := []bool{true, true, true, false}
	wantRemaining := []int{2, 1, 0, 0}

	var firstReset time.Time
	for i := 0; i < 4; i++ {
		res := l.Check("k", cfg)
		if res.Allowed != wantAllowed[i] {
			t.Fatalf("call %d: allowed = %v; want %v", i+1, res.Allowed, wantAllowed[i])
		}
		if res.Remaining != wantRemaining[i] {
			t.Fatalf("call %d: remaining = %d; want %d", i+1, res.Remaining, wantRemaining[i])
		}
		if i == 0 {
			firstReset = res.ResetTime
		} else if !res.ResetTime.Equal(firstReset) {
			t.Fatalf("call %d: resetTime changed within window: %v vs %v", i+1, res.ResetTime, firstReset)
		}
	}
}

func TestCheck_DenialLeavesEntryUntouched(t *testing.T) {
	l, clk := newTestLimiter()
	cfg := Config{Scope: "test", MaxRequests: 1, Window: time.Minute}

	l.Check("k", cfg)
	denied := l.Check("k", cfg)
	if denied.Allowed {
		t.Fatal("second call should be denied")
	}

	// Denials must not extend the window: once the original window ends the
	// key resets even though denied calls happened in between.
	clk.advance(time.Minute)
	res := l.Check("k", cfg)
	if !res.Allowed {
		t.Fatal("expected fresh window after resetTime passed")
	}
}

func TestCheck_WindowReset(t *testing.T) {
	l, clk := newTestLimiter()
	cfg := Config{Scope: "test", MaxRequests: 2, Window: time.Minute}

	first := l.Check("k", cfg)
	clk.advance(time.Minute) // exactly resetTime: window is over

	res := l.Check("k", cfg)
	if !res.Allowed {
		t.Fatal("expected allowed after window elapsed")
	}
	if res.Remaining != 1 {
		t.Fatalf("remaining = %d; want 1 (count restarted at 1)", res.Remaining)
	}
	if !res.ResetTime.After(first.ResetTime) {
		t.Fatalf("fresh window must carry a later resetTime: %v vs %v", res.ResetTime, first.ResetTime)
	}
}

func TestCheck_KeyIndependence(t *testing.T) {
	l, _ := newTestLimiter()
	cfg := Config{Scope: "test", MaxRequests: 1, Window: time.Minute}

	if !l.Check("a", cfg).Allowed {
		t.Fatal("first call for a should pass")
	}
	if !l.Check("b", cfg).Allowed {
		t.Fatal("exhausting a must not affect b")
	}
	if l.Check("a", cfg).Allowed {
		t.Fatal("a is exhausted")
	}
	if l.Check("b", cfg).Allowed {
		t.Fatal("b is exhausted")
	}
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	l, clk := newTestLimiter()
	short := Config{Scope: "s", MaxRequests: 5, Window: time.Second}
	long := Config{Scope: "l", MaxRequests: 5, Window: time.Hour}

	l.Check("short", short)
	l.Check("long", long)
	clk.advance(2 * time.Second)

	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d; want 1", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d; want 1", l.Len())
	}

	// The surviving key still counts against its original window.
	res := l.Check("long", long)
	if res.Remaining != 3 {
		t.Fatalf("remaining = %d; want 3", res.Remaining)
	}
}

func TestCheck_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	l := New() // real clock; the window is far longer than the test
	cfg := Config{Scope: "test", MaxRequests: 50, Window: time.Hour}

	const callers = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared", cfg).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != cfg.MaxRequests {
		t.Fatalf("allowed %d of %d concurrent calls; want exactly %d", allowed, callers, cfg.MaxRequests)
	}
}

func TestStartSweeper_StopsOnCancel(t *testing.T) {
	l, _ := newTestLimiter()

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		l.StartSweeper(ctx, time.Millisecond)
		close(done)
	}()

	// While ctx is live the loop must keep running, not return.
	select {
	case <-done:
		t.Fatal("sweeper returned before cancel")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
