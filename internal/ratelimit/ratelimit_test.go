package ratelimit

import (
	"testing"
	"time"
)

// newTestLimiter returns a limiter with a controllable clock and no
// background sweep.
func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	now := start
	l := &Limiter{
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
		now:     func() time.Time { return now },
	}
	return l, &now
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1000, 0))

	for i := 0; i < 3; i++ {
		res := l.Allow("user-1:start", 3, time.Minute)
		if !res.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if res.Remaining != 3-(i+1) {
			t.Errorf("request %d remaining = %d, want %d", i+1, res.Remaining, 3-(i+1))
		}
	}

	res := l.Allow("user-1:start", 3, time.Minute)
	if res.Allowed {
		t.Error("4th request within window allowed, want denied")
	}
	if res.Remaining != 0 {
		t.Errorf("denied remaining = %d, want 0", res.Remaining)
	}
	if res.ResetAt != time.Unix(1000, 0).Add(time.Minute) {
		t.Errorf("ResetAt = %v, want window start + 1m", res.ResetAt)
	}
}

func TestAllowAfterWindowElapses(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1000, 0))

	for i := 0; i < 2; i++ {
		if res := l.Allow("k", 2, time.Minute); !res.Allowed {
			t.Fatalf("request %d denied", i+1)
		}
	}
	if res := l.Allow("k", 2, time.Minute); res.Allowed {
		t.Fatal("over-limit request allowed")
	}

	*now = now.Add(time.Minute + time.Second)
	if res := l.Allow("k", 2, time.Minute); !res.Allowed {
		t.Error("request after window elapsed denied, want allowed")
	}
}

func TestSlidingWindowPartialExpiry(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1000, 0))

	l.Allow("k", 2, time.Minute)
	*now = now.Add(40 * time.Second)
	l.Allow("k", 2, time.Minute)

	// 10s later the first entry is still inside the window.
	*now = now.Add(10 * time.Second)
	if res := l.Allow("k", 2, time.Minute); res.Allowed {
		t.Error("request allowed while both entries are in the window")
	}

	// 15s after that, the first entry has aged out but the second has not.
	*now = now.Add(15 * time.Second)
	if res := l.Allow("k", 2, time.Minute); !res.Allowed {
		t.Error("request denied after oldest entry aged out")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1000, 0))

	l.Allow("user-1:start", 1, time.Minute)
	if res := l.Allow("user-1:start", 1, time.Minute); res.Allowed {
		t.Error("second request on exhausted key allowed")
	}
	if res := l.Allow("user-2:start", 1, time.Minute); !res.Allowed {
		t.Error("fresh key denied")
	}
	if res := l.Allow("user-1:retry", 1, time.Minute); !res.Allowed {
		t.Error("same principal, different operation denied")
	}
}

func TestSweepDiscardsIdleKeys(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1000, 0))

	l.Allow("stale", 5, time.Minute)
	*now = now.Add(25 * time.Hour)
	l.Allow("fresh", 5, time.Minute)

	l.Sweep(24 * time.Hour)

	l.mu.Lock()
	_, staleKept := l.windows["stale"]
	_, freshKept := l.windows["fresh"]
	l.mu.Unlock()

	if staleKept {
		t.Error("idle key survived sweep")
	}
	if !freshKept {
		t.Error("active key discarded by sweep")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l := New()
	l.Close()
	l.Close()
}
