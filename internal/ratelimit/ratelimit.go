// Package ratelimit implements a sliding-window admission limiter keyed by
// arbitrary strings, typically principal+operation. State is process-local;
// running multiple instances multiplies the effective quota.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// sweepInterval is how often idle keys are collected.
	sweepInterval = time.Hour
	// idleRetention is how long a key with no activity is kept.
	idleRetention = 24 * time.Hour
)

var deniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "mailaudit_ratelimit_denied_total",
	Help: "Total number of requests denied by the admission limiter.",
})

func init() {
	prometheus.MustRegister(deniedTotal)
}

// Result reports the outcome of an admission check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// window tracks the ordered timestamps of recent actions for one key.
type window struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// Limiter is a sliding-window counter. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// New creates a limiter and starts its background sweep of idle keys.
func New() *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go l.sweepLoop()
	return l
}

// Allow reports whether one more action under key is permitted within the
// sliding window, recording the action when it is. Remaining is the quota
// left after this call; ResetAt is when the oldest recorded action ages out.
func (l *Limiter) Allow(key string, limit int, windowDur time.Duration) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil {
		w = &window{}
		l.windows[key] = w
	}
	w.lastSeen = now
	w.discardBefore(now.Add(-windowDur))

	if len(w.timestamps) >= limit {
		deniedTotal.Inc()
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   w.timestamps[0].Add(windowDur),
			Limit:     limit,
		}
	}

	w.timestamps = append(w.timestamps, now)
	return Result{
		Allowed:   true,
		Remaining: limit - len(w.timestamps),
		ResetAt:   w.timestamps[0].Add(windowDur),
		Limit:     limit,
	}
}

// Sweep discards keys with no activity in the past idleFor. It is invoked
// periodically by the background loop and exposed for operational use.
func (l *Limiter) Sweep(idleFor time.Duration) {
	cutoff := l.now().Add(-idleFor)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if w.lastSeen.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep(idleRetention)
		case <-l.stop:
			return
		}
	}
}

// discardBefore drops timestamps at or before cutoff, keeping order.
func (w *window) discardBefore(cutoff time.Time) {
	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]
}
