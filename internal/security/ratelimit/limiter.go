package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces a sliding-window request limit per caller. Keys are
// user IDs for authenticated traffic and client IPs for the login
// endpoint, which gets its own stricter window via AllowStrict.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	maxReqs int
	period  time.Duration
	cleanup *time.Ticker
	done    chan struct{}
}

type window struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// NewLimiter creates a limiter allowing maxRequests per period per key.
func NewLimiter(maxRequests int, period time.Duration) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		maxReqs: maxRequests,
		period:  period,
		cleanup: time.NewTicker(5 * time.Minute),
		done:    make(chan struct{}),
	}
	go l.evictIdle()
	return l
}

// Allow reports whether the caller may proceed. An empty key is never
// limited; unauthenticated traffic is rejected before it gets here.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		return true
	}
	return l.take(key, l.maxReqs, l.period)
}

// AllowStrict applies a caller-supplied limit under a separate key space,
// used by credential endpoints to slow brute-force attempts.
func (l *Limiter) AllowStrict(key string, maxReqs int, period time.Duration) bool {
	return l.take("strict:"+key, maxReqs, period)
}

func (l *Limiter) take(key string, maxReqs int, period time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}

	cutoff := now.Add(-period)
	kept := w.timestamps[:0]
	for _, t := range w.timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.timestamps = kept
	w.lastSeen = now

	if len(w.timestamps) >= maxReqs {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

// Stop ends the background eviction goroutine.
func (l *Limiter) Stop() {
	l.cleanup.Stop()
	close(l.done)
}

func (l *Limiter) evictIdle() {
	for {
		select {
		case <-l.done:
			return
		case <-l.cleanup.C:
			threshold := time.Now().Add(-15 * time.Minute)
			l.mu.Lock()
			for key, w := range l.windows {
				if w.lastSeen.Before(threshold) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
