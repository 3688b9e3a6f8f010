package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count     int
	startedAt time.Time
}

// WindowLimiter is a fixed-window in-process limiter keyed by client
// identifier. State is ephemeral: a restart clears all counters, which
// briefly under-enforces and is acceptable for webhook ingress.
//
// The clock is injected so window-boundary behavior is testable.
type WindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int
	length  time.Duration
	now     func() time.Time
}

func NewWindowLimiter(max int, length time.Duration) *WindowLimiter {
	return &WindowLimiter{
		windows: make(map[string]*window),
		max:     max,
		length:  length,
		now:     time.Now,
	}
}

func NewTestWindowLimiter(max int, length time.Duration, now func() time.Time) *WindowLimiter {
	l := NewWindowLimiter(max, length)
	l.now = now
	return l
}

// Allow counts one request for key and reports whether it is within the
// limit. Once the window has elapsed the counter restarts at 1.
func (l *WindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.startedAt) > l.length {
		l.windows[key] = &window{count: 1, startedAt: now}
		return true
	}

	w.count++
	return w.count <= l.max
}

// Cleanup drops expired windows; called periodically so the map does
// not grow with one entry per client forever.
func (l *WindowLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.startedAt) > l.length {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
