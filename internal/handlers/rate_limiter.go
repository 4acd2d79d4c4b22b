package handlers

import (
	"strings"
	"sync"
	"time"
)

// quoteLimiter throttles the unauthenticated quote endpoint per client address.
type quoteLimiter interface {
	Allow(key string) (bool, time.Duration)
}

type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	count int
	reset time.Time
}

// newWindowLimiter returns nil when limiting is disabled.
func newWindowLimiter(limit int, every time.Duration, clock func() time.Time) *windowLimiter {
	if limit <= 0 || every <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  every,
		clock:   clock,
		windows: make(map[string]window),
	}
}

// Allow counts one request against key and reports how long to wait when the window is full.
func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.sweepLocked(now)
		l.windows[key] = window{count: 1, reset: now.Add(l.window)}
		return true, 0
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now)
	}
	current.count++
	l.windows[key] = current
	return true, 0
}

func (l *windowLimiter) sweepLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
