package ratelimiter

import (
	"strings"
	"sync"
	"time"
)

// WindowLimiter grants each key a fixed allowance of points per window.
// The full allowance returns at the window boundary, so a burst of up to
// points requests can land back to back across a boundary; that imprecision
// is part of the policy.
type WindowLimiter struct {
	points int
	window time.Duration
	mu     sync.Mutex
	byKey  map[string]*windowEntry
	hits   uint64
}

type windowEntry struct {
	remaining int
	resetAt   time.Time
}

// NewWindow creates a fixed-window limiter; returns nil if args are invalid.
func NewWindow(points int, window time.Duration) *WindowLimiter {
	if points <= 0 || window <= 0 {
		return nil
	}
	return &WindowLimiter{
		points: points,
		window: window,
		byKey:  make(map[string]*windowEntry),
	}
}

// Consume takes one point for the key. When the allowance is exhausted it
// returns false and the time until the window resets. A nil limiter or blank
// key allows everything.
func (l *WindowLimiter) Consume(key string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok || !now.Before(e.resetAt) {
		e = &windowEntry{
			remaining: l.points,
			resetAt:   now.Add(l.window),
		}
		l.byKey[key] = e
	}

	l.hits++
	if l.hits%512 == 0 {
		for k, v := range l.byKey {
			if !now.Before(v.resetAt) {
				delete(l.byKey, k)
			}
		}
	}

	if e.remaining <= 0 {
		return false, e.resetAt.Sub(now)
	}
	e.remaining--
	return true, 0
}

// Window reports the configured window duration, used for retry-after hints.
func (l *WindowLimiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.window
}

// Points reports the configured allowance per window.
func (l *WindowLimiter) Points() int {
	if l == nil {
		return 0
	}
	return l.points
}
