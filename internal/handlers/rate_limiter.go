package handlers

import (
	"strings"
	"sync"
	"time"
)

// attemptLimiter caps failed-prone operations such as login per key within a fixed window.
type attemptLimiter interface {
	// Allow records an attempt for key. When the key is over its limit it reports false and how long
	// until the window resets.
	Allow(key string) (bool, time.Duration)
}

type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]attemptWindow
}

type attemptWindow struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) attemptLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]attemptWindow),
	}
}

func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		l.store[key] = attemptWindow{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.store[key] = entry
	return true, 0
}

func (l *windowLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}
