package kv

import (
	"context"
	"sort"
	"sync"
)

type heldKeysContextKey struct{}

// Locker hands out per-key mutual exclusion for read-modify-write sequences.
// Locks live in process memory, so every writer of a key must share one Locker.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker constructs an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock acquires every key not already held by ctx and returns a context recording the held keys
// together with the release function. Nested calls made with the returned context skip keys the
// caller already owns. Keys are taken in sorted order so overlapping multi-key callers cannot deadlock.
func (l *Locker) Lock(ctx context.Context, keys ...string) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	held, _ := ctx.Value(heldKeysContextKey{}).(map[string]struct{})

	ordered := make([]string, 0, len(keys))
	for _, key := range uniqueSorted(keys) {
		if _, ok := held[key]; !ok {
			ordered = append(ordered, key)
		}
	}
	if len(ordered) == 0 {
		return ctx, func() {}
	}

	acquired := make([]*keyLock, 0, len(ordered))
	for _, key := range ordered {
		lock := l.acquire(key)
		lock.mu.Lock()
		acquired = append(acquired, lock)
	}

	next := make(map[string]struct{}, len(held)+len(ordered))
	for key := range held {
		next[key] = struct{}{}
	}
	for _, key := range ordered {
		next[key] = struct{}{}
	}

	var once sync.Once
	return context.WithValue(ctx, heldKeysContextKey{}, next), func() {
		once.Do(func() {
			for i := len(acquired) - 1; i >= 0; i-- {
				acquired[i].mu.Unlock()
				l.release(ordered[i])
			}
		})
	}
}

func (l *Locker) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &keyLock{}
		l.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs <= 0 {
		delete(l.locks, key)
	}
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
