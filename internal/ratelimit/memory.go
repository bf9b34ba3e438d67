package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type memoryEntry struct {
	windowStart int64
	count       atomic.Int64
}

// MemoryLimiter is the in-process fixed-window limiter. Counters live in a
// concurrent map; the window boundary acts as the idempotency key, so two
// goroutines racing on a fresh window converge on whichever entry landed
// first.
type MemoryLimiter struct {
	config  Config
	entries sync.Map // key string -> *memoryEntry
	now     func() time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(config Config) *MemoryLimiter {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultConfig().MaxRequests
	}
	return &MemoryLimiter{config: config, now: time.Now}
}

// Allow counts the request against the current window.
func (l *MemoryLimiter) Allow(ctx context.Context, userID, route string) (Decision, error) {
	if !l.config.Enabled {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	key := windowKey(userID, route)
	start := now.Truncate(l.config.Window).UnixMilli()

	entry := l.load(key, start)
	if entry.count.Add(1) > int64(l.config.MaxRequests) {
		return Decision{Allowed: false, RetryAfter: retryAfter(now, l.config.Window)}, nil
	}
	return Decision{Allowed: true}, nil
}

// load returns the entry for the current window, removing a stale entry
// first so the map does not grow with dead windows.
func (l *MemoryLimiter) load(key string, windowStart int64) *memoryEntry {
	if v, ok := l.entries.Load(key); ok {
		entry := v.(*memoryEntry)
		if entry.windowStart == windowStart {
			return entry
		}
		l.entries.Delete(key)
	}
	fresh := &memoryEntry{windowStart: windowStart}
	actual, _ := l.entries.LoadOrStore(key, fresh)
	entry := actual.(*memoryEntry)
	if entry.windowStart != windowStart {
		// Lost a race against an even staler entry; replace it.
		l.entries.Delete(key)
		actual, _ = l.entries.LoadOrStore(key, fresh)
		entry = actual.(*memoryEntry)
	}
	return entry
}

var _ Limiter = (*MemoryLimiter)(nil)
