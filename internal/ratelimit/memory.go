package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter counts login attempts per key in process memory. It is the
// fallback when no Redis is configured, so counts are per replica.
type MemoryLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	attempts  map[string]attemptWindow
	nextSweep time.Time
}

// attemptWindow opens on the first attempt for a key and closes window later.
type attemptWindow struct {
	hits    int
	closeAt time.Time
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string]attemptWindow),
	}
}

// Allow records an attempt for key at now. Once a key has used limit
// attempts it is refused until its window closes; the returned duration is
// the time left until then.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	w, ok := l.attempts[key]
	if !ok || !now.Before(w.closeAt) {
		l.attempts[key] = attemptWindow{hits: 1, closeAt: now.Add(l.window)}
		return true, 0, nil
	}
	if w.hits >= l.limit {
		return false, w.closeAt.Sub(now), nil
	}
	w.hits++
	l.attempts[key] = w
	return true, 0, nil
}

// Reset forgets key, used after a successful login.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.attempts, key)
	l.mu.Unlock()
	return nil
}

// sweep drops closed windows at most once per window length, so keys from
// one-off clients do not accumulate.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, w := range l.attempts {
		if !now.Before(w.closeAt) {
			delete(l.attempts, key)
		}
	}
	l.nextSweep = now.Add(l.window)
}
