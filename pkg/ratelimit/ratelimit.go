package ratelimit

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Limiter enforces a sliding-window request cap per key. Idle keys age out
// of the cache on their own.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	entries *expirable.LRU[string, []time.Time]
}

// NewLimiter creates a limiter allowing limit requests per window per key.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		window:  window,
		limit:   limit,
		entries: expirable.NewLRU[string, []time.Time](4096, nil, window*2),
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit. Denied attempts are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	stamps, _ := l.entries.Get(key)
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.entries.Add(key, kept)
		return false
	}

	kept = append(kept, now)
	l.entries.Add(key, kept)
	return true
}

// Remaining reports how many attempts key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.window)
	stamps, _ := l.entries.Get(key)

	active := 0
	for _, t := range stamps {
		if t.After(cutoff) {
			active++
		}
	}

	remaining := l.limit - active
	if remaining < 0 {
		return 0
	}
	return remaining
}
