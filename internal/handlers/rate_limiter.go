package handlers

import (
	"strings"
	"sync"
	"time"
)

// submitLimiter caps checkout submissions per session inside a fixed window.
// Requests that arrive without a session id share a single bucket.
type submitLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]submitWindow
}

type submitWindow struct {
	count   int
	resetAt time.Time
}

func newSubmitLimiter(limit int, window time.Duration, clock func() time.Time) *submitLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &submitLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]submitWindow),
	}
}

// Allow counts one submission attempt for the session and reports whether it
// is still inside the window's budget.
func (l *submitLimiter) Allow(sessionID string) bool {
	if l == nil {
		return true
	}
	key := strings.TrimSpace(sessionID)
	if key == "" {
		key = "no-session"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.resetAt) {
		l.dropExpiredLocked(now)
		l.buckets[key] = submitWindow{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if bucket.count >= l.limit {
		return false
	}
	bucket.count++
	l.buckets[key] = bucket
	return true
}

func (l *submitLimiter) dropExpiredLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.resetAt) {
			delete(l.buckets, key)
		}
	}
}
