package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count   int
	startAt time.Time
}

// Limiter is a fixed-window per-IP request limiter. It is an advisory abuse
// guard for the service itself, independent of per-key quotas. State is
// process-local and lost on restart.
type Limiter struct {
	mu      sync.Mutex
	length  time.Duration
	max     int
	windows map[string]*window
	now     func() time.Time
}

// New creates a Limiter allowing max requests per window length.
func New(length time.Duration, max int) *Limiter {
	return &Limiter{
		length:  length,
		max:     max,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether a request from ip fits in the current window. The
// window restarts once the configured length has elapsed since it opened;
// there is no sliding or leaky-bucket smoothing.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[ip]
	if !ok || now.Sub(w.startAt) > l.length {
		l.windows[ip] = &window{count: 1, startAt: now}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Purge drops windows that have already expired and returns how many were
// removed. Called periodically so idle client IPs don't accumulate forever.
func (l *Limiter) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for ip, w := range l.windows {
		if now.Sub(w.startAt) > l.length {
			delete(l.windows, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked client IPs.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
