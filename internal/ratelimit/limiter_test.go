package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedClock lets tests advance time manually.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(length time.Duration, max int) (*Limiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(length, max)
	l.now = clock.now
	return l, clock
}

func TestAllow_WithinWindow(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 25)

	for i := 0; i < 25; i++ {
		assert.True(t, l.Allow("1.2.3.4"), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("1.2.3.4"), "26th request should be rejected")

	// Other IPs are tracked independently.
	assert.True(t, l.Allow("5.6.7.8"))
}

func TestAllow_WindowRestart(t *testing.T) {
	l, clock := newTestLimiter(time.Minute, 2)

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	clock.advance(61 * time.Second)
	assert.True(t, l.Allow("1.2.3.4"), "window should restart after it elapses")
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
}

func TestPurge(t *testing.T) {
	l, clock := newTestLimiter(time.Minute, 10)

	l.Allow("1.2.3.4")
	l.Allow("5.6.7.8")
	assert.Equal(t, 2, l.Len())

	assert.Equal(t, 0, l.Purge(), "live windows should survive a purge")

	clock.advance(2 * time.Minute)
	l.Allow("9.9.9.9")
	assert.Equal(t, 2, l.Purge())
	assert.Equal(t, 1, l.Len())
}
