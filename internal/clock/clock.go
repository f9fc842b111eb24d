// Package clock provides a monotonic stopwatch used to decide when the
// reception state machine has gone too long without hearing from the
// sonar. It is a thin wrapper over time.Now so that tests can substitute
// a fake clock instead of sleeping real seconds.
package clock

import (
	"sync"
	"time"
)

// Clock is a restartable stopwatch: Reset marks "now" as the new
// reference point, and Elapsed reports how long ago that was. Reset and
// Elapsed are called from different goroutines in practice (the
// listener/session I/O loop resets it, a watchdog ticker reads it), so
// access to the reference point is mutex-protected.
type Clock struct {
	now func() time.Time

	mu   sync.Mutex
	mark time.Time
}

// New returns a Clock reset to the current time, using time.Now as its
// time source.
func New() *Clock {
	c := &Clock{now: time.Now}
	c.Reset()
	return c
}

// NewWithSource returns a Clock using now as its time source, for tests
// that need to control the passage of time deterministically.
func NewWithSource(now func() time.Time) *Clock {
	c := &Clock{now: now}
	c.Reset()
	return c
}

// Reset marks the current instant as the clock's new reference point.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.mark = c.now()
	c.mu.Unlock()
}

// Elapsed returns the duration since the last Reset.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	mark := c.mark
	c.mu.Unlock()
	return c.now().Sub(mark)
}
