package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant returned by a fresh Clock.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Clock is a deterministic time source for tests. Every call to Now
// advances by a fixed step, so recorded timestamps are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu   sync.Mutex
	seq  int64
	step time.Duration
}

// NewClock creates a clock whose first Now returns Epoch.
// A non-positive step defaults to one second.
func NewClock(step time.Duration) *Clock {
	if step <= 0 {
		step = time.Second
	}
	return &Clock{step: step}
}

// Now returns Epoch plus step times the number of previous calls.
func (c *Clock) Now() time.Time {
	return Epoch.Add(time.Duration(c.Next()-1) * c.step)
}

// Next increments and returns the tick counter. The first call returns 1.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the tick counter without incrementing.
func (c *Clock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to Epoch.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
