package trading

import (
	"sync"
	"time"
)

// CandleClock reports the time of the latest candle processed. It lets a
// replayed feed drive daily counters, cooldowns and fills as if live.
type CandleClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewCandleClock starts the clock at start.
func NewCandleClock(start time.Time) *CandleClock {
	return &CandleClock{now: start}
}

// Now returns the current candle time.
func (c *CandleClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock to t. It never moves backwards.
func (c *CandleClock) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
