package ratelimit

import "sync"

// counters tracks admission outcomes under their own lock, independent of the
// per-key locks.
type counters struct {
	mu      sync.Mutex
	allowed int64
	denied  int64
}

func (c *counters) record(allowed bool) {
	c.mu.Lock()
	if allowed {
		c.allowed++
	} else {
		c.denied++
	}
	c.mu.Unlock()
}

func (c *counters) snapshot(activeKeys int) Metrics {
	c.mu.Lock()
	allowed, denied := c.allowed, c.denied
	c.mu.Unlock()

	total := allowed + denied
	var rate float64
	if total > 0 {
		rate = float64(denied) / float64(total) * 100
	}

	return Metrics{
		Allowed:         allowed,
		Denied:          denied,
		Total:           total,
		DenyRatePercent: rate,
		ActiveKeys:      activeKeys,
	}
}

func (c *counters) reset() {
	c.mu.Lock()
	c.allowed = 0
	c.denied = 0
	c.mu.Unlock()
}
