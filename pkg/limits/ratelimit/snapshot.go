package ratelimit

import "time"

// KeySnapshot is the persisted form of one window log.
type KeySnapshot struct {
	Key        string      `json:"key"`
	Timestamps []time.Time `json:"timestamps"`
}

// Snapshot returns the live entries of every key, dropping keys whose window
// is empty. Timestamps lose their monotonic reading once persisted, so a
// restored log is compared on wall time.
func (l *LocalLimiter) Snapshot() []KeySnapshot {
	var out []KeySnapshot
	for _, key := range l.keys() {
		e := l.acquire(key, false)
		if e == nil {
			continue
		}
		e.log.Evict(l.clock.Now().Add(-l.cfg.Window))
		if e.log.Count() > 0 {
			out = append(out, KeySnapshot{Key: key, Timestamps: e.log.Timestamps()})
		}
		e.mu.Unlock()
	}
	return out
}

// Restore merges persisted logs into the limiter. Entries that already left
// the window are skipped, and a key never holds more than MaxRequests entries
// after a restore. It returns the number of entries restored.
func (l *LocalLimiter) Restore(snapshots []KeySnapshot) int {
	restored := 0
	windowStart := l.clock.Now().Add(-l.cfg.Window)

	for _, snap := range snapshots {
		if snap.Key == "" || l.cfg.MaxRequests == 0 {
			continue
		}

		e := l.acquire(snap.Key, true)
		e.log.Evict(windowStart)
		for _, ts := range snap.Timestamps {
			if ts.Before(windowStart) || e.log.Count() >= l.cfg.MaxRequests {
				continue
			}
			e.log.Record(ts)
			restored++
		}
		empty := e.log.Count() == 0
		if empty {
			l.removeLocked(snap.Key, e)
		}
		e.mu.Unlock()
	}

	return restored
}
