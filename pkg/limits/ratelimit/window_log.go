package ratelimit

import "time"

// WindowLog holds the timestamps of accepted requests for one key.
//
// # Algorithm
//
// Record appends whatever the caller measured as now; entries may arrive out
// of order from concurrent callers. Evict scans the whole log and drops every
// entry older than the window start, so ordering never matters. Count does not
// evict: callers evict and count inside one critical section.
//
// # Thread Safety
//
// WindowLog is not safe for concurrent use. LocalLimiter guards each log with
// the mutex of its key.
type WindowLog struct {
	entries []time.Time
}

// Evict removes every entry strictly before windowStart and returns how many
// were removed.
func (w *WindowLog) Evict(windowStart time.Time) int {
	kept := w.entries[:0]
	for _, ts := range w.entries {
		if !ts.Before(windowStart) {
			kept = append(kept, ts)
		}
	}
	removed := len(w.entries) - len(kept)

	// Clear the tail so evicted times do not pin the backing array.
	clear(w.entries[len(kept):])
	w.entries = kept

	return removed
}

// Count returns the number of entries currently held.
func (w *WindowLog) Count() int {
	return len(w.entries)
}

// Record appends an accepted request.
func (w *WindowLog) Record(ts time.Time) {
	w.entries = append(w.entries, ts)
}

// Oldest returns the earliest entry, if any.
func (w *WindowLog) Oldest() (time.Time, bool) {
	if len(w.entries) == 0 {
		return time.Time{}, false
	}
	oldest := w.entries[0]
	for _, ts := range w.entries[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest, true
}

// Timestamps returns a copy of the entries.
func (w *WindowLog) Timestamps() []time.Time {
	out := make([]time.Time, len(w.entries))
	copy(out, w.entries)
	return out
}
