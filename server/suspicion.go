package server

import (
	"sync"
	"time"
)

// suspicionMonitor counts failed verifications per source over a sliding
// window. Exactly-at-threshold triggers; successes never contribute.
type suspicionMonitor struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	failures  map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
}

func newSuspicionMonitor(threshold int, window time.Duration) *suspicionMonitor {
	return &suspicionMonitor{
		threshold: threshold,
		window:    window,
		failures:  map[string][]time.Time{},
		now:       time.Now,
	}
}

// record adds one failure for key and reports whether the count within
// the window has reached the threshold.
func (m *suspicionMonitor) record(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	// once per window, drop keys whose sources have gone quiet so the
	// map stays bounded by the set of recently-failing sources
	if now.Sub(m.lastSweep) >= m.window {
		m.sweepLocked(cutoff)
		m.lastSweep = now
	}

	kept := m.failures[key][:0]
	for _, t := range m.failures[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	m.failures[key] = kept

	return len(kept) >= m.threshold
}

func (m *suspicionMonitor) sweepLocked(cutoff time.Time) {
	for key, times := range m.failures {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(m.failures, key)
		} else {
			m.failures[key] = kept
		}
	}
}
