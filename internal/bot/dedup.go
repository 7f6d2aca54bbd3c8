package bot

import (
	"sync"
	"time"
)

// DedupWindow is how long a delivered message ID is remembered. WhatsApp
// redelivers webhooks it did not see acknowledged for a while.
const DedupWindow = 10 * time.Minute

type dedup struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newDedup(window time.Duration, now func() time.Time) *dedup {
	return &dedup{seen: make(map[string]time.Time), window: window, now: now}
}

// Seen records id and reports whether it was already recorded inside the
// window. Empty IDs are never duplicates.
func (d *dedup) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.window {
		return true
	}
	d.seen[id] = now
	return false
}

// Sweep forgets IDs older than the window and returns how many were dropped.
func (d *dedup) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.window)
	removed := 0
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

func (d *dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
