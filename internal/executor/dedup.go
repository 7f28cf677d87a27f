package executor

import (
	"sync"
	"time"
)

// Dedup blocks an order client ID from being submitted more than once within
// a time-to-live window, so a scheduler hiccup cannot double-spend a slice.
// It is safe for concurrent use and garbage-collects itself lazily.
type Dedup struct {
	mu          sync.Mutex
	seen        map[string]time.Time // clientID -> first seen time
	ttl         time.Duration
	lastCleanup time.Time
}

// NewDedup creates a Dedup instance that considers a client ID a duplicate
// if it has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen:        make(map[string]time.Time),
		ttl:         ttl,
		lastCleanup: time.Now(),
	}
}

// Seen returns true if the clientID has been recorded within the TTL window.
// Otherwise it records the ID and returns false.
func (d *Dedup) Seen(clientID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if first, ok := d.seen[clientID]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[clientID] = now

	// Expired entries pile up only as fast as new orders arrive, so sweeping
	// on the insert path once per TTL is enough.
	if now.Sub(d.lastCleanup) >= d.ttl {
		for id, ts := range d.seen {
			if now.Sub(ts) >= d.ttl {
				delete(d.seen, id)
			}
		}
		d.lastCleanup = now
	}

	return false
}

// Len reports the number of tracked client IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
