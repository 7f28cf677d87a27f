package market

import (
	"container/heap"
	"sync"
	"time"
)

// entry is one heap slot. seq disambiguates slots for the same market after a
// re-push: only the slot whose seq matches the validity index is live.
type entry struct {
	id     string
	expiry time.Time
	order  uint64 // insertion order, breaks expiry ties
	seq    uint64
}

// entryHeap is a min-heap on expiry (soonest first), insertion order on ties.
// Manipulated through container/heap (Init, Push, Pop).
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].expiry.Equal(h[j].expiry) {
		return h[i].order < h[j].order
	}
	return h[i].expiry.Before(h[j].expiry)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// ExpiryQueue is a priority queue over tracked markets keyed by resolution
// time, soonest first. Removal and re-prioritization use lazy deletion: the
// old heap slot is invalidated in the side index rather than physically
// deleted, and stale slots are skipped and discarded when a pop or peek
// reaches them. Push/pop are O(log n); logical removal is O(1).
type ExpiryQueue struct {
	mu      sync.Mutex
	heap    entryHeap
	live    map[string]uint64 // id -> seq of the one live slot
	nextSeq uint64
	nextOrd uint64
}

// NewExpiryQueue creates an empty queue.
func NewExpiryQueue() *ExpiryQueue {
	return &ExpiryQueue{live: make(map[string]uint64)}
}

// Push inserts a market keyed by its expiry. Pushing an ID that is already
// queued re-prioritizes it: the previous slot is invalidated and a new one is
// pushed.
func (q *ExpiryQueue) Push(id string, expiry time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	q.nextOrd++
	q.live[id] = q.nextSeq
	heap.Push(&q.heap, entry{id: id, expiry: expiry, order: q.nextOrd, seq: q.nextSeq})
}

// Pop removes and returns the ID with the soonest expiry. ok is false when the
// queue holds no live entries.
func (q *ExpiryQueue) Pop() (id string, expiry time.Time, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() > 0 {
		e := heap.Pop(&q.heap).(entry)
		if q.live[e.id] != e.seq {
			continue // stale slot, discard
		}
		delete(q.live, e.id)
		return e.id, e.expiry, true
	}
	return "", time.Time{}, false
}

// Peek returns the ID with the soonest expiry without removing it. Stale slots
// encountered on the way are compacted away.
func (q *ExpiryQueue) Peek() (id string, expiry time.Time, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() > 0 {
		e := q.heap[0]
		if q.live[e.id] == e.seq {
			return e.id, e.expiry, true
		}
		heap.Pop(&q.heap)
	}
	return "", time.Time{}, false
}

// Remove logically deletes an ID from the queue. Removing an ID that is not
// queued is a no-op.
func (q *ExpiryQueue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.live, id)
}

// Len returns the number of live entries.
func (q *ExpiryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

// IDs returns the live IDs ordered by expiry priority.
func (q *ExpiryQueue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Sort a copy of the live entries rather than draining the heap.
	entries := make(entryHeap, 0, len(q.live))
	for _, e := range q.heap {
		if q.live[e.id] == e.seq {
			entries = append(entries, e)
		}
	}
	heap.Init(&entries)

	out := make([]string, 0, len(entries))
	for entries.Len() > 0 {
		out = append(out, heap.Pop(&entries).(entry).id)
	}
	return out
}

// Stats reports live versus stale heap slots, for debugging.
func (q *ExpiryQueue) Stats() (live, stale int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live), q.heap.Len() - len(q.live)
}
