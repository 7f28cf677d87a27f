package feed

import (
	"sync"
	"time"
)

// top is the tracked top of book for one asset.
type top struct {
	bid, ask float64
	at       time.Time
}

// bookTable maintains the best bid/ask per asset. Full snapshots are
// authoritative; incremental changes can only tighten the top between
// snapshots, because a single-level removal does not reveal the next best
// level. The CLOB re-sends snapshots regularly, so a widened book corrects
// itself within one snapshot interval.
type bookTable struct {
	mu   sync.Mutex
	tops map[string]top
}

func newBookTable() *bookTable {
	return &bookTable{tops: make(map[string]top)}
}

// setSnapshot replaces the top of book for an asset.
func (b *bookTable) setSnapshot(assetID string, bid, ask float64, at time.Time) (float64, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tops[assetID] = top{bid: bid, ask: ask, at: at}
	return bid, ask
}

// applyChange patches one side of the book. It returns the updated top and
// whether the change actually moved it.
func (b *bookTable) applyChange(assetID, side string, price, size float64, at time.Time) (bid, ask float64, moved bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tops[assetID]
	if !ok {
		// No snapshot yet; a lone level is still a usable top.
		t = top{}
	}

	if size > 0 {
		switch side {
		case "BUY":
			if price > t.bid {
				t.bid = price
				moved = true
			}
		case "SELL":
			if t.ask == 0 || price < t.ask {
				t.ask = price
				moved = true
			}
		}
	}

	if moved {
		t.at = at
		b.tops[assetID] = t
	}
	return t.bid, t.ask, moved
}

// drop forgets an asset.
func (b *bookTable) drop(assetID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tops, assetID)
}
