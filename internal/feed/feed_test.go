package feed

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysniper/polysniper/internal/platform/polymarket"
)

type recordedQuote struct {
	marketID string
	bid, ask float64
}

type fakeSink struct {
	mu     sync.Mutex
	quotes []recordedQuote
}

func (s *fakeSink) UpdatePrice(marketID string, bid, ask float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, recordedQuote{marketID, bid, ask})
	return nil
}

func (s *fakeSink) all() []recordedQuote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedQuote(nil), s.quotes...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFeed(sink *fakeSink) *Feed {
	// The client is never connected; handlers are invoked directly.
	return New(polymarket.NewWSClient("wss://example.invalid/ws/market"), sink, nil, discard())
}

func TestFeed_SnapshotRoutesToTrackedMarket(t *testing.T) {
	sink := &fakeSink{}
	f := newTestFeed(sink)

	f.mu.Lock()
	f.markets["asset-1"] = "mkt-1"
	f.mu.Unlock()

	f.handleQuote(polymarket.Quote{AssetID: "asset-1", BestBid: 0.91, BestAsk: 0.94, Timestamp: time.Now()})
	f.handleQuote(polymarket.Quote{AssetID: "asset-unknown", BestBid: 0.50, BestAsk: 0.52, Timestamp: time.Now()})

	quotes := sink.all()
	require.Len(t, quotes, 1, "untracked assets must not reach the sink")
	assert.Equal(t, recordedQuote{"mkt-1", 0.91, 0.94}, quotes[0])
}

func TestFeed_PriceChangeTightensTop(t *testing.T) {
	sink := &fakeSink{}
	f := newTestFeed(sink)

	f.mu.Lock()
	f.markets["asset-1"] = "mkt-1"
	f.mu.Unlock()

	f.handleQuote(polymarket.Quote{AssetID: "asset-1", BestBid: 0.90, BestAsk: 0.95, Timestamp: time.Now()})

	// A better bid moves the top; a worse one does not.
	f.handlePriceChange(polymarket.PriceChange{AssetID: "asset-1", Side: "BUY", Price: 0.92, Size: 100, Timestamp: time.Now()})
	f.handlePriceChange(polymarket.PriceChange{AssetID: "asset-1", Side: "BUY", Price: 0.85, Size: 100, Timestamp: time.Now()})

	// A tighter ask moves the top.
	f.handlePriceChange(polymarket.PriceChange{AssetID: "asset-1", Side: "SELL", Price: 0.93, Size: 40, Timestamp: time.Now()})

	quotes := sink.all()
	require.Len(t, quotes, 3)
	assert.Equal(t, recordedQuote{"mkt-1", 0.92, 0.95}, quotes[1])
	assert.Equal(t, recordedQuote{"mkt-1", 0.92, 0.93}, quotes[2])
}

func TestBookTable_RemovalDoesNotWidenTop(t *testing.T) {
	b := newBookTable()
	b.setSnapshot("a", 0.90, 0.95, time.Now())

	// Size zero means the level disappeared; the next best level is unknown
	// until the following snapshot, so the top stays put.
	_, _, moved := b.applyChange("a", "BUY", 0.90, 0, time.Now())
	assert.False(t, moved)
}
