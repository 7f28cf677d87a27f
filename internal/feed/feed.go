package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/polysniper/polysniper/internal/domain"
	"github.com/polysniper/polysniper/internal/platform/polymarket"
)

// QuoteSink receives top-of-book updates keyed by market ID. It is satisfied
// by the scheduler.
type QuoteSink interface {
	UpdatePrice(marketID string, bid, ask float64) error
}

// Feed bridges the Polymarket CLOB WebSocket to the scheduler. It tracks
// which asset belongs to which market, maintains the top of book per asset,
// and pushes every movement into the sink. When a price cache is configured
// the same quotes are mirrored there for operator tooling.
type Feed struct {
	ws     *polymarket.WSClient
	sink   QuoteSink
	cache  domain.PriceCache // optional
	logger *slog.Logger

	books *bookTable

	mu      sync.RWMutex
	markets map[string]string // assetID -> marketID
}

// New creates a Feed over the given WebSocket client.
func New(ws *polymarket.WSClient, sink QuoteSink, cache domain.PriceCache, logger *slog.Logger) *Feed {
	f := &Feed{
		ws:      ws,
		sink:    sink,
		cache:   cache,
		logger:  logger.With(slog.String("component", "feed")),
		books:   newBookTable(),
		markets: make(map[string]string),
	}

	ws.OnQuote(f.handleQuote)
	ws.OnPriceChange(f.handlePriceChange)

	return f
}

// Run connects the WebSocket and blocks until the context is cancelled.
// Reconnection is handled inside the client; Run only owns setup and
// teardown.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	f.logger.Info("feed connected")

	<-ctx.Done()
	_ = f.ws.Close()
	f.logger.Info("feed stopped")
	return ctx.Err()
}

// Track subscribes to book data for a market's asset and routes its quotes
// to the sink under the market ID.
func (f *Feed) Track(ctx context.Context, assetID, marketID string) error {
	f.mu.Lock()
	f.markets[assetID] = marketID
	f.mu.Unlock()

	if err := f.ws.Subscribe(ctx, []string{assetID}); err != nil {
		f.mu.Lock()
		delete(f.markets, assetID)
		f.mu.Unlock()
		return err
	}

	f.logger.Debug("tracking asset",
		slog.String("asset_id", assetID),
		slog.String("market_id", marketID),
	)
	return nil
}

// Untrack stops streaming for an asset and forgets its book.
func (f *Feed) Untrack(ctx context.Context, assetID string) {
	f.mu.Lock()
	delete(f.markets, assetID)
	f.mu.Unlock()
	f.books.drop(assetID)

	if err := f.ws.Unsubscribe(ctx, []string{assetID}); err != nil {
		f.logger.Debug("unsubscribe failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
	}
}

func (f *Feed) handleQuote(q polymarket.Quote) {
	bid, ask := f.books.setSnapshot(q.AssetID, q.BestBid, q.BestAsk, q.Timestamp)
	f.publish(q.AssetID, bid, ask, q.Timestamp)
}

func (f *Feed) handlePriceChange(pc polymarket.PriceChange) {
	bid, ask, moved := f.books.applyChange(pc.AssetID, pc.Side, pc.Price, pc.Size, pc.Timestamp)
	if !moved {
		return
	}
	f.publish(pc.AssetID, bid, ask, pc.Timestamp)
}

func (f *Feed) publish(assetID string, bid, ask float64, ts time.Time) {
	f.mu.RLock()
	marketID, tracked := f.markets[assetID]
	f.mu.RUnlock()
	if !tracked {
		return
	}

	if err := f.sink.UpdatePrice(marketID, bid, ask); err != nil {
		f.logger.Debug("price update dropped",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	if f.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := f.cache.SetPrice(ctx, assetID, bid, ask, ts); err != nil {
			f.logger.Debug("price cache write failed",
				slog.String("asset_id", assetID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}
