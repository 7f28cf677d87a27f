package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polysniper/polysniper/internal/domain"
)

// Venue is the slice of the CLOB client the executor needs. It is satisfied
// by *polymarket.ClobClient.
type Venue interface {
	PostOrder(ctx context.Context, order domain.PreparedOrder) (domain.OrderResult, error)
}

// Executor submits prepared orders to the venue. It deduplicates by client
// ID so a repeated hand-off from the scheduler cannot double-submit, and it
// never retries: by the time an order reaches the executor the market is
// seconds from resolution and a stale fill is worse than no fill.
type Executor struct {
	venue  Venue
	dedup  *Dedup
	logger *slog.Logger
}

// New creates an Executor submitting through the given venue client.
func New(venue Venue, logger *slog.Logger) *Executor {
	return &Executor{
		venue:  venue,
		dedup:  NewDedup(2 * time.Minute),
		logger: logger.With(slog.String("component", "executor")),
	}
}

var _ domain.OrderExecutor = (*Executor)(nil)

// Execute signs and submits a single prepared order. Duplicate client IDs
// are rejected without touching the network.
func (e *Executor) Execute(ctx context.Context, order domain.PreparedOrder) (domain.OrderResult, error) {
	log := e.logger.With(
		slog.String("client_id", order.ClientID),
		slog.String("market_id", order.MarketID),
		slog.String("token", order.TokenID),
		slog.String("side", string(order.Side)),
		slog.Float64("price", order.Price()),
		slog.Float64("size", order.Size()),
	)

	if order.ClientID == "" {
		return domain.OrderResult{}, fmt.Errorf("executor: %w: client ID required", domain.ErrInvalidOrder)
	}
	if e.dedup.Seen(order.ClientID) {
		log.Warn("duplicate order suppressed")
		return domain.OrderResult{Success: false, Message: "duplicate client ID"}, nil
	}

	result, err := e.venue.PostOrder(ctx, order)
	if err != nil {
		log.Error("order submission failed",
			slog.String("error", err.Error()),
			slog.Duration("latency", result.Latency),
		)
		return result, fmt.Errorf("executor: submit %s: %w", order.ClientID, err)
	}

	if !result.Success {
		log.Warn("order rejected",
			slog.String("message", result.Message),
			slog.Duration("latency", result.Latency),
		)
		return result, nil
	}

	log.Info("order filled",
		slog.String("order_id", result.OrderID),
		slog.Float64("filled_price", result.FilledPrice),
		slog.Duration("latency", result.Latency),
	)
	return result, nil
}
