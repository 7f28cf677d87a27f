package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polysniper/polysniper/internal/domain"
)

// AuditStore implements domain.AuditSink using PostgreSQL. Every lifecycle
// transition, order attempt, and recycle event lands here append-only; the
// trading path never reads back.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

var _ domain.AuditSink = (*AuditStore)(nil)

// RecordTransition appends one lifecycle transition.
func (s *AuditStore) RecordTransition(ctx context.Context, marketID string, tr domain.Transition) error {
	const query = `
		INSERT INTO market_transitions (market_id, from_state, to_state, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query, marketID, string(tr.From), string(tr.To), tr.Reason, tr.At)
	if err != nil {
		return fmt.Errorf("postgres: record transition %s: %w", marketID, err)
	}
	return nil
}

// RecordOrder appends one order attempt with its outcome. The client ID is
// the primary key, so a replayed attempt upserts rather than duplicating.
func (s *AuditStore) RecordOrder(ctx context.Context, marketID string, order domain.PreparedOrder, result domain.OrderResult) error {
	const query = `
		INSERT INTO order_attempts (
			client_id, market_id, token_id, side, price, size, strategy,
			success, order_id, message, filled_price, fee_usd, latency_ms, prepared_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (client_id) DO UPDATE SET
			success = EXCLUDED.success,
			order_id = EXCLUDED.order_id,
			message = EXCLUDED.message,
			filled_price = EXCLUDED.filled_price,
			fee_usd = EXCLUDED.fee_usd,
			latency_ms = EXCLUDED.latency_ms`
	_, err := s.pool.Exec(ctx, query,
		order.ClientID, marketID, order.TokenID, string(order.Side),
		order.Price(), order.Size(), order.Strategy,
		result.Success, result.OrderID, result.Message,
		result.FilledPrice, result.FeeUSD, result.Latency.Milliseconds(),
		order.PreparedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record order %s: %w", order.ClientID, err)
	}
	return nil
}

// RecordRecycle appends one capital recycle event. Queued events are written
// once and completed in place when the recycler processes them.
func (s *AuditStore) RecordRecycle(ctx context.Context, event domain.RecycleEvent) error {
	const query = `
		INSERT INTO recycle_events (id, market_id, amount, pnl, resolved_at, queued_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			completed_at = EXCLUDED.completed_at`
	_, err := s.pool.Exec(ctx, query,
		event.ID, event.MarketID, event.Amount, event.PnL,
		event.ResolvedAt, event.QueuedAt, event.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record recycle %s: %w", event.ID, err)
	}
	return nil
}

// ListTransitions returns the most recent transitions for a market,
// newest first. Used by the operator API.
func (s *AuditStore) ListTransitions(ctx context.Context, marketID string, limit int) ([]domain.Transition, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT from_state, to_state, reason, occurred_at
		FROM market_transitions
		WHERE market_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transitions %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var tr domain.Transition
		var from, to string
		if err := rows.Scan(&from, &to, &tr.Reason, &tr.At); err != nil {
			return nil, fmt.Errorf("postgres: scan transition: %w", err)
		}
		tr.From = domain.MarketState(from)
		tr.To = domain.MarketState(to)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transitions rows: %w", err)
	}
	return out, nil
}
