package domain

import (
	"context"
	"time"
)

// AuditSink receives a copy of every lifecycle event for out-of-process
// record keeping. Implementations must be fire-and-forget: the core logs and
// swallows sink errors, it never lets them reach trading state.
type AuditSink interface {
	RecordTransition(ctx context.Context, marketID string, tr Transition) error
	RecordOrder(ctx context.Context, marketID string, order PreparedOrder, result OrderResult) error
	RecordRecycle(ctx context.Context, event RecycleEvent) error
}

// PriceCache mirrors the freshest bid/ask per asset for operator tooling.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, bid, ask float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (bid, ask float64, ts time.Time, err error)
}

// LockManager provides distributed locking, used to keep a second live
// instance from trading the same session.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// FreedCapitalFunc is invoked by the capital recycler after funds return to
// the pool.
type FreedCapitalFunc func(marketID string, amount float64)
