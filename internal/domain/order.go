package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PreparedOrder is the payload assembled during a market's preparation phase
// and handed to the executor when the execution phase opens. Prices and sizes
// are fixed-point (1e6 ticks/units) as on the CLOB wire.
type PreparedOrder struct {
	ClientID   string // UUID for dedup across retries
	MarketID   string
	TokenID    string
	Side       OrderSide
	PriceTicks int64 // price * 1e6
	SizeUnits  int64 // size  * 1e6
	// SplitUnits divides SizeUnits into multiple orders when set.
	SplitUnits []int64
	Strategy   string
	Combined   bool
	PreparedAt time.Time
}

// Price returns the display price from fixed-point ticks.
func (o PreparedOrder) Price() float64 {
	return float64(o.PriceTicks) / 1e6
}

// Size returns the display size from fixed-point units.
func (o PreparedOrder) Size() float64 {
	return float64(o.SizeUnits) / 1e6
}

// OrderResult is the executor's response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Message     string
	FilledPrice float64
	FeeUSD      float64
	Latency     time.Duration // round trip to the venue, feeds the rpc-lag switch
}

// OrderExecutor submits prepared orders to the venue. Implementations own all
// signing and submission semantics; the core never calls a network API
// directly.
type OrderExecutor interface {
	Execute(ctx context.Context, order PreparedOrder) (OrderResult, error)
}
