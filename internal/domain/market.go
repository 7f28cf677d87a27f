package domain

import "time"

// MarketState is the lifecycle state of a tracked market. The set is closed;
// transitions between states are validated by the market state machine.
type MarketState string

const (
	StateDiscovered  MarketState = "DISCOVERED"
	StateWatching    MarketState = "WATCHING"
	StateEligible    MarketState = "ELIGIBLE"
	StateExecuting   MarketState = "EXECUTING"
	StateReconciling MarketState = "RECONCILING"
	StateDone        MarketState = "DONE" // terminal
	StateOnHold      MarketState = "ON_HOLD"
)

// Terminal reports whether the state admits no further transitions.
func (s MarketState) Terminal() bool {
	return s == StateDone
}

// Transition is one entry in a market's ordered transition log.
type Transition struct {
	At     time.Time
	From   MarketState
	To     MarketState
	Reason string
}

// Market is one watched time-bounded contract. Instances are owned exclusively
// by the market state machine; every other component refers to a market by ID
// and receives value copies.
type Market struct {
	ID           string
	Question     string
	TokenID      string // ERC-1155 token ID of the outcome being bought
	ConditionID  string
	Combined     bool // combined-outcome (neg-risk) market
	ResolutionAt time.Time
	LiquidityUSD float64 // reported book liquidity at discovery time
	State        MarketState

	BestBid     float64
	BestAsk     float64
	LastPriceAt time.Time

	AllocatedUSD float64
	OrdersPlaced int
	RealizedPnL  float64
	Resolved     bool // resolution observed and P&L recorded
	Failures     int

	CreatedAt   time.Time
	Transitions []Transition
}

// TimeToExpiry returns the remaining time before resolution, negative once the
// market has expired.
func (m Market) TimeToExpiry(now time.Time) time.Duration {
	return m.ResolutionAt.Sub(now)
}

// FeedFresh reports whether the last price update is within maxAge of now.
// A market that has never received a price update is never fresh.
func (m Market) FeedFresh(now time.Time, maxAge time.Duration) bool {
	if m.LastPriceAt.IsZero() {
		return false
	}
	return now.Sub(m.LastPriceAt) <= maxAge
}

// Spread returns the current bid/ask spread, or 0 when either side is unset.
func (m Market) Spread() float64 {
	if m.BestBid <= 0 || m.BestAsk <= 0 {
		return 0
	}
	return m.BestAsk - m.BestBid
}
