package domain

import "time"

// AllocationCode classifies the outcome of an allocation request. Rejections
// are expected control flow, not errors.
type AllocationCode string

const (
	AllocSuccess          AllocationCode = "SUCCESS"
	AllocInvalidAmount    AllocationCode = "INVALID_AMOUNT"
	AllocAlreadyAllocated AllocationCode = "ALREADY_ALLOCATED"
	AllocMarketLimit      AllocationCode = "MARKET_LIMIT_EXCEEDED"
	AllocTotalLimit       AllocationCode = "TOTAL_LIMIT_EXCEEDED"
)

// Allocation is one active capital reservation. At most one exists per market;
// it lives from grant until the recycler releases it.
type Allocation struct {
	ID       string
	MarketID string
	Amount   float64
	Strategy string
	// Splits holds the individual order sizes when the grant was divided for
	// execution. Empty means a single full-size order.
	Splits    []float64
	CreatedAt time.Time
}

// AllocationResult is the typed outcome of a capital request.
type AllocationResult struct {
	Code    AllocationCode
	Granted float64
	Splits  []float64
	Reason  string
}

// OK reports whether capital was granted.
func (r AllocationResult) OK() bool {
	return r.Code == AllocSuccess
}

// RecycleEvent is a queued-or-completed return of allocated capital to the
// pool. Amount is filled at processing time from the released allocation.
type RecycleEvent struct {
	ID          string
	MarketID    string
	Amount      float64
	PnL         float64
	ResolvedAt  time.Time
	QueuedAt    time.Time
	CompletedAt *time.Time
}

// Completed reports whether the event has been processed.
func (e RecycleEvent) Completed() bool {
	return e.CompletedAt != nil
}
