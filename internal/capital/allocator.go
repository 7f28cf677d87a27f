// Package capital turns admitted trade intents into concrete reserved
// amounts, splits oversized grants into multiple orders, and returns funds to
// the pool after a settlement delay.
package capital

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polysniper/polysniper/internal/domain"
)

// AllocatorConfig holds the capital-limit and order-splitting parameters.
type AllocatorConfig struct {
	// MaxPerMarketPct caps one market's allocation at this % of bankroll.
	MaxPerMarketPct float64
	// MaxPerMarketUSD is the absolute per-market cap.
	MaxPerMarketUSD float64
	// MaxTotalPct caps total allocated capital at this % of bankroll.
	MaxTotalPct float64
	// SplitThresholdUSD is the grant size above which orders are divided.
	SplitThresholdUSD float64
	// SplitCount is how many equal orders a split produces.
	SplitCount int
}

// Allocator holds the bankroll and at most one active Allocation per market.
// Grants are clamped to the binding minimum of the per-market %, the absolute
// cap, the total-exposure headroom, and the uncommitted capital remaining.
type Allocator struct {
	mu          sync.Mutex
	cfg         AllocatorConfig
	bankroll    float64
	allocations map[string]domain.Allocation
	logger      *slog.Logger
}

// NewAllocator creates an Allocator with the given starting bankroll.
func NewAllocator(cfg AllocatorConfig, bankroll float64, logger *slog.Logger) *Allocator {
	return &Allocator{
		cfg:         cfg,
		bankroll:    bankroll,
		allocations: make(map[string]domain.Allocation),
		logger:      logger.With(slog.String("component", "allocator")),
	}
}

// RequestAllocation reserves capital for a market. The grant is
// min(requested, max-allocatable); a zero max-allocatable is reported as the
// limit that bound it. Rejections are typed results, not errors.
func (a *Allocator) RequestAllocation(marketID string, requested float64, strategy string) domain.AllocationResult {
	if requested <= 0 {
		return domain.AllocationResult{Code: domain.AllocInvalidAmount, Reason: "requested amount must be positive"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.allocations[marketID]; exists {
		return domain.AllocationResult{Code: domain.AllocAlreadyAllocated, Reason: "market already has an active allocation"}
	}

	perMarket := math.Min(a.cfg.MaxPerMarketPct/100*a.bankroll, a.cfg.MaxPerMarketUSD)
	totalCap := a.cfg.MaxTotalPct / 100 * a.bankroll
	allocated := a.totalLocked()
	headroom := math.Min(totalCap-allocated, a.bankroll-allocated)

	maxAllocatable := math.Min(perMarket, headroom)
	if maxAllocatable <= 0 {
		if headroom <= 0 {
			return domain.AllocationResult{Code: domain.AllocTotalLimit, Reason: "total exposure limit reached"}
		}
		return domain.AllocationResult{Code: domain.AllocMarketLimit, Reason: "per-market limit reached"}
	}

	granted := round2(math.Min(requested, maxAllocatable))
	splits := a.split(granted)

	a.allocations[marketID] = domain.Allocation{
		ID:        uuid.New().String(),
		MarketID:  marketID,
		Amount:    granted,
		Strategy:  strategy,
		Splits:    splits,
		CreatedAt: time.Now().UTC(),
	}

	a.logger.Info("capital allocated",
		slog.String("market_id", marketID),
		slog.Float64("requested", requested),
		slog.Float64("granted", granted),
		slog.Int("splits", len(splits)),
	)
	return domain.AllocationResult{Code: domain.AllocSuccess, Granted: granted, Splits: splits}
}

// split divides a grant above the threshold into SplitCount equal orders,
// folding the rounding remainder into the last split so the parts sum exactly
// to the grant. Grants at or below the threshold stay whole.
func (a *Allocator) split(granted float64) []float64 {
	if granted <= a.cfg.SplitThresholdUSD || a.cfg.SplitCount <= 1 {
		return nil
	}

	per := round2(granted / float64(a.cfg.SplitCount))
	splits := make([]float64, a.cfg.SplitCount)
	var used float64
	for i := 0; i < a.cfg.SplitCount-1; i++ {
		splits[i] = per
		used += per
	}
	splits[a.cfg.SplitCount-1] = round2(granted - used)
	return splits
}

// ReleaseAllocation removes the market's allocation, applies pnl to the
// bankroll, and returns the released amount. Releasing a market with no
// allocation returns 0 and no error.
func (a *Allocator) ReleaseAllocation(marketID string, pnl float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, ok := a.allocations[marketID]
	if !ok {
		return 0
	}
	delete(a.allocations, marketID)
	a.bankroll += pnl

	a.logger.Info("capital released",
		slog.String("market_id", marketID),
		slog.Float64("amount", alloc.Amount),
		slog.Float64("pnl", pnl),
	)
	return alloc.Amount
}

// Allocation returns the market's active allocation, if any.
func (a *Allocator) Allocation(marketID string) (domain.Allocation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	alloc, ok := a.allocations[marketID]
	return alloc, ok
}

// TotalAllocated returns the sum of all active allocations. Funds queued for
// recycling remain allocated until the recycler releases them, so this figure
// already covers the settlement delay.
func (a *Allocator) TotalAllocated() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalLocked()
}

// AvailableCapital returns bankroll minus everything still reserved,
// including reservations waiting out the recycle delay.
func (a *Allocator) AvailableCapital() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bankroll - a.totalLocked()
}

// Bankroll returns the current bankroll figure.
func (a *Allocator) Bankroll() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bankroll
}

// UpdateBankroll replaces the bankroll wholesale (wallet reconciliation).
func (a *Allocator) UpdateBankroll(bankroll float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bankroll = bankroll
}

func (a *Allocator) totalLocked() float64 {
	var total float64
	for _, alloc := range a.allocations {
		total += alloc.Amount
	}
	return total
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
