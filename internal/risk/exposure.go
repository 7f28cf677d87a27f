package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ExposureConfig holds the capital-limit parameters.
type ExposureConfig struct {
	// MaxPerMarketUSD is the absolute per-market cap.
	MaxPerMarketUSD float64
	// MaxPerMarketPct caps one market at this % of bankroll.
	MaxPerMarketPct float64
	// MaxTotalPct caps total committed capital at this % of bankroll.
	MaxTotalPct float64
}

// ExposureManager tracks per-market committed capital against the configured
// limits. Correctness under concurrency comes from Allocate re-validating
// inside the lock; CanAllocate and MaxAllocation are advisory snapshots.
type ExposureManager struct {
	mu        sync.Mutex
	cfg       ExposureConfig
	bankroll  float64
	exposures map[string]float64
	logger    *slog.Logger
}

// NewExposureManager creates a manager with the given starting bankroll.
func NewExposureManager(cfg ExposureConfig, bankroll float64, logger *slog.Logger) *ExposureManager {
	return &ExposureManager{
		cfg:       cfg,
		bankroll:  bankroll,
		exposures: make(map[string]float64),
		logger:    logger.With(slog.String("component", "exposure")),
	}
}

// CanAllocate checks whether amount can be committed to the market, returning
// the first violated constraint as the reason. Checks run in order: per-market
// absolute cap, per-market % cap, total % cap, remaining uncommitted capital.
func (e *ExposureManager) CanAllocate(marketID string, amount float64) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canAllocateLocked(marketID, amount)
}

func (e *ExposureManager) canAllocateLocked(marketID string, amount float64) (bool, string) {
	current := e.exposures[marketID]

	if current+amount > e.cfg.MaxPerMarketUSD {
		return false, fmt.Sprintf("per-market cap $%.2f exceeded", e.cfg.MaxPerMarketUSD)
	}
	marketCap := e.cfg.MaxPerMarketPct / 100 * e.bankroll
	if current+amount > marketCap {
		return false, fmt.Sprintf("per-market %.1f%% of bankroll ($%.2f) exceeded", e.cfg.MaxPerMarketPct, marketCap)
	}
	totalCap := e.cfg.MaxTotalPct / 100 * e.bankroll
	if e.totalLocked()+amount > totalCap {
		return false, fmt.Sprintf("total %.1f%% of bankroll ($%.2f) exceeded", e.cfg.MaxTotalPct, totalCap)
	}
	if e.totalLocked()+amount > e.bankroll {
		return false, "insufficient uncommitted capital"
	}
	return true, ""
}

// Allocate re-validates the limits and commits the amount. The advisory
// CanAllocate result may be stale by the time a caller acts on it; this is
// the authoritative check.
func (e *ExposureManager) Allocate(marketID string, amount float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ok, reason := e.canAllocateLocked(marketID, amount); !ok {
		return fmt.Errorf("exposure: allocate %s $%.2f: %s", marketID, amount, reason)
	}
	e.exposures[marketID] += amount
	return nil
}

// Release subtracts amount (full or partial) from the market's exposure and
// drops the entry at zero. Releasing more than committed clamps to zero.
func (e *ExposureManager) Release(marketID string, amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.exposures[marketID] - amount
	if remaining <= 0 {
		delete(e.exposures, marketID)
		return
	}
	e.exposures[marketID] = remaining
}

// RecordPnL adjusts the bankroll by realized profit or loss.
func (e *ExposureManager) RecordPnL(pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bankroll += pnl
}

// UpdateBankroll replaces the bankroll wholesale, used by periodic wallet
// reconciliation.
func (e *ExposureManager) UpdateBankroll(bankroll float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bankroll = bankroll
	e.logger.Info("bankroll updated", slog.Float64("bankroll", bankroll))
}

// Bankroll returns the current bankroll figure.
func (e *ExposureManager) Bankroll() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bankroll
}

// Exposure returns the amount currently committed to the market.
func (e *ExposureManager) Exposure(marketID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exposures[marketID]
}

// TotalExposure returns the sum of all per-market exposures.
func (e *ExposureManager) TotalExposure() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLocked()
}

func (e *ExposureManager) totalLocked() float64 {
	var total float64
	for _, amt := range e.exposures {
		total += amt
	}
	return total
}

// MaxAllocation returns the binding minimum of all four constraints for the
// market as an advisory snapshot. Never negative.
func (e *ExposureManager) MaxAllocation(marketID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.exposures[marketID]
	total := e.totalLocked()

	headroom := math.Min(
		e.cfg.MaxPerMarketUSD-current,
		e.cfg.MaxPerMarketPct/100*e.bankroll-current,
	)
	headroom = math.Min(headroom, e.cfg.MaxTotalPct/100*e.bankroll-total)
	headroom = math.Min(headroom, e.bankroll-total)
	return math.Max(headroom, 0)
}
