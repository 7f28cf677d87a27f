package risk

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/polysniper/polysniper/internal/domain"
)

// Manager is the facade composing the three risk gates into one admission
// check. It calls into each subsystem sequentially, entering and releasing
// each subsystem's lock in turn; it never holds two locks at once.
type Manager struct {
	switches *KillSwitchManager
	breakers *BreakerRegistry
	exposure *ExposureManager
	// maxFeedAge is the per-market freshness bound for the pre-execution
	// stale check, distinct from the session-wide stale_feed switch.
	maxFeedAge time.Duration
	logger     *slog.Logger
}

// NewManager wires the facade over the three gates.
func NewManager(switches *KillSwitchManager, breakers *BreakerRegistry, exposure *ExposureManager, maxFeedAge time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		switches:   switches,
		breakers:   breakers,
		exposure:   exposure,
		maxFeedAge: maxFeedAge,
		logger:     logger.With(slog.String("component", "risk_manager")),
	}
}

// PreExecutionCheck composes, in order: global halt check, the market's own
// feed-freshness check, the market's circuit breaker, and exposure headroom.
// It short-circuits on the first failed gate and returns a reason for every
// rejection.
func (m *Manager) PreExecutionCheck(mk domain.Market, amount float64, now time.Time) error {
	if m.switches.Halted() {
		active := m.switches.Active()
		return fmt.Errorf("%w: %s", domain.ErrTradingHalted, describeSwitches(active))
	}

	if !mk.FeedFresh(now, m.maxFeedAge) {
		return fmt.Errorf("market %s: feed stale for %s", mk.ID, now.Sub(mk.LastPriceAt).Truncate(time.Millisecond))
	}

	if !m.breakers.CanExecute(mk.ID, now) {
		return fmt.Errorf("market %s: %w", mk.ID, domain.ErrBreakerOpen)
	}

	if ok, reason := m.exposure.CanAllocate(mk.ID, amount); !ok {
		// The breaker admitted this attempt but it stops here, so the
		// HALF_OPEN trial it consumed is handed back.
		m.breakers.ReturnTrial(mk.ID)
		return fmt.Errorf("market %s: %s", mk.ID, reason)
	}

	return nil
}

// PostExecutionRecord updates every outcome-dependent gate in one call so no
// path is forgotten: the rpc_lag switch from the observed latency, the
// market's breaker, the session order count, and (on success) realized P&L
// into both the exposure bankroll and the daily-loss total.
func (m *Manager) PostExecutionRecord(marketID string, result domain.OrderResult, pnl float64, now time.Time) {
	m.switches.CheckRPCLatency(result.Latency)

	if result.Success {
		m.breakers.RecordSuccess(marketID)
		m.switches.RecordOrder()
		if pnl != 0 {
			m.exposure.RecordPnL(pnl)
			m.switches.UpdateDailyPnL(pnl)
		}
		return
	}

	m.breakers.RecordFailure(marketID, now)
	m.logger.Warn("execution failure recorded",
		slog.String("market_id", marketID),
		slog.String("message", result.Message),
	)
}

// Switches exposes the kill-switch manager for status queries and manual
// control.
func (m *Manager) Switches() *KillSwitchManager { return m.switches }

// Breakers exposes the breaker registry.
func (m *Manager) Breakers() *BreakerRegistry { return m.breakers }

// Exposure exposes the exposure manager.
func (m *Manager) Exposure() *ExposureManager { return m.exposure }

func describeSwitches(active []ActiveSwitch) string {
	out := ""
	for i, sw := range active {
		if i > 0 {
			out += "; "
		}
		out += string(sw.Type) + ": " + sw.Reason
	}
	return out
}
