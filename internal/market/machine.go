// Package market owns the per-market lifecycle state machine and the
// expiry-ordered priority queue over tracked markets.
package market

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polysniper/polysniper/internal/domain"
)

// validTransitions is the closed transition table. A transition is legal only
// if the target appears in the source's row. DONE has no row: it is terminal.
var validTransitions = map[domain.MarketState][]domain.MarketState{
	domain.StateDiscovered:  {domain.StateWatching, domain.StateOnHold, domain.StateDone},
	domain.StateWatching:    {domain.StateEligible, domain.StateOnHold, domain.StateDone},
	domain.StateEligible:    {domain.StateExecuting, domain.StateWatching, domain.StateOnHold, domain.StateDone},
	domain.StateExecuting:   {domain.StateReconciling, domain.StateOnHold, domain.StateDone},
	domain.StateReconciling: {domain.StateDone, domain.StateOnHold},
	domain.StateOnHold:      {domain.StateWatching, domain.StateReconciling, domain.StateDone},
}

// MachineConfig holds the thresholds driving the automatic sweep.
type MachineConfig struct {
	// EligibilityWindow is the time-to-expiry below which a watched market
	// becomes an execution candidate.
	EligibilityWindow time.Duration
	// MaxBuyPrice is the highest best-ask at which a market may become
	// eligible.
	MaxBuyPrice float64
	// StaleFeedAfter is the price-feed age past which a market is parked
	// ON_HOLD.
	StaleFeedAfter time.Duration
	// MaxFailures is the per-market failure count past which a market is
	// parked ON_HOLD.
	MaxFailures int
}

// Machine tracks the lifecycle of every watched market. All mutations
// serialize through one mutex; operations are O(1) so contention stays low
// even at large watchlist sizes.
type Machine struct {
	mu      sync.Mutex
	markets map[string]*domain.Market
	cfg     MachineConfig
	logger  *slog.Logger
	// observer, when set, is invoked for every recorded transition. It runs
	// under the machine lock and must not block or call back into the machine.
	observer func(marketID string, tr domain.Transition)
}

// NewMachine creates an empty Machine with the given sweep thresholds.
func NewMachine(cfg MachineConfig, logger *slog.Logger) *Machine {
	return &Machine{
		markets: make(map[string]*domain.Market),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "market_machine")),
	}
}

// SetObserver registers a transition observer. Call before the machine is
// shared across goroutines.
func (m *Machine) SetObserver(fn func(marketID string, tr domain.Transition)) {
	m.observer = fn
}

// Add starts tracking a market in DISCOVERED. It returns ErrMarketExists when
// the ID is already tracked.
func (m *Machine) Add(mk domain.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.markets[mk.ID]; ok {
		return fmt.Errorf("market %s: %w", mk.ID, domain.ErrMarketExists)
	}

	mk.State = domain.StateDiscovered
	if mk.CreatedAt.IsZero() {
		mk.CreatedAt = time.Now().UTC()
	}
	tr := domain.Transition{At: mk.CreatedAt, From: "", To: domain.StateDiscovered, Reason: "added"}
	mk.Transitions = append(mk.Transitions, tr)
	m.markets[mk.ID] = &mk
	if m.observer != nil {
		m.observer(mk.ID, tr)
	}

	m.logger.Debug("market added",
		slog.String("market_id", mk.ID),
		slog.Time("resolution_at", mk.ResolutionAt),
	)
	return nil
}

// Remove stops tracking a market. Removing an unknown ID is a no-op.
func (m *Machine) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markets, id)
}

// Get returns a copy of the market, or ErrNotFound.
func (m *Machine) Get(id string) (domain.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, ok := m.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	return snapshot(mk), nil
}

// Len returns the number of tracked markets.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markets)
}

// InState returns copies of all markets currently in the given state.
func (m *Machine) InState(state domain.MarketState) []domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Market
	for _, mk := range m.markets {
		if mk.State == state {
			out = append(out, snapshot(mk))
		}
	}
	return out
}

// All returns copies of every tracked market.
func (m *Machine) All() []domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Market, 0, len(m.markets))
	for _, mk := range m.markets {
		out = append(out, snapshot(mk))
	}
	return out
}

// Transition moves a market to a new state after validating against the
// transition table. Transitions out of DONE are rejected with
// ErrMarketTerminal.
func (m *Machine) Transition(id string, to domain.MarketState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, to, reason)
}

func (m *Machine) transitionLocked(id string, to domain.MarketState, reason string) error {
	mk, ok := m.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	if mk.State.Terminal() {
		return fmt.Errorf("market %s: %w", id, domain.ErrMarketTerminal)
	}
	if !allowed(mk.State, to) {
		return fmt.Errorf("market %s: %s -> %s: %w", id, mk.State, to, domain.ErrBadTransition)
	}

	from := mk.State
	mk.State = to
	tr := domain.Transition{At: time.Now().UTC(), From: from, To: to, Reason: reason}
	mk.Transitions = append(mk.Transitions, tr)
	if m.observer != nil {
		m.observer(id, tr)
	}

	m.logger.Debug("market transition",
		slog.String("market_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
	)
	return nil
}

func allowed(from, to domain.MarketState) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// UpdatePrice records the latest best bid/ask. A successful update resets the
// failure count and moves a DISCOVERED market to WATCHING. Updates are
// last-write-wins; the feed may deliver out of order and only freshness
// matters.
func (m *Machine) UpdatePrice(id string, bid, ask float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, ok := m.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	if mk.State.Terminal() {
		return nil
	}

	mk.BestBid = bid
	mk.BestAsk = ask
	mk.LastPriceAt = time.Now().UTC()
	mk.Failures = 0

	if mk.State == domain.StateDiscovered {
		return m.transitionLocked(id, domain.StateWatching, "first price update")
	}
	return nil
}

// MarkExecutionStarted records allocated capital and increments the order
// count for a market entering execution. The market must be ELIGIBLE.
func (m *Machine) MarkExecutionStarted(id string, allocated float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, ok := m.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	if mk.State != domain.StateEligible {
		return fmt.Errorf("market %s in %s: %w", id, mk.State, domain.ErrBadTransition)
	}

	mk.AllocatedUSD = allocated
	mk.OrdersPlaced++
	return m.transitionLocked(id, domain.StateExecuting, "execution started")
}

// MarkResolved records realized P&L and forces the market into RECONCILING.
func (m *Machine) MarkResolved(id string, pnl float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, ok := m.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	if mk.State.Terminal() {
		return fmt.Errorf("market %s: %w", id, domain.ErrMarketTerminal)
	}

	if mk.State != domain.StateReconciling {
		if err := m.transitionLocked(id, domain.StateReconciling, "resolution recorded"); err != nil {
			return err
		}
	}
	mk.RealizedPnL = pnl
	mk.Resolved = true
	return nil
}

// MarkDone finalizes a market. It must be RECONCILING.
func (m *Machine) MarkDone(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, ok := m.markets[id]
	if !ok {
		return fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	if mk.State != domain.StateReconciling {
		return fmt.Errorf("market %s in %s: %w", id, mk.State, domain.ErrBadTransition)
	}
	return m.transitionLocked(id, domain.StateDone, "reconciled")
}

// MarkFailure increments a market's failure counter and parks it ON_HOLD once
// the counter exceeds the configured threshold. It returns the new count.
func (m *Machine) MarkFailure(id string, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, ok := m.markets[id]
	if !ok {
		return 0, fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	if mk.State.Terminal() {
		return mk.Failures, nil
	}

	mk.Failures++
	if mk.Failures > m.cfg.MaxFailures && mk.State != domain.StateOnHold {
		if err := m.transitionLocked(id, domain.StateOnHold, "failure threshold: "+reason); err != nil {
			return mk.Failures, err
		}
	}
	return mk.Failures, nil
}

// Sweep applies the automatic transition rules to the given markets, in the
// order provided (callers pass IDs in expiry-priority order). Rules, in
// precedence order per market:
//
//  1. any non-terminal state -> ON_HOLD when the feed is stale or the failure
//     count exceeds the threshold
//  2. ON_HOLD -> WATCHING once the feed is fresh and failures are within the
//     threshold
//  3. DISCOVERED -> WATCHING is handled by UpdatePrice
//  4. WATCHING -> ELIGIBLE once time-to-expiry is inside the eligibility
//     window and best ask is at or below the max buy price
//  5. ELIGIBLE -> EXECUTING is driven by MarkExecutionStarted
//  6. EXECUTING -> RECONCILING once time-to-expiry reaches zero
//  7. RECONCILING -> DONE once P&L has been recorded (MarkResolved ran)
func (m *Machine) Sweep(now time.Time, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		mk, ok := m.markets[id]
		if !ok || mk.State.Terminal() {
			continue
		}

		// Rule 1: degrade on stale feed or excessive failures.
		if mk.State != domain.StateOnHold {
			if !mk.FeedFresh(now, m.cfg.StaleFeedAfter) {
				_ = m.transitionLocked(id, domain.StateOnHold, "stale feed")
				continue
			}
			if mk.Failures > m.cfg.MaxFailures {
				_ = m.transitionLocked(id, domain.StateOnHold, "failure threshold")
				continue
			}
		}

		switch mk.State {
		case domain.StateOnHold:
			// Rule 2: recover once healthy again.
			if mk.FeedFresh(now, m.cfg.StaleFeedAfter) && mk.Failures <= m.cfg.MaxFailures {
				_ = m.transitionLocked(id, domain.StateWatching, "recovered")
			}
		case domain.StateWatching:
			// Rule 4: promote by time and price.
			if mk.TimeToExpiry(now) < m.cfg.EligibilityWindow &&
				mk.BestAsk > 0 && mk.BestAsk <= m.cfg.MaxBuyPrice {
				_ = m.transitionLocked(id, domain.StateEligible, "inside eligibility window")
			}
		case domain.StateExecuting:
			// Rule 6: expiry reached.
			if mk.TimeToExpiry(now) <= 0 {
				_ = m.transitionLocked(id, domain.StateReconciling, "expired")
			}
		case domain.StateReconciling:
			// Rule 7: P&L recorded means resolution was observed.
			if mk.Resolved {
				_ = m.transitionLocked(id, domain.StateDone, "pnl recorded")
			}
		}
	}
}

// CleanupDone removes DONE markets whose final transition is older than
// maxAge, returning the removed IDs.
func (m *Machine) CleanupDone(now time.Time, maxAge time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []string
	for id, mk := range m.markets {
		if mk.State != domain.StateDone || len(mk.Transitions) == 0 {
			continue
		}
		last := mk.Transitions[len(mk.Transitions)-1]
		if now.Sub(last.At) > maxAge {
			delete(m.markets, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// TransitionLog returns a copy of a market's transition log.
func (m *Machine) TransitionLog(id string) ([]domain.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk, ok := m.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	out := make([]domain.Transition, len(mk.Transitions))
	copy(out, mk.Transitions)
	return out, nil
}

func snapshot(mk *domain.Market) domain.Market {
	cp := *mk
	cp.Transitions = make([]domain.Transition, len(mk.Transitions))
	copy(cp.Transitions, mk.Transitions)
	return cp
}
