package risk

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the classic three-state circuit breaker cycle.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// breaker is the per-market record. Not safe on its own; guarded by the
// registry mutex.
type breaker struct {
	state        BreakerState
	failures     int // consecutive
	lastFailure  time.Time
	trialsUsed   int // executions admitted while HALF_OPEN
}

// BreakerConfig holds the trip and recovery thresholds shared by all
// per-market breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a breaker.
	FailureThreshold int
	// RecoveryTimeout is how long an OPEN breaker waits before admitting
	// half-open trials.
	RecoveryTimeout time.Duration
	// HalfOpenTrials is how many executions a HALF_OPEN breaker admits.
	HalfOpenTrials int
}

// BreakerRegistry isolates failures per market: repeated errors against one
// market open its breaker without affecting any other market. Breakers are
// created lazily on first reference.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*breaker
	onOpen   func(marketID string)
	logger   *slog.Logger
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(cfg BreakerConfig, logger *slog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		logger:   logger.With(slog.String("component", "circuit_breaker")),
	}
}

// OnOpen installs a hook invoked whenever a breaker trips OPEN. Not safe to
// call concurrently with trading; set it during wiring.
func (r *BreakerRegistry) OnOpen(fn func(marketID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOpen = fn
}

func (r *BreakerRegistry) get(marketID string) *breaker {
	b, ok := r.breakers[marketID]
	if !ok {
		b = &breaker{state: BreakerClosed}
		r.breakers[marketID] = b
	}
	return b
}

// CanExecute reports whether the market's breaker admits an execution at now:
// always in CLOSED, never in OPEN (until the recovery timeout moves it to
// HALF_OPEN), and up to the configured trial count in HALF_OPEN.
func (r *BreakerRegistry) CanExecute(marketID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(marketID)
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(b.lastFailure) >= r.cfg.RecoveryTimeout {
			b.state = BreakerHalfOpen
			b.trialsUsed = 0
			r.logger.Info("breaker half-open",
				slog.String("market_id", marketID),
			)
		} else {
			return false
		}
		fallthrough
	case BreakerHalfOpen:
		if b.trialsUsed >= r.cfg.HalfOpenTrials {
			return false
		}
		b.trialsUsed++
		return true
	}
	return false
}

// ReturnTrial gives back a HALF_OPEN trial consumed by CanExecute when the
// admitted attempt never reached the executor, e.g. the allocator refused the
// grant after the breaker gate passed. Without the refund such attempts burn
// trial budget with no outcome ever recorded against it.
func (r *BreakerRegistry) ReturnTrial(marketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[marketID]
	if !ok || b.state != BreakerHalfOpen {
		return
	}
	if b.trialsUsed > 0 {
		b.trialsUsed--
	}
}

// RecordFailure registers a failed execution for the market. It opens a
// CLOSED breaker after the consecutive-failure threshold and re-opens a
// HALF_OPEN breaker immediately.
func (r *BreakerRegistry) RecordFailure(marketID string, now time.Time) {
	r.mu.Lock()

	opened := false
	b := r.get(marketID)
	b.failures++
	b.lastFailure = now

	switch b.state {
	case BreakerClosed:
		if b.failures >= r.cfg.FailureThreshold {
			b.state = BreakerOpen
			opened = true
			r.logger.Warn("breaker opened",
				slog.String("market_id", marketID),
				slog.Int("consecutive_failures", b.failures),
			)
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		opened = true
		r.logger.Warn("breaker re-opened from half-open",
			slog.String("market_id", marketID),
		)
	}
	hook := r.onOpen
	r.mu.Unlock()

	if opened && hook != nil {
		hook(marketID)
	}
}

// RecordSuccess registers a successful execution. It resets the consecutive
// count and closes a HALF_OPEN breaker.
func (r *BreakerRegistry) RecordSuccess(marketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(marketID)
	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.trialsUsed = 0
		r.logger.Info("breaker closed",
			slog.String("market_id", marketID),
		)
	}
}

// State returns the market's breaker state, creating it lazily like every
// other accessor.
func (r *BreakerRegistry) State(marketID string) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(marketID).state
}

// Remove drops a market's breaker. Called when the market itself is removed
// so a long session does not accumulate one record per dead market.
func (r *BreakerRegistry) Remove(marketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, marketID)
}

// Len returns the number of breakers currently tracked.
func (r *BreakerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}
