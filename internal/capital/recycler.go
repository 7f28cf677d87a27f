package capital

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polysniper/polysniper/internal/domain"
)

// RecyclerConfig holds the settlement-delay parameters.
type RecyclerConfig struct {
	// SettlementDelay is how long after resolution funds stay reserved.
	// Resolution awareness precedes actual settlement availability.
	SettlementDelay time.Duration
	// PollInterval is how often the background loop scans for due events.
	PollInterval time.Duration
}

// Recycler returns allocated capital to the pool after the settlement delay.
// Events queue at resolution time; a background loop releases each one once
// its age exceeds the delay, stamps the completion time, and invokes the
// optional freed-capital callback.
type Recycler struct {
	mu      sync.Mutex
	cfg     RecyclerConfig
	alloc   *Allocator
	pending []*domain.RecycleEvent
	history []domain.RecycleEvent
	onFreed domain.FreedCapitalFunc
	audit   domain.AuditSink
	logger  *slog.Logger
}

// NewRecycler creates a Recycler over the given allocator. onFreed may be nil.
func NewRecycler(cfg RecyclerConfig, alloc *Allocator, onFreed domain.FreedCapitalFunc, logger *slog.Logger) *Recycler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Recycler{
		cfg:     cfg,
		alloc:   alloc,
		onFreed: onFreed,
		logger:  logger.With(slog.String("component", "recycler")),
	}
}

// SetAudit installs an optional sink that receives a copy of every completed
// recycle event.
func (r *Recycler) SetAudit(sink domain.AuditSink) {
	r.audit = sink
}

// Queue schedules a market's capital for return. The amount is filled at
// processing time from whatever allocation is released then.
func (r *Recycler) Queue(marketID string, pnl float64, resolvedAt time.Time) {
	ev := &domain.RecycleEvent{
		ID:         uuid.New().String(),
		MarketID:   marketID,
		PnL:        pnl,
		ResolvedAt: resolvedAt,
		QueuedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.mu.Unlock()

	r.logger.Debug("recycle queued",
		slog.String("market_id", marketID),
		slog.Float64("pnl", pnl),
	)
}

// Run drives the poll loop until the context is cancelled.
func (r *Recycler) Run(ctx context.Context) error {
	r.logger.Info("recycler started",
		slog.Duration("settlement_delay", r.cfg.SettlementDelay),
	)
	defer r.logger.Info("recycler stopped")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.processDue(time.Now().UTC())
		}
	}
}

// processDue completes every pending event whose age exceeds the settlement
// delay.
func (r *Recycler) processDue(now time.Time) {
	r.mu.Lock()
	var due []*domain.RecycleEvent
	remaining := r.pending[:0]
	for _, ev := range r.pending {
		if now.Sub(ev.QueuedAt) >= r.cfg.SettlementDelay {
			due = append(due, ev)
		} else {
			remaining = append(remaining, ev)
		}
	}
	r.pending = remaining
	r.mu.Unlock()

	for _, ev := range due {
		r.complete(ev, now)
	}
}

// ForceRecycle bypasses the settlement delay for one market, for manual
// intervention. It returns true when a pending event was processed.
func (r *Recycler) ForceRecycle(marketID string) bool {
	r.mu.Lock()
	var target *domain.RecycleEvent
	remaining := r.pending[:0]
	for _, ev := range r.pending {
		if target == nil && ev.MarketID == marketID {
			target = ev
		} else {
			remaining = append(remaining, ev)
		}
	}
	r.pending = remaining
	r.mu.Unlock()

	if target == nil {
		return false
	}
	r.complete(target, time.Now().UTC())
	return true
}

// complete releases the allocation, stamps the event, appends it to history,
// and fires the freed-capital callback.
func (r *Recycler) complete(ev *domain.RecycleEvent, now time.Time) {
	ev.Amount = r.alloc.ReleaseAllocation(ev.MarketID, ev.PnL)
	completed := now
	ev.CompletedAt = &completed

	r.mu.Lock()
	r.history = append(r.history, *ev)
	r.mu.Unlock()

	r.logger.Info("capital recycled",
		slog.String("market_id", ev.MarketID),
		slog.Float64("amount", ev.Amount),
		slog.Float64("pnl", ev.PnL),
	)

	if r.onFreed != nil {
		r.onFreed(ev.MarketID, ev.Amount)
	}

	if r.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.audit.RecordRecycle(ctx, *ev); err != nil {
			r.logger.Warn("audit recycle record failed",
				slog.String("market_id", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// PendingCount returns the number of events awaiting the delay.
func (r *Recycler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// PendingAmount returns the capital still reserved behind pending events,
// read from the live allocations.
func (r *Recycler) PendingAmount() float64 {
	r.mu.Lock()
	ids := make([]string, 0, len(r.pending))
	for _, ev := range r.pending {
		ids = append(ids, ev.MarketID)
	}
	r.mu.Unlock()

	var total float64
	for _, id := range ids {
		if alloc, ok := r.alloc.Allocation(id); ok {
			total += alloc.Amount
		}
	}
	return total
}

// History returns a copy of the completed events in completion order.
func (r *Recycler) History() []domain.RecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RecycleEvent, len(r.history))
	copy(out, r.history)
	return out
}
