package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polysniper/polysniper/internal/capital"
	"github.com/polysniper/polysniper/internal/domain"
	"github.com/polysniper/polysniper/internal/market"
	"github.com/polysniper/polysniper/internal/risk"
)

// Config bounds the scheduler's watchlist and execution concurrency and sets
// its admission gates.
type Config struct {
	// MaxWatchlist caps the number of tracked markets.
	MaxWatchlist int
	// MaxConcurrent caps how many markets may hold an execution slot at once.
	MaxConcurrent int
	// TickInterval is the scheduler loop period.
	TickInterval time.Duration
	// MinTimeToExpiry rejects markets resolving too soon to prepare for.
	MinTimeToExpiry time.Duration
	// MinLiquidityUSD rejects thin books at admission.
	MinLiquidityUSD float64
	// MaxSpread rejects markets whose bid/ask spread is too wide at admission.
	// Zero disables the check (spreads are unknown before the first update).
	MaxSpread float64
	// OrderSizeUSD is the capital requested per execution.
	OrderSizeUSD float64
	// Strategy tags allocations and orders.
	Strategy string
	// DoneRetention is how long DONE markets stay visible before cleanup.
	DoneRetention time.Duration
	// Window holds the phase thresholds for per-market execution windows.
	Window WindowConfig
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	Watchlist  int                        `json:"watchlist"`
	Executing  int                        `json:"executing"`
	QueueLive  int                        `json:"queue_live"`
	QueueStale int                        `json:"queue_stale"`
	States     map[domain.MarketState]int `json:"states"`
	LastTickAt time.Time                  `json:"last_tick_at"`
}

// Scheduler runs the multi-market tick loop: sweep lifecycle rules in expiry
// priority order, hand execution slots to eligible markets, and drive each
// slot's window through prepare, prime, and a single send. One market's
// failure never blocks the others; it is recorded against that market alone.
type Scheduler struct {
	cfg      Config
	machine  *market.Machine
	queue    *market.ExpiryQueue
	risk     *risk.Manager
	alloc    *capital.Allocator
	recycler *capital.Recycler
	executor domain.OrderExecutor
	audit    domain.AuditSink // optional
	logger   *slog.Logger

	mu          sync.Mutex
	windows     map[string]*Window // keyed by market ID, one per execution slot
	lastFeedAt  time.Time
	lastCleanup time.Time
	lastTickAt  time.Time
}

// NewScheduler wires the scheduler over its collaborators. audit may be nil.
func NewScheduler(
	cfg Config,
	machine *market.Machine,
	queue *market.ExpiryQueue,
	riskMgr *risk.Manager,
	alloc *capital.Allocator,
	recycler *capital.Recycler,
	executor domain.OrderExecutor,
	audit domain.AuditSink,
	logger *slog.Logger,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	return &Scheduler{
		cfg:      cfg,
		machine:  machine,
		queue:    queue,
		risk:     riskMgr,
		alloc:    alloc,
		recycler: recycler,
		executor: executor,
		audit:    audit,
		windows:  make(map[string]*Window),
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// AddMarket admits a market to the watchlist after the gate checks: watchlist
// headroom, minimum time to expiry, minimum liquidity, and (when prices are
// already known) maximum spread.
func (s *Scheduler) AddMarket(mk domain.Market) error {
	if s.machine.Len() >= s.cfg.MaxWatchlist {
		return fmt.Errorf("market %s: %w", mk.ID, domain.ErrWatchlistFull)
	}
	if tte := mk.TimeToExpiry(time.Now().UTC()); tte < s.cfg.MinTimeToExpiry {
		return fmt.Errorf("market %s: resolves in %s, below minimum %s", mk.ID, tte.Truncate(time.Second), s.cfg.MinTimeToExpiry)
	}
	if mk.LiquidityUSD < s.cfg.MinLiquidityUSD {
		return fmt.Errorf("market %s: liquidity %.2f below minimum %.2f", mk.ID, mk.LiquidityUSD, s.cfg.MinLiquidityUSD)
	}
	if s.cfg.MaxSpread > 0 && mk.BestBid > 0 && mk.BestAsk > 0 && mk.Spread() > s.cfg.MaxSpread {
		return fmt.Errorf("market %s: spread %.4f above maximum %.4f", mk.ID, mk.Spread(), s.cfg.MaxSpread)
	}

	if err := s.machine.Add(mk); err != nil {
		return err
	}
	s.queue.Push(mk.ID, mk.ResolutionAt)

	s.logger.Info("market admitted",
		slog.String("market_id", mk.ID),
		slog.Time("resolution_at", mk.ResolutionAt),
		slog.Float64("liquidity_usd", mk.LiquidityUSD),
	)
	return nil
}

// RemoveMarket drops a market from every scheduler structure. Capital still
// reserved for it is flushed through the recycler first so the freed-capital
// hook runs; a market removed mid-execution has no recycle event yet, so one
// is queued at zero P&L. Safe to call for unknown IDs.
func (s *Scheduler) RemoveMarket(id string) {
	if alloc, ok := s.alloc.Allocation(id); ok {
		if !s.recycler.ForceRecycle(id) {
			s.recycler.Queue(id, 0, time.Now().UTC())
			_ = s.recycler.ForceRecycle(id)
		}
		s.risk.Exposure().Release(id, alloc.Amount)
		s.logger.Info("reserved capital flushed on removal",
			slog.String("market_id", id),
			slog.Float64("amount", alloc.Amount),
		)
	}

	s.machine.Remove(id)
	s.queue.Remove(id)
	s.risk.Breakers().Remove(id)

	s.mu.Lock()
	delete(s.windows, id)
	s.mu.Unlock()
}

// UpdatePrice forwards a feed tick to the state machine and refreshes the
// session-wide feed timestamp consumed by the stale-feed kill switch.
func (s *Scheduler) UpdatePrice(id string, bid, ask float64) error {
	s.mu.Lock()
	s.lastFeedAt = time.Now().UTC()
	s.mu.Unlock()
	return s.machine.UpdatePrice(id, bid, ask)
}

// RecordResolution feeds an observed market resolution into the core: P&L is
// recorded on the market, counted against the daily-loss switch, and the
// market's capital is queued for recycling.
func (s *Scheduler) RecordResolution(id string, pnl float64, resolvedAt time.Time) error {
	if err := s.machine.MarkResolved(id, pnl); err != nil {
		return err
	}
	if pnl != 0 {
		s.risk.Switches().UpdateDailyPnL(pnl)
	}
	s.recycler.Queue(id, pnl, resolvedAt)

	s.logger.Info("resolution recorded",
		slog.String("market_id", id),
		slog.Float64("pnl", pnl),
	)
	return nil
}

// Run drives the tick loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Duration("tick", s.cfg.TickInterval),
		slog.Int("max_watchlist", s.cfg.MaxWatchlist),
		slog.Int("max_concurrent", s.cfg.MaxConcurrent),
	)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick performs one scheduler pass. Exposed for tests; Run calls it on every
// ticker fire.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if !s.lastFeedAt.IsZero() {
		s.risk.Switches().CheckFeedAge(s.lastFeedAt, now)
	}
	s.lastTickAt = now
	s.mu.Unlock()

	ids := s.queue.IDs()
	s.machine.Sweep(now, ids)
	s.expireUnexecuted(ids, now)

	s.promote(ids, now)
	s.driveAll(ctx, now)
	s.reconcile(now)

	s.maybeCleanup(now)
}

// expireUnexecuted finalizes markets that passed expiry without ever placing
// an order. ids arrive in expiry order, so the scan stops at the first
// unexpired market.
func (s *Scheduler) expireUnexecuted(ids []string, now time.Time) {
	for _, id := range ids {
		mk, err := s.machine.Get(id)
		if err != nil {
			continue
		}
		if mk.TimeToExpiry(now) > 0 {
			break
		}
		switch mk.State {
		case domain.StateExecuting, domain.StateReconciling, domain.StateDone:
			// An order is in flight; the resolution path finalizes these.
		default:
			_ = s.machine.Transition(id, domain.StateDone, "expired unexecuted")
		}
	}
}

// promote hands execution slots to ELIGIBLE markets in expiry priority order,
// up to the concurrency cap. A slot is a window; the lifecycle transition to
// EXECUTING happens only when an order is actually placed.
func (s *Scheduler) promote(ids []string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if len(s.windows) >= s.cfg.MaxConcurrent {
			return
		}
		if _, ok := s.windows[id]; ok {
			continue
		}
		mk, err := s.machine.Get(id)
		if err != nil || mk.State != domain.StateEligible {
			continue
		}
		s.windows[id] = NewWindow(id, mk.ResolutionAt, s.cfg.Window, s.logger)
		s.logger.Debug("execution slot granted",
			slog.String("market_id", id),
			slog.Duration("tte", mk.TimeToExpiry(now)),
		)
	}
}

// driveAll advances every slot's window, isolating failures per market.
func (s *Scheduler) driveAll(ctx context.Context, now time.Time) {
	s.mu.Lock()
	slots := make(map[string]*Window, len(s.windows))
	for id, w := range s.windows {
		slots[id] = w
	}
	s.mu.Unlock()

	for id, w := range slots {
		if err := s.drive(ctx, id, w, now); err != nil {
			failures, _ := s.machine.MarkFailure(id, err.Error())
			s.logger.Warn("market step failed",
				slog.String("market_id", id),
				slog.Int("failures", failures),
				slog.String("error", err.Error()),
			)
		}
	}
}

// drive performs at most one action for a market on this tick: prepare the
// payload, hold primed, or send.
func (s *Scheduler) drive(ctx context.Context, id string, w *Window, now time.Time) error {
	switch {
	case w.ShouldPrepare(now):
		return s.prepare(id, w, now)
	case w.ShouldExecute(now):
		return s.send(ctx, id, w, now)
	case w.ShouldPrime(now):
		// Payload is staged; nothing to do until the execution phase opens.
	}
	return nil
}

// prepare builds the order payload from the current book. It retries on later
// ticks while the market has no usable ask.
func (s *Scheduler) prepare(id string, w *Window, now time.Time) error {
	mk, err := s.machine.Get(id)
	if err != nil {
		return err
	}
	if mk.BestAsk <= 0 {
		return nil
	}

	order := domain.PreparedOrder{
		ClientID:   uuid.NewString(),
		MarketID:   id,
		TokenID:    mk.TokenID,
		Side:       domain.OrderSideBuy,
		PriceTicks: toTicks(mk.BestAsk),
		SizeUnits:  toUnits(s.cfg.OrderSizeUSD, mk.BestAsk),
		Strategy:   s.cfg.Strategy,
		Combined:   mk.Combined,
		PreparedAt: now,
	}
	w.SetPrepared(order)

	s.logger.Debug("order prepared",
		slog.String("market_id", id),
		slog.String("client_id", order.ClientID),
		slog.Float64("price", order.Price()),
		slog.Float64("size", order.Size()),
	)
	return nil
}

// send runs the full admission and execution path for one market: risk gates,
// capital grant, exposure booking, then order submission (split into slices
// when the grant calls for it). The window latches sent before the network
// call so a market is attempted at most once.
func (s *Scheduler) send(ctx context.Context, id string, w *Window, now time.Time) error {
	mk, err := s.machine.Get(id)
	if err != nil {
		return err
	}
	if mk.State != domain.StateEligible {
		return nil
	}

	if err := s.risk.PreExecutionCheck(mk, s.cfg.OrderSizeUSD, now); err != nil {
		// Blocked, not failed: the gate may clear while the window is open.
		s.logger.Debug("execution blocked",
			slog.String("market_id", id),
			slog.String("reason", err.Error()),
		)
		return nil
	}

	grant := s.alloc.RequestAllocation(id, s.cfg.OrderSizeUSD, s.cfg.Strategy)
	if !grant.OK() {
		// Nothing reaches the executor, so any HALF_OPEN trial the risk
		// check consumed goes back.
		s.risk.Breakers().ReturnTrial(id)
		s.logger.Debug("allocation refused",
			slog.String("market_id", id),
			slog.String("code", string(grant.Code)),
			slog.String("reason", grant.Reason),
		)
		return nil
	}
	if err := s.risk.Exposure().Allocate(id, grant.Granted); err != nil {
		s.alloc.ReleaseAllocation(id, 0)
		s.risk.Breakers().ReturnTrial(id)
		return fmt.Errorf("book exposure: %w", err)
	}

	w.MarkSent()

	base := *w.Prepared()
	if mk.BestAsk > 0 {
		base.PriceTicks = toTicks(mk.BestAsk)
	}
	price := base.Price()

	slices := []float64{grant.Granted}
	if len(grant.Splits) > 1 {
		slices = grant.Splits
	}

	anySuccess := false
	for _, amount := range slices {
		sub := base
		sub.ClientID = uuid.NewString()
		sub.SizeUnits = toUnits(amount, price)
		sub.SplitUnits = nil

		result, execErr := s.executor.Execute(ctx, sub)
		if execErr != nil {
			result = domain.OrderResult{Success: false, Message: execErr.Error()}
		}
		s.risk.PostExecutionRecord(id, result, 0, now)
		s.recordOrderAudit(ctx, id, sub, result)

		if result.Success {
			anySuccess = true
			s.logger.Info("order placed",
				slog.String("market_id", id),
				slog.String("order_id", result.OrderID),
				slog.Float64("amount_usd", amount),
				slog.Duration("latency", result.Latency),
			)
		}
	}

	if !anySuccess {
		s.alloc.ReleaseAllocation(id, 0)
		s.risk.Exposure().Release(id, grant.Granted)
		return fmt.Errorf("market %s: all order submissions failed", id)
	}
	return s.machine.MarkExecutionStarted(id, grant.Granted)
}

// reconcile releases slots whose windows passed expiry. The market itself
// stays queued: the sweep and expiry pass walk it into DONE, with or without
// a live order.
func (s *Scheduler) reconcile(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.windows {
		if w.Phase(now) != PhasePostResolution {
			continue
		}
		delete(s.windows, id)
		s.logger.Debug("execution slot released", slog.String("market_id", id))
	}
}

// maybeCleanup evicts aged-out DONE markets roughly once a second.
func (s *Scheduler) maybeCleanup(now time.Time) {
	s.mu.Lock()
	if now.Sub(s.lastCleanup) < time.Second {
		s.mu.Unlock()
		return
	}
	s.lastCleanup = now
	s.mu.Unlock()

	for _, id := range s.machine.CleanupDone(now, s.cfg.DoneRetention) {
		s.queue.Remove(id)
		s.risk.Breakers().Remove(id)
		s.logger.Debug("market cleaned up", slog.String("market_id", id))
	}
}

// Stats snapshots the scheduler for the status endpoint.
func (s *Scheduler) Stats() Stats {
	live, stale := s.queue.Stats()

	states := make(map[domain.MarketState]int)
	for _, mk := range s.machine.All() {
		states[mk.State]++
	}

	s.mu.Lock()
	executing := len(s.windows)
	lastTick := s.lastTickAt
	s.mu.Unlock()

	return Stats{
		Watchlist:  s.machine.Len(),
		Executing:  executing,
		QueueLive:  live,
		QueueStale: stale,
		States:     states,
		LastTickAt: lastTick,
	}
}

func (s *Scheduler) recordOrderAudit(ctx context.Context, id string, order domain.PreparedOrder, result domain.OrderResult) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordOrder(ctx, id, order, result); err != nil {
		s.logger.Warn("audit order record failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func toTicks(price float64) int64 {
	return int64(math.Round(price * 1e6))
}

// toUnits converts a USD amount at a price into fixed-point share units.
func toUnits(amountUSD, price float64) int64 {
	if price <= 0 {
		return 0
	}
	return int64(math.Round(amountUSD / price * 1e6))
}
