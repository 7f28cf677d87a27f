package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/polysniper/polysniper/internal/capital"
	"github.com/polysniper/polysniper/internal/crypto"
	"github.com/polysniper/polysniper/internal/domain"
	"github.com/polysniper/polysniper/internal/executor"
	"github.com/polysniper/polysniper/internal/feed"
	"github.com/polysniper/polysniper/internal/market"
	"github.com/polysniper/polysniper/internal/notify"
	"github.com/polysniper/polysniper/internal/platform/polymarket"
	"github.com/polysniper/polysniper/internal/risk"
	"github.com/polysniper/polysniper/internal/schedule"
	"github.com/polysniper/polysniper/internal/server"
	"github.com/polysniper/polysniper/internal/server/handler"
)

const (
	// sessionLockKey guards against a second instance trading the same
	// wallet; the lock is held for the lifetime of the process.
	sessionLockKey = "polysniper:session"
	sessionLockTTL = 24 * time.Hour

	resolutionPollInterval = 5 * time.Second
)

// core bundles the trading engine: venue clients, the market lifecycle
// machine, risk, capital, and the scheduler that drives them.
type core struct {
	signer   *crypto.Signer
	clob     *polymarket.ClobClient
	gamma    *polymarket.GammaClient
	feed     *feed.Feed
	machine  *market.Machine
	queue    *market.ExpiryQueue
	risk     *risk.Manager
	alloc    *capital.Allocator
	recycler *capital.Recycler
	sched    *schedule.Scheduler
	audit    domain.AuditSink
}

// TradeMode runs the live sniping engine. The HTTP API starts only when
// enabled in config.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	c, err := a.buildCore(ctx, deps, true)
	if err != nil {
		return err
	}
	return a.runTrading(ctx, deps, c, a.cfg.Server.Enabled)
}

// MonitorMode runs the full scheduling, risk, and capital path against a
// paper executor: no orders reach the venue, everything else behaves as in
// trade mode. The HTTP API is always on so the session can be observed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode (paper execution)")

	c, err := a.buildCore(ctx, deps, false)
	if err != nil {
		return err
	}
	return a.runTrading(ctx, deps, c, true)
}

// ServerMode serves the operator API over an idle core. No feeds, no
// discovery, no trading; useful for inspecting configuration and health.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	c, err := a.buildCore(ctx, deps, false)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, c)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// FullMode is trade mode with the HTTP API forced on.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.buildCore(ctx, deps, true)
	if err != nil {
		return err
	}
	return a.runTrading(ctx, deps, c, true)
}

// buildCore constructs the trading engine. When live is false the executor is
// replaced by a paper one and no wallet key is required.
func (a *App) buildCore(ctx context.Context, deps *Dependencies, live bool) (*core, error) {
	logger := a.base
	bankroll := a.cfg.Capital.BankrollUSD

	switches := risk.NewKillSwitchManager(risk.KillSwitchConfig{
		MaxFeedAge:      a.cfg.Risk.MaxFeedAge.Duration,
		MaxRPCLatency:   a.cfg.Risk.MaxRPCLatency.Duration,
		MaxDailyOrders:  a.cfg.Risk.MaxDailyOrders,
		MaxDailyLossPct: a.cfg.Risk.MaxDailyLossPct,
	}, bankroll, logger)
	breakers := risk.NewBreakerRegistry(risk.BreakerConfig{
		FailureThreshold: a.cfg.Risk.FailureThreshold,
		RecoveryTimeout:  a.cfg.Risk.RecoveryTimeout.Duration,
		HalfOpenTrials:   a.cfg.Risk.HalfOpenTrials,
	}, logger)
	exposure := risk.NewExposureManager(risk.ExposureConfig{
		MaxPerMarketUSD: a.cfg.Risk.MaxPerMarketUSD,
		MaxPerMarketPct: a.cfg.Risk.MaxPerMarketPct,
		MaxTotalPct:     a.cfg.Risk.MaxTotalPct,
	}, bankroll, logger)
	riskMgr := risk.NewManager(switches, breakers, exposure, a.cfg.Risk.MaxFeedAge.Duration, logger)

	alloc := capital.NewAllocator(capital.AllocatorConfig{
		MaxPerMarketPct:   a.cfg.Risk.MaxPerMarketPct,
		MaxPerMarketUSD:   a.cfg.Risk.MaxPerMarketUSD,
		MaxTotalPct:       a.cfg.Risk.MaxTotalPct,
		SplitThresholdUSD: a.cfg.Capital.SplitThresholdUSD,
		SplitCount:        a.cfg.Capital.SplitCount,
	}, bankroll, logger)

	// Recycled funds leave the exposure book, and P&L shifts the bankroll
	// every risk and capital limit is computed against.
	onFreed := func(marketID string, amount float64) {
		exposure.Release(marketID, amount)
		switches.UpdateBankroll(alloc.Bankroll())
		exposure.UpdateBankroll(alloc.Bankroll())
	}
	recycler := capital.NewRecycler(capital.RecyclerConfig{
		SettlementDelay: a.cfg.Capital.SettlementDelay.Duration,
		PollInterval:    a.cfg.Capital.RecyclePoll.Duration,
	}, alloc, onFreed, logger)

	machine := market.NewMachine(market.MachineConfig{
		EligibilityWindow: a.cfg.Scheduler.EligibilityWindow.Duration,
		MaxBuyPrice:       a.cfg.Scheduler.MaxBuyPrice,
		StaleFeedAfter:    a.cfg.Risk.StaleFeedAfter.Duration,
		MaxFailures:       a.cfg.Scheduler.MaxFailures,
	}, logger)
	queue := market.NewExpiryQueue()

	var store domain.AuditSink
	if deps.Audit != nil {
		store = deps.Audit
	}
	audit := newAuditFanout(store, deps.Notifier, logger)
	recycler.SetAudit(audit)

	if audit != nil {
		machine.SetObserver(func(marketID string, tr domain.Transition) {
			go func() {
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := audit.RecordTransition(rctx, marketID, tr); err != nil {
					logger.Warn("audit transition record failed",
						slog.String("market_id", marketID),
						slog.String("error", err.Error()),
					)
				}
			}()
		})
	}

	c := &core{
		machine:  machine,
		queue:    queue,
		risk:     riskMgr,
		alloc:    alloc,
		recycler: recycler,
		audit:    audit,
	}

	var exec domain.OrderExecutor
	if live {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Wallet.PrivateKey,
			EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      a.cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: load wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, a.cfg.Polymarket.ChainID)
		if err != nil {
			return nil, fmt.Errorf("app: create signer: %w", err)
		}
		c.signer = signer

		var hmac *crypto.HMACAuth
		if a.cfg.Polymarket.ApiKey != "" {
			hmac = &crypto.HMACAuth{
				Key:        a.cfg.Polymarket.ApiKey,
				Secret:     a.cfg.Polymarket.ApiSecret,
				Passphrase: a.cfg.Polymarket.ApiPassphrase,
			}
		}
		c.clob = polymarket.NewClobClient(a.cfg.Polymarket.ClobHost, signer, hmac)
		if hmac == nil {
			if err := c.clob.DeriveAPIKey(ctx); err != nil {
				return nil, fmt.Errorf("app: derive api key: %w", err)
			}
		}
		exec = executor.New(c.clob, logger)
	} else {
		exec = &paperExecutor{logger: logger.With(slog.String("component", "executor"))}
	}

	c.sched = schedule.NewScheduler(schedule.Config{
		MaxWatchlist:    a.cfg.Scheduler.MaxWatchlist,
		MaxConcurrent:   a.cfg.Scheduler.MaxConcurrent,
		TickInterval:    a.cfg.Scheduler.TickInterval.Duration,
		MinTimeToExpiry: a.cfg.Scheduler.MinTimeToExpiry.Duration,
		MinLiquidityUSD: a.cfg.Scheduler.MinLiquidityUSD,
		MaxSpread:       a.cfg.Scheduler.MaxSpread,
		OrderSizeUSD:    a.cfg.Scheduler.OrderSizeUSD,
		Strategy:        a.cfg.Scheduler.Strategy,
		DoneRetention:   a.cfg.Scheduler.DoneRetention.Duration,
		Window: schedule.WindowConfig{
			PrimingThreshold:   a.cfg.Scheduler.PrimingThreshold.Duration,
			ExecutionThreshold: a.cfg.Scheduler.ExecutionThreshold.Duration,
		},
	}, machine, queue, riskMgr, alloc, recycler, exec, audit, logger)

	ws := polymarket.NewWSClient(wsMarketURL(a.cfg.Polymarket.WsHost))
	c.feed = feed.New(ws, c.sched, deps.Prices, logger)
	c.gamma = polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)

	return c, nil
}

// runTrading starts every long-running goroutine for a trading session and
// blocks until one fails or the context is cancelled. On the way out it
// archives the session and notifies the operator.
func (a *App) runTrading(ctx context.Context, deps *Dependencies, c *core, serveHTTP bool) error {
	unlock, err := deps.Locks.Acquire(ctx, sessionLockKey, sessionLockTTL)
	if err != nil {
		return fmt.Errorf("app: acquire session lock: %w", err)
	}
	defer unlock()

	sessionID := uuid.NewString()
	a.logger.InfoContext(ctx, "session started", slog.String("session_id", sessionID))

	c.risk.Switches().OnEngage(func(sw risk.ActiveSwitch) {
		a.logger.WarnContext(ctx, "kill switch engaged",
			slog.String("type", string(sw.Type)),
			slog.String("reason", sw.Reason),
		)
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if c.clob != nil {
				if err := c.clob.CancelAll(nctx); err != nil {
					a.logger.Warn("cancel all on halt failed", slog.String("error", err.Error()))
				}
			}
			if deps.Notifier != nil {
				_ = deps.Notifier.Notify(nctx, notify.EventKillSwitch,
					"Kill switch engaged",
					fmt.Sprintf("%s: %s", sw.Type, sw.Reason),
				)
			}
		}()
	})

	if deps.Notifier != nil {
		c.risk.Breakers().OnOpen(func(marketID string) {
			go func() {
				nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = deps.Notifier.Notify(nctx, notify.EventBreakerOpen,
					"Circuit breaker opened",
					fmt.Sprintf("market %s is isolated after repeated failures", marketID),
				)
			}()
		})
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.feed.Run(ctx) })
	g.Go(func() error { return c.sched.Run(ctx) })
	g.Go(func() error { return c.recycler.Run(ctx) })
	g.Go(func() error { return a.dailyResetLoop(ctx, c) })
	g.Go(func() error { return a.resolutionLoop(ctx, deps, c) })

	if a.cfg.Discovery.Enabled {
		g.Go(func() error { return a.discoveryLoop(ctx, c) })
	}
	if serveHTTP {
		a.startServer(ctx, g, deps, c)
	}

	err = g.Wait()

	a.endSession(deps, c, sessionID)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// discoveryLoop polls Gamma for markets resolving inside the horizon and
// admits new ones to the watchlist and the price feed.
func (a *App) discoveryLoop(ctx context.Context, c *core) error {
	interval := a.cfg.Discovery.PollInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.discoverOnce(ctx, c)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.discoverOnce(ctx, c)
		}
	}
}

func (a *App) discoverOnce(ctx context.Context, c *core) {
	markets, err := c.gamma.ListClosingMarkets(ctx,
		a.cfg.Discovery.MaxHorizon.Duration,
		a.cfg.Discovery.Tags,
		a.cfg.Scheduler.MaxWatchlist,
	)
	if err != nil {
		a.logger.WarnContext(ctx, "discovery poll failed", slog.String("error", err.Error()))
		return
	}

	admitted := 0
	for _, mk := range markets {
		if _, err := c.machine.Get(mk.ID); err == nil {
			continue // already tracked
		}
		if err := c.sched.AddMarket(mk); err != nil {
			a.logger.DebugContext(ctx, "market not admitted",
				slog.String("market_id", mk.ID),
				slog.String("reason", err.Error()),
			)
			continue
		}
		if err := c.feed.Track(ctx, mk.TokenID, mk.ID); err != nil {
			a.logger.WarnContext(ctx, "feed subscribe failed, dropping market",
				slog.String("market_id", mk.ID),
				slog.String("error", err.Error()),
			)
			c.sched.RemoveMarket(mk.ID)
			continue
		}
		admitted++
	}

	if admitted > 0 {
		a.logger.InfoContext(ctx, "discovery pass complete",
			slog.Int("candidates", len(markets)),
			slog.Int("admitted", admitted),
		)
	}
}

// resolutionLoop polls Gamma for the outcome of markets awaiting
// reconciliation and feeds observed resolutions into the scheduler.
func (a *App) resolutionLoop(ctx context.Context, deps *Dependencies, c *core) error {
	ticker := time.NewTicker(resolutionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.resolveOnce(ctx, deps, c)
		}
	}
}

func (a *App) resolveOnce(ctx context.Context, deps *Dependencies, c *core) {
	for _, mk := range c.machine.InState(domain.StateReconciling) {
		if mk.Resolved {
			continue
		}
		res, err := c.gamma.GetMarketResolution(ctx, mk.ID)
		if err != nil {
			a.logger.WarnContext(ctx, "resolution check failed",
				slog.String("market_id", mk.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !res.Closed {
			continue
		}

		pnl := settlementPnL(mk, res.YesWon)
		if err := c.sched.RecordResolution(mk.ID, pnl, time.Now().UTC()); err != nil {
			a.logger.WarnContext(ctx, "resolution record failed",
				slog.String("market_id", mk.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if mk.TokenID != "" {
			c.feed.Untrack(ctx, mk.TokenID)
		}
		if deps.Notifier != nil {
			outcome := "No"
			if res.YesWon {
				outcome = "Yes"
			}
			_ = deps.Notifier.Notify(ctx, notify.EventResolution,
				"Market resolved",
				fmt.Sprintf("%s resolved %s, pnl %.2f USD", mk.ID, outcome, pnl),
			)
		}
	}
}

// settlementPnL estimates realized P&L for a resolved market. Entries are
// YES buys at the best ask, so the last quote stands in for the fill price.
func settlementPnL(mk domain.Market, yesWon bool) float64 {
	if mk.AllocatedUSD <= 0 {
		return 0
	}
	if !yesWon {
		return -mk.AllocatedUSD
	}
	p := mk.BestAsk
	if p <= 0 || p >= 1 {
		return 0
	}
	return mk.AllocatedUSD * (1 - p) / p
}

// dailyResetLoop clears the daily order and loss counters at UTC midnight.
func (a *App) dailyResetLoop(ctx context.Context, c *core) error {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next.Sub(now)):
			c.risk.Switches().ResetDaily()
			a.logger.InfoContext(ctx, "daily risk counters reset")
		}
	}
}

// startServer adds the operator API to the errgroup, with graceful shutdown
// on context cancellation.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hdeps := map[string]handler.Pinger{}
	if deps.Redis != nil {
		hdeps["redis"] = deps.Redis
	}
	if deps.Postgres != nil {
		hdeps["postgres"] = deps.Postgres
	} else {
		hdeps["postgres"] = nil
	}
	if deps.S3 != nil {
		hdeps["s3"] = deps.S3
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(hdeps, a.base),
		Status:  handler.NewStatusHandler(c.sched, c.risk, c.alloc, c.recycler, a.base),
		Markets: handler.NewMarketsHandler(c.machine, c.sched, a.base),
		Risk:    handler.NewRiskHandler(c.risk, a.base),
		Capital: handler.NewCapitalHandler(c.alloc, c.recycler, a.base),
	}, a.base)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// endSession archives the session to object storage and tells the operator
// the process is going down. Best effort on both.
func (a *App) endSession(deps *Dependencies, c *core, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if deps.Archiver != nil {
		prefix, err := deps.Archiver.ArchiveSession(ctx, sessionID, c.machine.All(), c.recycler.History())
		if err != nil {
			a.logger.Warn("session archive failed", slog.String("error", err.Error()))
		} else {
			a.logger.Info("session archived", slog.String("prefix", prefix))
		}
	}

	if deps.Notifier != nil {
		_ = deps.Notifier.Notify(ctx, notify.EventSessionEnd,
			"Session ended",
			fmt.Sprintf("session %s: daily pnl %.2f USD, bankroll %.2f USD",
				sessionID, c.risk.Switches().DailyPnL(), c.alloc.Bankroll()),
		)
	}
}

// wsMarketURL appends the market channel path to the configured WS host.
func wsMarketURL(host string) string {
	return strings.TrimRight(host, "/") + "/ws/market"
}
