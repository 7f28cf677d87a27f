// Package risk implements the three independent risk gates (global kill
// switches, per-market circuit breakers, exposure limits) and the facade
// composing them into one admission check.
package risk

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SwitchType identifies a global halt condition.
type SwitchType string

const (
	SwitchStaleFeed SwitchType = "stale_feed"
	SwitchRPCLag    SwitchType = "rpc_lag"
	SwitchMaxOrders SwitchType = "max_orders"
	SwitchDailyLoss SwitchType = "daily_loss"
	SwitchManual    SwitchType = "manual"
)

// ActiveSwitch is one engaged kill switch with its human-readable reason.
type ActiveSwitch struct {
	Type   SwitchType `json:"type"`
	Reason string     `json:"reason"`
	Since  time.Time  `json:"since"`
}

// KillSwitchConfig holds the breach thresholds for the automatic switches.
type KillSwitchConfig struct {
	// MaxFeedAge engages stale_feed once the session-wide feed silence
	// exceeds it.
	MaxFeedAge time.Duration
	// MaxRPCLatency engages rpc_lag once an executor round trip exceeds it.
	MaxRPCLatency time.Duration
	// MaxDailyOrders engages max_orders once the session order count
	// reaches it.
	MaxDailyOrders int
	// MaxDailyLossPct engages daily_loss once the running daily P&L falls
	// below -MaxDailyLossPct% of bankroll.
	MaxDailyLossPct float64
}

// KillSwitchManager maintains the set of active global halt conditions.
// Trading is halted while any switch is active. Check methods re-evaluate
// their condition on every call: they engage the switch on breach and clear
// it on recovery, except manual which only clears explicitly.
type KillSwitchManager struct {
	mu       sync.Mutex
	cfg      KillSwitchConfig
	bankroll float64
	active   map[SwitchType]ActiveSwitch
	dailyPnL float64
	orders   int
	logger   *slog.Logger
	onEngage func(sw ActiveSwitch) // optional notification hook
}

// NewKillSwitchManager creates a manager with no active switches. bankroll is
// the reference figure for the daily-loss floor.
func NewKillSwitchManager(cfg KillSwitchConfig, bankroll float64, logger *slog.Logger) *KillSwitchManager {
	return &KillSwitchManager{
		cfg:      cfg,
		bankroll: bankroll,
		active:   make(map[SwitchType]ActiveSwitch),
		logger:   logger.With(slog.String("component", "kill_switch")),
	}
}

// OnEngage registers a fire-and-forget hook invoked whenever a switch flips
// from inactive to active. Must be set before concurrent use.
func (k *KillSwitchManager) OnEngage(fn func(sw ActiveSwitch)) {
	k.onEngage = fn
}

// Halted reports whether any switch is currently active.
func (k *KillSwitchManager) Halted() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.active) > 0
}

// Active returns the engaged switches sorted by type, with reasons.
func (k *KillSwitchManager) Active() []ActiveSwitch {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]ActiveSwitch, 0, len(k.active))
	for _, sw := range k.active {
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// CheckFeedAge evaluates the stale_feed switch against the most recent price
// update seen anywhere in the session.
func (k *KillSwitchManager) CheckFeedAge(lastUpdate, now time.Time) {
	age := now.Sub(lastUpdate)
	if lastUpdate.IsZero() || age > k.cfg.MaxFeedAge {
		k.engage(SwitchStaleFeed, "no price update for "+age.Truncate(time.Millisecond).String())
		return
	}
	k.clear(SwitchStaleFeed)
}

// CheckRPCLatency evaluates the rpc_lag switch against an observed executor
// round trip.
func (k *KillSwitchManager) CheckRPCLatency(latency time.Duration) {
	if latency > k.cfg.MaxRPCLatency {
		k.engage(SwitchRPCLag, "executor round trip "+latency.Truncate(time.Millisecond).String())
		return
	}
	k.clear(SwitchRPCLag)
}

// RecordOrder bumps the session order count and evaluates the max_orders
// switch.
func (k *KillSwitchManager) RecordOrder() {
	k.mu.Lock()
	k.orders++
	n := k.orders
	k.mu.Unlock()

	if k.cfg.MaxDailyOrders > 0 && n >= k.cfg.MaxDailyOrders {
		k.engage(SwitchMaxOrders, "session order ceiling reached")
	}
}

// UpdateDailyPnL accumulates realized P&L into the running daily total and
// evaluates the daily_loss switch against the configured bankroll floor.
func (k *KillSwitchManager) UpdateDailyPnL(delta float64) {
	k.mu.Lock()
	k.dailyPnL += delta
	total := k.dailyPnL
	floor := -k.cfg.MaxDailyLossPct / 100 * k.bankroll
	k.mu.Unlock()

	if total < floor {
		k.engage(SwitchDailyLoss, "daily loss floor breached")
		return
	}
	k.clear(SwitchDailyLoss)
}

// DailyPnL returns the running daily total.
func (k *KillSwitchManager) DailyPnL() float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dailyPnL
}

// EngageManual activates the manual switch. It never clears on its own.
func (k *KillSwitchManager) EngageManual(reason string) {
	k.engage(SwitchManual, reason)
}

// ClearManual deactivates the manual switch.
func (k *KillSwitchManager) ClearManual() {
	k.clear(SwitchManual)
}

// ResetDaily clears the running P&L total, the order count, and every
// non-manual switch. Intended for a once-per-day external trigger.
func (k *KillSwitchManager) ResetDaily() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.dailyPnL = 0
	k.orders = 0
	for typ := range k.active {
		if typ != SwitchManual {
			delete(k.active, typ)
		}
	}
	k.logger.Info("daily reset applied")
}

// UpdateBankroll replaces the reference bankroll used by the daily-loss floor.
func (k *KillSwitchManager) UpdateBankroll(bankroll float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.bankroll = bankroll
}

func (k *KillSwitchManager) engage(typ SwitchType, reason string) {
	k.mu.Lock()
	if _, already := k.active[typ]; already {
		k.mu.Unlock()
		return
	}
	sw := ActiveSwitch{Type: typ, Reason: reason, Since: time.Now().UTC()}
	k.active[typ] = sw
	hook := k.onEngage
	k.mu.Unlock()

	k.logger.Warn("kill switch engaged",
		slog.String("switch", string(typ)),
		slog.String("reason", reason),
	)
	if hook != nil {
		hook(sw)
	}
}

func (k *KillSwitchManager) clear(typ SwitchType) {
	k.mu.Lock()
	_, was := k.active[typ]
	delete(k.active, typ)
	k.mu.Unlock()

	if was {
		k.logger.Info("kill switch cleared", slog.String("switch", string(typ)))
	}
}
