// Package schedule drives per-market execution windows and the multi-market
// scheduler tick that bounds watchlist and concurrent-execution size.
package schedule

import (
	"log/slog"
	"sync"
	"time"

	"github.com/polysniper/polysniper/internal/domain"
)

// Phase is the time-bounded stage a market passes through as expiry nears.
type Phase string

const (
	PhasePreparation    Phase = "PREPARATION"
	PhasePriming        Phase = "PRIMING"
	PhaseExecution      Phase = "EXECUTION"
	PhasePostResolution Phase = "POST_RESOLUTION"
)

// PhaseTransition is one observed phase change.
type PhaseTransition struct {
	At   time.Time
	From Phase
	To   Phase
}

// WindowConfig holds the time-to-expiry thresholds separating phases.
type WindowConfig struct {
	// PrimingThreshold is the time-to-expiry at which PREPARATION ends.
	PrimingThreshold time.Duration
	// ExecutionThreshold is the time-to-expiry at which EXECUTION begins.
	ExecutionThreshold time.Duration
}

// Window tracks one market's phase against its expiry. The phase is a pure
// function of (now, expiry), recomputed on every access; a transition is
// logged only when the observed phase changes. The prepared/sent flags give
// callers edge-triggered prepare-once and execute-once semantics.
type Window struct {
	mu          sync.Mutex
	marketID    string
	expiry      time.Time
	cfg         WindowConfig
	prepared    *domain.PreparedOrder
	sent        bool
	lastPhase   Phase
	transitions []PhaseTransition
	logger      *slog.Logger
}

// NewWindow creates a window for a market expiring at the given time.
func NewWindow(marketID string, expiry time.Time, cfg WindowConfig, logger *slog.Logger) *Window {
	return &Window{
		marketID: marketID,
		expiry:   expiry,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "exec_window"), slog.String("market_id", marketID)),
	}
}

// Phase computes the current phase from time-to-expiry and records the
// transition when it differs from the last observation.
func (w *Window) Phase(now time.Time) Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phaseLocked(now)
}

func (w *Window) phaseLocked(now time.Time) Phase {
	tte := w.expiry.Sub(now)

	var phase Phase
	switch {
	case tte <= 0:
		phase = PhasePostResolution
	case tte <= w.cfg.ExecutionThreshold:
		phase = PhaseExecution
	case tte <= w.cfg.PrimingThreshold:
		phase = PhasePriming
	default:
		phase = PhasePreparation
	}

	if phase != w.lastPhase {
		w.transitions = append(w.transitions, PhaseTransition{At: now, From: w.lastPhase, To: phase})
		w.logger.Debug("window phase change",
			slog.String("from", string(w.lastPhase)),
			slog.String("to", string(phase)),
			slog.Duration("tte", tte),
		)
		w.lastPhase = phase
	}
	return phase
}

// ShouldPrepare reports whether the caller should build the order payload
// now: nothing prepared yet and the execution phase has not opened.
// Preparation may be retried until it succeeds; a window granted late, inside
// the priming threshold, still gets to prepare.
func (w *Window) ShouldPrepare(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.prepared != nil {
		return false
	}
	phase := w.phaseLocked(now)
	return phase == PhasePreparation || phase == PhasePriming
}

// ShouldPrime reports whether the market sits primed for execution: PRIMING
// phase with a prepared payload. Priming has no side effect.
func (w *Window) ShouldPrime(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phaseLocked(now) == PhasePriming && w.prepared != nil
}

// ShouldExecute reports whether the caller should send now: EXECUTION phase,
// payload prepared, not yet sent.
func (w *Window) ShouldExecute(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phaseLocked(now) == PhaseExecution && w.prepared != nil && !w.sent
}

// SetPrepared stores the order payload built during preparation.
func (w *Window) SetPrepared(order domain.PreparedOrder) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prepared = &order
}

// Prepared returns the stored payload, or nil.
func (w *Window) Prepared() *domain.PreparedOrder {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prepared
}

// MarkSent latches the sent flag; ShouldExecute never fires again for this
// window.
func (w *Window) MarkSent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = true
}

// Sent reports whether an execution attempt was made.
func (w *Window) Sent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent
}

// Transitions returns a copy of the observed phase changes.
func (w *Window) Transitions() []PhaseTransition {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]PhaseTransition, len(w.transitions))
	copy(out, w.transitions)
	return out
}
