package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/polysniper/polysniper/internal/domain"
	"github.com/polysniper/polysniper/internal/market"
	"github.com/polysniper/polysniper/internal/schedule"
)

// MarketsHandler exposes the tracked watchlist for inspection and manual
// removal.
type MarketsHandler struct {
	machine *market.Machine
	sched   *schedule.Scheduler
	logger  *slog.Logger
}

// NewMarketsHandler creates a MarketsHandler.
func NewMarketsHandler(machine *market.Machine, sched *schedule.Scheduler, logger *slog.Logger) *MarketsHandler {
	return &MarketsHandler{machine: machine, sched: sched, logger: logger}
}

type marketView struct {
	ID           string  `json:"id"`
	Question     string  `json:"question,omitempty"`
	State        string  `json:"state"`
	TimeToExpiry string  `json:"time_to_expiry"`
	BestBid      float64 `json:"best_bid"`
	BestAsk      float64 `json:"best_ask"`
	AllocatedUSD float64 `json:"allocated_usd"`
	OrdersPlaced int     `json:"orders_placed"`
	RealizedPnL  float64 `json:"realized_pnl"`
	Failures     int     `json:"failures"`
}

func toView(mk domain.Market, now time.Time) marketView {
	return marketView{
		ID:           mk.ID,
		Question:     mk.Question,
		State:        string(mk.State),
		TimeToExpiry: mk.TimeToExpiry(now).String(),
		BestBid:      mk.BestBid,
		BestAsk:      mk.BestAsk,
		AllocatedUSD: mk.AllocatedUSD,
		OrdersPlaced: mk.OrdersPlaced,
		RealizedPnL:  mk.RealizedPnL,
		Failures:     mk.Failures,
	}
}

// ListMarkets responds with every tracked market.
// GET /api/markets
func (h *MarketsHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.machine.All()
	now := time.Now().UTC()

	views := make([]marketView, 0, len(markets))
	for _, mk := range markets {
		views = append(views, toView(mk, now))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(views),
		"markets": views,
	})
}

// GetMarket responds with one market including its transition log.
// GET /api/markets/{id}
func (h *MarketsHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	mk, err := h.machine.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not tracked")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	view := toView(mk, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{
		"market":      view,
		"transitions": mk.Transitions,
	})
}

// RemoveMarket drops a market from the watchlist, queue, and risk tracking.
// DELETE /api/markets/{id}
func (h *MarketsHandler) RemoveMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if _, err := h.machine.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "market not tracked")
		return
	}

	h.sched.RemoveMarket(id)
	h.logger.Info("market removed via api", slog.String("market_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}
