package handler

import (
	"log/slog"
	"net/http"

	"github.com/polysniper/polysniper/internal/capital"
)

// CapitalHandler exposes the capital position and the force-recycle control.
type CapitalHandler struct {
	alloc    *capital.Allocator
	recycler *capital.Recycler
	logger   *slog.Logger
}

// NewCapitalHandler creates a CapitalHandler.
func NewCapitalHandler(alloc *capital.Allocator, recycler *capital.Recycler, logger *slog.Logger) *CapitalHandler {
	return &CapitalHandler{alloc: alloc, recycler: recycler, logger: logger}
}

// GetCapital responds with the allocator and recycler state.
// GET /api/capital
func (h *CapitalHandler) GetCapital(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)

	history := h.recycler.History()
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bankroll":        h.alloc.Bankroll(),
		"allocated":       h.alloc.TotalAllocated(),
		"available":       h.alloc.AvailableCapital(),
		"pending_recycle": h.recycler.PendingAmount(),
		"pending_events":  h.recycler.PendingCount(),
		"history":         history,
	})
}

// ForceRecycle processes a queued recycle event immediately, skipping the
// settlement delay. Meant for operator intervention when a venue settles
// faster than expected.
// POST /api/capital/recycle/{id}
func (h *CapitalHandler) ForceRecycle(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")

	if !h.recycler.ForceRecycle(marketID) {
		writeError(w, http.StatusNotFound, "no pending recycle for market")
		return
	}

	h.logger.Info("recycle forced via api", slog.String("market_id", marketID))
	writeJSON(w, http.StatusOK, map[string]string{"recycled": marketID})
}
