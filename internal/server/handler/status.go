package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/polysniper/polysniper/internal/capital"
	"github.com/polysniper/polysniper/internal/risk"
	"github.com/polysniper/polysniper/internal/schedule"
)

// StatusHandler reports a one-page snapshot of the whole engine: scheduler
// occupancy, risk posture, and capital position.
type StatusHandler struct {
	sched     *schedule.Scheduler
	risk      *risk.Manager
	alloc     *capital.Allocator
	recycler  *capital.Recycler
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler over the live components.
func NewStatusHandler(sched *schedule.Scheduler, riskMgr *risk.Manager, alloc *capital.Allocator, recycler *capital.Recycler, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		sched:     sched,
		risk:      riskMgr,
		alloc:     alloc,
		recycler:  recycler,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// Status responds with the engine snapshot.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats := h.sched.Stats()

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"scheduler": map[string]any{
			"watchlist":    stats.Watchlist,
			"executing":    stats.Executing,
			"queue_live":   stats.QueueLive,
			"queue_stale":  stats.QueueStale,
			"states":       stats.States,
			"last_tick_at": stats.LastTickAt,
		},
		"risk": map[string]any{
			"halted":    h.risk.Switches().Halted(),
			"switches":  h.risk.Switches().Active(),
			"daily_pnl": h.risk.Switches().DailyPnL(),
			"exposure":  h.risk.Exposure().TotalExposure(),
		},
		"capital": map[string]any{
			"bankroll":        h.alloc.Bankroll(),
			"allocated":       h.alloc.TotalAllocated(),
			"available":       h.alloc.AvailableCapital(),
			"pending_recycle": h.recycler.PendingAmount(),
			"pending_events":  h.recycler.PendingCount(),
		},
	})
}
