package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/polysniper/polysniper/internal/risk"
)

// RiskHandler exposes the risk posture and the manual kill switch.
type RiskHandler struct {
	risk   *risk.Manager
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(riskMgr *risk.Manager, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{risk: riskMgr, logger: logger}
}

// GetRisk responds with the live risk state.
// GET /api/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	switches := h.risk.Switches()

	writeJSON(w, http.StatusOK, map[string]any{
		"halted":         switches.Halted(),
		"switches":       switches.Active(),
		"daily_pnl":      switches.DailyPnL(),
		"total_exposure": h.risk.Exposure().TotalExposure(),
		"bankroll":       h.risk.Exposure().Bankroll(),
	})
}

// Halt engages the manual kill switch. Trading stays halted until Resume.
// POST /api/risk/halt
func (h *RiskHandler) Halt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
		body.Reason = "manual halt via api"
	}

	h.risk.Switches().EngageManual(body.Reason)
	h.logger.Warn("manual kill switch engaged", slog.String("reason", body.Reason))
	writeJSON(w, http.StatusOK, map[string]any{
		"halted": true,
		"reason": body.Reason,
	})
}

// Resume clears the manual kill switch. Automatic switches are unaffected;
// trading stays halted while any of them remain engaged.
// POST /api/risk/resume
func (h *RiskHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.risk.Switches().ClearManual()
	h.logger.Info("manual kill switch cleared")
	writeJSON(w, http.StatusOK, map[string]any{
		"halted": h.risk.Switches().Halted(),
	})
}
