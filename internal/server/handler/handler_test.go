package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysniper/polysniper/internal/domain"
	"github.com/polysniper/polysniper/internal/market"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"redis":    fakePinger{},
		"postgres": fakePinger{err: errors.New("connection refused")},
		"s3":       nil,
	}, discard())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	// Degraded deployments still answer 200 so the LB keeps routing here.
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["redis"])
	assert.Equal(t, "unreachable", body.Dependencies["postgres"])
	assert.Equal(t, "disabled", body.Dependencies["s3"])
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{"redis": fakePinger{}}, discard())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func marketsMux(t *testing.T) (*http.ServeMux, *market.Machine) {
	t.Helper()

	machine := market.NewMachine(market.MachineConfig{
		EligibilityWindow: 2 * time.Minute,
		MaxBuyPrice:       0.98,
		StaleFeedAfter:    10 * time.Second,
		MaxFailures:       3,
	}, discard())

	h := NewMarketsHandler(machine, nil, discard())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	return mux, machine
}

func TestListMarkets(t *testing.T) {
	mux, machine := marketsMux(t)
	require.NoError(t, machine.Add(domain.Market{
		ID:           "mkt-1",
		Question:     "Will X happen?",
		BestAsk:      0.97,
		ResolutionAt: time.Now().Add(time.Hour),
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int          `json:"count"`
		Markets []marketView `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "mkt-1", body.Markets[0].ID)
	assert.Equal(t, string(domain.StateDiscovered), body.Markets[0].State)
}

func TestGetMarket(t *testing.T) {
	mux, machine := marketsMux(t)
	require.NoError(t, machine.Add(domain.Market{
		ID:           "mkt-1",
		ResolutionAt: time.Now().Add(time.Hour),
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Market      marketView          `json:"market"`
		Transitions []domain.Transition `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "mkt-1", body.Market.ID)
	require.Len(t, body.Transitions, 1)
	assert.Equal(t, domain.StateDiscovered, body.Transitions[0].To)
}

func TestGetMarket_NotFound(t *testing.T) {
	mux, _ := marketsMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/capital?limit=10", nil)
	assert.Equal(t, 10, queryLimit(req, 50, 500))

	req = httptest.NewRequest(http.MethodGet, "/api/capital", nil)
	assert.Equal(t, 50, queryLimit(req, 50, 500))

	req = httptest.NewRequest(http.MethodGet, "/api/capital?limit=9999", nil)
	assert.Equal(t, 500, queryLimit(req, 50, 500))

	req = httptest.NewRequest(http.MethodGet, "/api/capital?limit=-1", nil)
	assert.Equal(t, 50, queryLimit(req, 50, 500))
}
