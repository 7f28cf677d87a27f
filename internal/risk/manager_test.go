package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysniper/polysniper/internal/domain"
)

func testManager() *Manager {
	switches := testSwitches()
	breakers := testRegistry()
	exposure := testExposure()
	return NewManager(switches, breakers, exposure, 10*time.Second, discard())
}

func freshMarket(now time.Time) domain.Market {
	return domain.Market{
		ID:          "m1",
		BestBid:     0.40,
		BestAsk:     0.45,
		LastPriceAt: now.Add(-time.Second),
	}
}

func TestManager_AdmitsHealthyMarket(t *testing.T) {
	m := testManager()
	now := time.Now()

	assert.NoError(t, m.PreExecutionCheck(freshMarket(now), 10, now))
}

func TestManager_GlobalHaltShortCircuits(t *testing.T) {
	m := testManager()
	now := time.Now()
	m.Switches().EngageManual("operator pause")

	err := m.PreExecutionCheck(freshMarket(now), 10, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTradingHalted)
	assert.Contains(t, err.Error(), "operator pause")
}

func TestManager_StaleMarketFeedRejected(t *testing.T) {
	m := testManager()
	now := time.Now()

	mk := freshMarket(now)
	mk.LastPriceAt = now.Add(-time.Minute)

	err := m.PreExecutionCheck(mk, 10, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed stale")
}

func TestManager_OpenBreakerRejected(t *testing.T) {
	m := testManager()
	now := time.Now()
	for i := 0; i < 3; i++ {
		m.Breakers().RecordFailure("m1", now)
	}

	err := m.PreExecutionCheck(freshMarket(now), 10, now)
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
}

func TestManager_ExposureGateLast(t *testing.T) {
	m := testManager()
	now := time.Now()

	err := m.PreExecutionCheck(freshMarket(now), 500, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per-market")
}

func TestManager_PostExecutionSuccessPath(t *testing.T) {
	m := testManager()
	now := time.Now()

	m.PostExecutionRecord("m1", domain.OrderResult{
		Success: true,
		Latency: 120 * time.Millisecond,
	}, 2.5, now)

	assert.Equal(t, BreakerClosed, m.Breakers().State("m1"))
	assert.Equal(t, 2.5, m.Switches().DailyPnL())
	assert.Equal(t, 202.5, m.Exposure().Bankroll())
}

func TestManager_PostExecutionFailurePath(t *testing.T) {
	m := testManager()
	now := time.Now()

	for i := 0; i < 3; i++ {
		m.PostExecutionRecord("m1", domain.OrderResult{
			Success: false,
			Message: "matching engine rejected",
			Latency: 50 * time.Millisecond,
		}, 0, now)
	}

	assert.Equal(t, BreakerOpen, m.Breakers().State("m1"))
	// Failures never move the bankroll.
	assert.Equal(t, 200.0, m.Exposure().Bankroll())
}

func TestManager_PostExecutionLatencyEngagesRPCLag(t *testing.T) {
	m := testManager()

	m.PostExecutionRecord("m1", domain.OrderResult{
		Success: true,
		Latency: 5 * time.Second,
	}, 0, time.Now())

	assert.True(t, m.Switches().Halted())
	active := m.Switches().Active()
	require.Len(t, active, 1)
	assert.Equal(t, SwitchRPCLag, active[0].Type)
}

func TestManager_ExposureRefusalReturnsBreakerTrial(t *testing.T) {
	m := testManager()
	now := time.Now()
	for i := 0; i < 3; i++ {
		m.Breakers().RecordFailure("m1", now)
	}
	later := now.Add(31 * time.Second)

	// Exposure refusals after the breaker gate would burn the whole
	// HALF_OPEN budget unless each attempt hands its trial back.
	for i := 0; i < 2; i++ {
		err := m.PreExecutionCheck(freshMarket(later), 500, later)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "per-market")
	}

	assert.NoError(t, m.PreExecutionCheck(freshMarket(later), 10, later))
}
