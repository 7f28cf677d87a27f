package market

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polysniper/polysniper/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMachine() *Machine {
	return NewMachine(MachineConfig{
		EligibilityWindow: 60 * time.Second,
		MaxBuyPrice:       0.97,
		StaleFeedAfter:    10 * time.Second,
		MaxFailures:       3,
	}, testLogger())
}

func addMarket(t *testing.T, m *Machine, id string, expiry time.Time) {
	t.Helper()
	require.NoError(t, m.Add(domain.Market{ID: id, TokenID: "tok-" + id, ResolutionAt: expiry}))
}

func TestMachine_AddDuplicateRejected(t *testing.T) {
	m := testMachine()
	addMarket(t, m, "m1", time.Now().Add(time.Hour))

	err := m.Add(domain.Market{ID: "m1"})
	assert.ErrorIs(t, err, domain.ErrMarketExists)
}

func TestMachine_FirstPriceUpdatePromotesToWatching(t *testing.T) {
	m := testMachine()
	addMarket(t, m, "m1", time.Now().Add(time.Hour))

	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))

	mk, err := m.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateWatching, mk.State)
	assert.Equal(t, 0.40, mk.BestBid)
	assert.Equal(t, 0.45, mk.BestAsk)
	assert.False(t, mk.LastPriceAt.IsZero())
}

func TestMachine_SweepPromotesWatchingToEligible(t *testing.T) {
	m := testMachine()
	now := time.Now()
	addMarket(t, m, "m1", now.Add(30*time.Second)) // inside 60s window
	addMarket(t, m, "m2", now.Add(time.Hour))      // outside
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))
	require.NoError(t, m.UpdatePrice("m2", 0.40, 0.45))

	m.Sweep(now, []string{"m1", "m2"})

	mk, _ := m.Get("m1")
	assert.Equal(t, domain.StateEligible, mk.State)
	mk, _ = m.Get("m2")
	assert.Equal(t, domain.StateWatching, mk.State)
}

func TestMachine_SweepRespectsMaxBuyPrice(t *testing.T) {
	m := testMachine()
	now := time.Now()
	addMarket(t, m, "m1", now.Add(30*time.Second))
	require.NoError(t, m.UpdatePrice("m1", 0.97, 0.99)) // ask above 0.97 cap

	m.Sweep(now, []string{"m1"})

	mk, _ := m.Get("m1")
	assert.Equal(t, domain.StateWatching, mk.State)
}

func TestMachine_SweepParksStaleFeedOnHold(t *testing.T) {
	m := testMachine()
	now := time.Now()
	addMarket(t, m, "m1", now.Add(30*time.Second))
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))

	// Feed goes stale.
	m.Sweep(now.Add(time.Minute), []string{"m1"})
	mk, _ := m.Get("m1")
	assert.Equal(t, domain.StateOnHold, mk.State)

	// Fresh price arrives; the next sweep recovers the market.
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))
	m.Sweep(time.Now(), []string{"m1"})
	mk, _ = m.Get("m1")
	assert.Equal(t, domain.StateWatching, mk.State)
}

func TestMachine_MarkFailureEscalatesToOnHold(t *testing.T) {
	m := testMachine()
	addMarket(t, m, "m1", time.Now().Add(time.Hour))
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))

	for i := 0; i < 3; i++ {
		n, err := m.MarkFailure("m1", "send failed")
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}
	mk, _ := m.Get("m1")
	assert.Equal(t, domain.StateWatching, mk.State)

	// Fourth failure crosses the threshold of 3.
	_, err := m.MarkFailure("m1", "send failed")
	require.NoError(t, err)
	mk, _ = m.Get("m1")
	assert.Equal(t, domain.StateOnHold, mk.State)
}

func TestMachine_PriceUpdateResetsFailures(t *testing.T) {
	m := testMachine()
	addMarket(t, m, "m1", time.Now().Add(time.Hour))
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))
	_, err := m.MarkFailure("m1", "send failed")
	require.NoError(t, err)

	require.NoError(t, m.UpdatePrice("m1", 0.41, 0.46))
	mk, _ := m.Get("m1")
	assert.Equal(t, 0, mk.Failures)
}

func TestMachine_ExecutionLifecycle(t *testing.T) {
	m := testMachine()
	now := time.Now()
	addMarket(t, m, "m1", now.Add(30*time.Second))
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))
	m.Sweep(now, []string{"m1"})

	require.NoError(t, m.MarkExecutionStarted("m1", 25))
	mk, _ := m.Get("m1")
	assert.Equal(t, domain.StateExecuting, mk.State)
	assert.Equal(t, 25.0, mk.AllocatedUSD)
	assert.Equal(t, 1, mk.OrdersPlaced)

	// Expiry reached.
	m.Sweep(now.Add(time.Minute), []string{"m1"})
	mk, _ = m.Get("m1")
	assert.Equal(t, domain.StateReconciling, mk.State)

	// DONE only after a resolution is recorded.
	m.Sweep(now.Add(time.Minute), []string{"m1"})
	mk, _ = m.Get("m1")
	assert.Equal(t, domain.StateReconciling, mk.State)

	require.NoError(t, m.MarkResolved("m1", 3.5))
	m.Sweep(now.Add(time.Minute), []string{"m1"})
	mk, _ = m.Get("m1")
	assert.Equal(t, domain.StateDone, mk.State)
	assert.Equal(t, 3.5, mk.RealizedPnL)
}

func TestMachine_MarkExecutionStartedRequiresEligible(t *testing.T) {
	m := testMachine()
	addMarket(t, m, "m1", time.Now().Add(time.Hour))

	err := m.MarkExecutionStarted("m1", 10)
	assert.ErrorIs(t, err, domain.ErrBadTransition)
}

func TestMachine_DoneIsTerminal(t *testing.T) {
	m := testMachine()
	now := time.Now()
	addMarket(t, m, "m1", now.Add(30*time.Second))
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))
	m.Sweep(now, []string{"m1"})
	require.NoError(t, m.MarkExecutionStarted("m1", 10))
	require.NoError(t, m.MarkResolved("m1", 0))
	require.NoError(t, m.MarkDone("m1"))

	for _, target := range []domain.MarketState{
		domain.StateDiscovered, domain.StateWatching, domain.StateEligible,
		domain.StateExecuting, domain.StateReconciling, domain.StateOnHold,
	} {
		err := m.Transition("m1", target, "should be rejected")
		assert.ErrorIs(t, err, domain.ErrMarketTerminal, "target %s", target)
	}
	assert.ErrorIs(t, m.MarkResolved("m1", 1), domain.ErrMarketTerminal)

	// Removal is the only way out.
	m.Remove("m1")
	_, err := m.Get("m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMachine_TransitionTableRejectsSkips(t *testing.T) {
	m := testMachine()
	addMarket(t, m, "m1", time.Now().Add(time.Hour))

	err := m.Transition("m1", domain.StateExecuting, "skip ahead")
	assert.ErrorIs(t, err, domain.ErrBadTransition)
}

func TestMachine_TransitionLogIsOrdered(t *testing.T) {
	m := testMachine()
	now := time.Now()
	addMarket(t, m, "m1", now.Add(30*time.Second))
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))
	m.Sweep(now, []string{"m1"})

	log, err := m.TransitionLog("m1")
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, domain.StateDiscovered, log[0].To)
	assert.Equal(t, domain.StateWatching, log[1].To)
	assert.Equal(t, domain.StateEligible, log[2].To)
	for i := 1; i < len(log); i++ {
		assert.Equal(t, log[i-1].To, log[i].From)
	}
}

func TestMachine_CleanupDoneByAge(t *testing.T) {
	m := testMachine()
	now := time.Now()
	addMarket(t, m, "m1", now.Add(30*time.Second))
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45))
	m.Sweep(now, []string{"m1"})
	require.NoError(t, m.MarkExecutionStarted("m1", 10))
	require.NoError(t, m.MarkResolved("m1", 0))
	require.NoError(t, m.MarkDone("m1"))

	// Too young to clean.
	removed := m.CleanupDone(time.Now(), time.Hour)
	assert.Empty(t, removed)
	assert.Equal(t, 1, m.Len())

	removed = m.CleanupDone(time.Now().Add(2*time.Hour), time.Hour)
	assert.Equal(t, []string{"m1"}, removed)
	assert.Equal(t, 0, m.Len())
}

func TestMachine_MarkResolvedRejectedLeavesNoPartialState(t *testing.T) {
	m := testMachine()
	addMarket(t, m, "m1", time.Now().Add(time.Hour))
	require.NoError(t, m.UpdatePrice("m1", 0.40, 0.45)) // WATCHING

	err := m.MarkResolved("m1", 3.0)
	assert.ErrorIs(t, err, domain.ErrBadTransition)

	mk, err := m.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateWatching, mk.State)
	assert.False(t, mk.Resolved, "rejected resolution must not latch")
	assert.Zero(t, mk.RealizedPnL)
}
