package risk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExposure() *ExposureManager {
	// Bankroll $200, per-market 5% / $50 absolute, total 30%.
	return NewExposureManager(ExposureConfig{
		MaxPerMarketUSD: 50,
		MaxPerMarketPct: 5,
		MaxTotalPct:     30,
	}, 200, discard())
}

func TestExposure_PerMarketPctBinds(t *testing.T) {
	e := testExposure()

	// 5% of $200 = $10 per market.
	ok, _ := e.CanAllocate("m1", 10)
	assert.True(t, ok)

	ok, reason := e.CanAllocate("m1", 10.01)
	assert.False(t, ok)
	assert.Contains(t, reason, "per-market")
}

func TestExposure_AbsoluteCapBinds(t *testing.T) {
	// Large bankroll so the absolute $50 cap binds before the % cap.
	e := NewExposureManager(ExposureConfig{
		MaxPerMarketUSD: 50,
		MaxPerMarketPct: 50,
		MaxTotalPct:     100,
	}, 10000, discard())

	ok, reason := e.CanAllocate("m1", 60)
	assert.False(t, ok)
	assert.Contains(t, reason, "per-market cap $50.00")
}

func TestExposure_TotalCapBinds(t *testing.T) {
	e := testExposure()

	// Six markets at $10 each fill the 30% ($60) total cap.
	for i := 0; i < 6; i++ {
		require.NoError(t, e.Allocate(string(rune('a'+i)), 10))
	}
	assert.Equal(t, 60.0, e.TotalExposure())

	ok, reason := e.CanAllocate("g", 10)
	assert.False(t, ok)
	assert.Contains(t, reason, "total")
}

func TestExposure_ReleasePartialAndFull(t *testing.T) {
	e := testExposure()
	require.NoError(t, e.Allocate("m1", 10))

	e.Release("m1", 4)
	assert.Equal(t, 6.0, e.Exposure("m1"))

	e.Release("m1", 6)
	assert.Equal(t, 0.0, e.Exposure("m1"))
	assert.Equal(t, 0.0, e.TotalExposure())
}

func TestExposure_MaxAllocationIsBindingMinimum(t *testing.T) {
	e := testExposure()

	// Fresh market: per-market 5% of $200 = $10 binds.
	assert.InDelta(t, 10, e.MaxAllocation("m1"), 1e-9)

	// Fill most of the total cap: headroom shrinks below the per-market cap.
	require.NoError(t, e.Allocate("a", 10))
	require.NoError(t, e.Allocate("b", 10))
	require.NoError(t, e.Allocate("c", 10))
	require.NoError(t, e.Allocate("d", 10))
	require.NoError(t, e.Allocate("e", 10))
	require.NoError(t, e.Allocate("f", 5))
	assert.InDelta(t, 5, e.MaxAllocation("m1"), 1e-9)

	require.NoError(t, e.Allocate("g", 5))
	assert.Equal(t, 0.0, e.MaxAllocation("m1"))
}

func TestExposure_RecordPnLMovesBankroll(t *testing.T) {
	e := testExposure()
	e.RecordPnL(-20)
	assert.Equal(t, 180.0, e.Bankroll())
	e.UpdateBankroll(500)
	assert.Equal(t, 500.0, e.Bankroll())
}

// Property: over random allocate/release sequences the invariants hold:
// total <= total% x bankroll, and each market <= min(market% x bankroll, cap).
func TestExposure_InvariantsUnderRandomSequences(t *testing.T) {
	e := testExposure()
	rng := rand.New(rand.NewSource(42))
	markets := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for i := 0; i < 5000; i++ {
		id := markets[rng.Intn(len(markets))]
		amt := rng.Float64() * 15
		if rng.Intn(3) == 0 {
			e.Release(id, rng.Float64()*12)
		} else {
			_ = e.Allocate(id, amt) // rejections are expected
		}

		assert.LessOrEqual(t, e.TotalExposure(), 0.30*200+1e-9)
		for _, m := range markets {
			assert.LessOrEqual(t, e.Exposure(m), 10.0+1e-9, "market %s", m)
		}
	}
}
