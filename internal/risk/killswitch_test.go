package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSwitches() *KillSwitchManager {
	return NewKillSwitchManager(KillSwitchConfig{
		MaxFeedAge:      10 * time.Second,
		MaxRPCLatency:   2 * time.Second,
		MaxDailyOrders:  100,
		MaxDailyLossPct: 5, // $50 on a $1000 bankroll
	}, 1000, discard())
}

func TestKillSwitch_StaleFeedEngagesAndRecovers(t *testing.T) {
	k := testSwitches()
	now := time.Now()

	k.CheckFeedAge(now.Add(-30*time.Second), now)
	assert.True(t, k.Halted())

	active := k.Active()
	require.Len(t, active, 1)
	assert.Equal(t, SwitchStaleFeed, active[0].Type)
	assert.NotEmpty(t, active[0].Reason)

	// Feed recovers; the check clears its own switch.
	k.CheckFeedAge(now.Add(-time.Second), now)
	assert.False(t, k.Halted())
}

func TestKillSwitch_RPCLag(t *testing.T) {
	k := testSwitches()

	k.CheckRPCLatency(5 * time.Second)
	assert.True(t, k.Halted())

	k.CheckRPCLatency(100 * time.Millisecond)
	assert.False(t, k.Halted())
}

func TestKillSwitch_DailyLossFloor(t *testing.T) {
	k := testSwitches()

	k.UpdateDailyPnL(-30)
	assert.False(t, k.Halted())

	k.UpdateDailyPnL(-25) // total -55 < -50 floor
	assert.True(t, k.Halted())
	assert.Equal(t, -55.0, k.DailyPnL())

	// Recovery clears the switch.
	k.UpdateDailyPnL(10)
	assert.False(t, k.Halted())
}

func TestKillSwitch_OrderCeiling(t *testing.T) {
	k := NewKillSwitchManager(KillSwitchConfig{MaxDailyOrders: 2}, 1000, discard())

	k.RecordOrder()
	assert.False(t, k.Halted())
	k.RecordOrder()
	assert.True(t, k.Halted())
}

func TestKillSwitch_ManualOnlyClearsExplicitly(t *testing.T) {
	k := testSwitches()

	k.EngageManual("operator pause")
	assert.True(t, k.Halted())

	// Recovery checks and daily reset do not touch manual.
	k.CheckFeedAge(time.Now(), time.Now())
	k.CheckRPCLatency(0)
	k.ResetDaily()
	assert.True(t, k.Halted())

	k.ClearManual()
	assert.False(t, k.Halted())
}

func TestKillSwitch_ResetDailyClearsTotalsAndAutoSwitches(t *testing.T) {
	k := testSwitches()

	k.UpdateDailyPnL(-100)
	k.CheckRPCLatency(5 * time.Second)
	require.True(t, k.Halted())

	k.ResetDaily()
	assert.False(t, k.Halted())
	assert.Equal(t, 0.0, k.DailyPnL())
}

func TestKillSwitch_EngageHookFiresOnce(t *testing.T) {
	k := testSwitches()
	var fired []SwitchType
	k.OnEngage(func(sw ActiveSwitch) { fired = append(fired, sw.Type) })

	now := time.Now()
	k.CheckFeedAge(now.Add(-time.Minute), now)
	k.CheckFeedAge(now.Add(-time.Minute), now) // still engaged, no second event

	assert.Equal(t, []SwitchType{SwitchStaleFeed}, fired)
}
