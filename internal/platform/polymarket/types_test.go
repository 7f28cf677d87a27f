package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexBool(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`true`, true},
		{`false`, false},
		{`"true"`, true},
		{`"True"`, true},
		{`"false"`, false},
		{`"1"`, true},
		{`"0"`, false},
	}
	for _, tc := range cases {
		var f flexBool
		require.NoError(t, json.Unmarshal([]byte(tc.raw), &f), tc.raw)
		assert.Equal(t, tc.want, bool(f), tc.raw)
	}

	var f flexBool
	assert.Error(t, json.Unmarshal([]byte(`42`), &f))
}

func TestYesTokenID(t *testing.T) {
	t.Run("prefers tokens array", func(t *testing.T) {
		m := APIMarket{
			ClobTokenIDs: `["111","222"]`,
			Tokens: []Token{
				{TokenID: "333", Outcome: "No"},
				{TokenID: "444", Outcome: "YES"},
			},
		}
		assert.Equal(t, "444", m.YesTokenID())
	})

	t.Run("falls back to first clob token id", func(t *testing.T) {
		m := APIMarket{ClobTokenIDs: `["111","222"]`}
		assert.Equal(t, "111", m.YesTokenID())
	})

	t.Run("empty when nothing parses", func(t *testing.T) {
		m := APIMarket{ClobTokenIDs: "not json"}
		assert.Empty(t, m.YesTokenID())
	})
}

func TestToDomainMarket(t *testing.T) {
	m := APIMarket{
		ID:           "0xmkt",
		Question:     "Will it rain?",
		ConditionID:  "0xcond",
		NegRisk:      true,
		EndDateISO:   "2026-09-01T12:00:00Z",
		ClobTokenIDs: `["789"]`,
		Liquidity:    "15000.5",
		BestBid:      0.96,
		BestAsk:      0.97,
	}

	dm := m.ToDomainMarket()
	assert.Equal(t, "0xmkt", dm.ID)
	assert.Equal(t, "Will it rain?", dm.Question)
	assert.Equal(t, "0xcond", dm.ConditionID)
	assert.True(t, dm.Combined)
	assert.Equal(t, "789", dm.TokenID)
	assert.Equal(t, 15000.5, dm.LiquidityUSD)
	assert.Equal(t, 0.96, dm.BestBid)
	assert.Equal(t, 0.97, dm.BestAsk)
	assert.Equal(t, time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), dm.ResolutionAt.UTC())
}

func TestToDomainMarket_BadOptionalFields(t *testing.T) {
	m := APIMarket{ID: "m1", Liquidity: "n/a", EndDateISO: "soon"}
	dm := m.ToDomainMarket()
	assert.Zero(t, dm.LiquidityUSD)
	assert.True(t, dm.ResolutionAt.IsZero())
}

func TestBookMessageToQuote(t *testing.T) {
	b := BookMessage{
		AssetID: "asset-1",
		Bids: []WSPriceLevel{
			{Price: "0.95", Size: "100"},
			{Price: "0.97", Size: "50"},
			{Price: "0.90", Size: "10"},
		},
		Asks: []WSPriceLevel{
			{Price: "0.99", Size: "20"},
			{Price: "0.98", Size: "40"},
		},
		Timestamp: "1700000000123",
	}

	q := b.ToQuote()
	assert.Equal(t, "asset-1", q.AssetID)
	assert.Equal(t, 0.97, q.BestBid)
	assert.Equal(t, 0.98, q.BestAsk)
	assert.Equal(t, time.UnixMilli(1700000000123), q.Timestamp)
}

func TestBookMessageToQuote_EmptySides(t *testing.T) {
	b := BookMessage{AssetID: "asset-1", Timestamp: "1700000000"}
	q := b.ToQuote()
	assert.Zero(t, q.BestBid)
	assert.Zero(t, q.BestAsk)
}

func TestToPriceChange(t *testing.T) {
	msg := PriceChangeMessage{
		AssetID:   "asset-1",
		Side:      "SELL",
		Price:     "0.985",
		Size:      "0",
		Timestamp: "2026-08-28T10:00:00Z",
	}

	pc := msg.ToPriceChange()
	assert.Equal(t, "asset-1", pc.AssetID)
	assert.Equal(t, "SELL", pc.Side)
	assert.Equal(t, 0.985, pc.Price)
	assert.Zero(t, pc.Size)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), pc.Timestamp.UTC())
}

func TestParseWSTimestamp(t *testing.T) {
	// Unix milliseconds.
	assert.Equal(t, time.UnixMilli(1700000000123), parseWSTimestamp("1700000000123"))
	// Unix seconds.
	assert.Equal(t, time.Unix(1700000000, 0), parseWSTimestamp("1700000000"))
	// RFC3339.
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.True(t, want.Equal(parseWSTimestamp("2026-01-02T03:04:05Z")))
	// Garbage falls back to now.
	got := parseWSTimestamp("???")
	assert.WithinDuration(t, time.Now(), got, time.Minute)
}
