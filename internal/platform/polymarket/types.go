package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/polysniper/polysniper/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
// Only the fields the watcher needs survive decoding; everything else in
// the response is dropped.
type APIMarket struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	ConditionID  string   `json:"condition_id"`
	Slug         string   `json:"slug"`
	Active       flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed       bool     `json:"closed"`
	NegRisk      bool     `json:"neg_risk"`
	EndDateISO   string   `json:"end_date_iso"`
	ClobTokenIDs string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Liquidity    string   `json:"liquidity"`
	BestBid      float64  `json:"bestBid"`
	BestAsk      float64  `json:"bestAsk"`
	Tokens       []Token  `json:"tokens"`
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage represents an incremental orderbook price-level update.
// A size of "0" means the level was removed.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// Quote is a top-of-book observation extracted from a WebSocket frame.
type Quote struct {
	AssetID   string
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// PriceChange is a parsed single-level book update, used by the feed to
// patch the top of book between full snapshots.
type PriceChange struct {
	AssetID   string
	Side      string
	Price     float64
	Size      float64
	Timestamp time.Time
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// YesTokenID returns the CLOB token ID of the "Yes" outcome. It prefers the
// Tokens array when the response includes one, otherwise it falls back to
// the first entry of clob_token_ids (the Gamma ordering puts Yes first).
func (m *APIMarket) YesTokenID() string {
	for _, tok := range m.Tokens {
		if strings.EqualFold(tok.Outcome, "Yes") {
			return tok.TokenID
		}
	}
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil && len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market candidate.
// The caller decides admission; this only maps fields.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		Question:    m.Question,
		ConditionID: m.ConditionID,
		Combined:    m.NegRisk,
		TokenID:     m.YesTokenID(),
		BestBid:     m.BestBid,
		BestAsk:     m.BestAsk,
	}

	if liq, err := strconv.ParseFloat(m.Liquidity, 64); err == nil {
		dm.LiquidityUSD = liq
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.ResolutionAt = t
		}
	}

	return dm
}

// ToQuote extracts the top of book from a full snapshot.
func (b *BookMessage) ToQuote() Quote {
	q := Quote{AssetID: b.AssetID}

	for _, lvl := range b.Bids {
		if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && p > q.BestBid {
			q.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && (q.BestAsk == 0 || p < q.BestAsk) {
			q.BestAsk = p
		}
	}

	q.Timestamp = parseWSTimestamp(b.Timestamp)
	return q
}

// ToPriceChange parses the string fields of an incremental update.
func (p *PriceChangeMessage) ToPriceChange() PriceChange {
	pc := PriceChange{
		AssetID: p.AssetID,
		Side:    p.Side,
	}
	pc.Price, _ = strconv.ParseFloat(p.Price, 64)
	pc.Size, _ = strconv.ParseFloat(p.Size, 64)
	pc.Timestamp = parseWSTimestamp(p.Timestamp)
	return pc
}

// parseWSTimestamp accepts either unix milliseconds or RFC3339; the CLOB
// WebSocket has shipped both over time.
func parseWSTimestamp(raw string) time.Time {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms > 1e12 {
			return time.UnixMilli(ms)
		}
		return time.Unix(ms, 0)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}
