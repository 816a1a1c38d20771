package source

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polypulse/pulse/internal/store"
)

// UnixTime decodes the timestamp shapes the upstream APIs use
// interchangeably: unix seconds as a number, unix seconds as a string, or an
// RFC3339 string. A shape it cannot decode is left as the zero time rather
// than failing the whole record.
type UnixTime struct {
	time.Time
}

func (t *UnixTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.Unix(n, 0).UTC()
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		t.Time = time.Unix(int64(f), 0).UTC()
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, strings.Replace(s, "Z", "+00:00", 1)); err == nil {
		t.Time = ts.UTC()
		return nil
	}
	if ts, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		t.Time = ts.UTC()
		return nil
	}
	return nil
}

// RawTrade is a trade record as the upstream returns it. Field names vary by
// endpoint, so alternates are captured side by side and resolved during
// normalization.
type RawTrade struct {
	ID          string          `json:"id"`
	TradeID     string          `json:"trade_id"`
	TxHash      string          `json:"transactionHash"`
	Maker       string          `json:"maker_address"`
	MakerCamel  string          `json:"makerAddress"`
	ProxyWallet string          `json:"proxyWallet"`
	Side        string          `json:"side"`
	Outcome     string          `json:"outcome"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	Timestamp   UnixTime        `json:"timestamp"`

	// Synthetic marks a trade derived from market aggregates because no
	// individual fills were discoverable. Never set by the upstream.
	Synthetic bool `json:"-"`
}

// RawToken is one outcome token in a market listing.
type RawToken struct {
	TokenID string          `json:"token_id"`
	Outcome string          `json:"outcome"`
	Price   decimal.Decimal `json:"price"`
	Winner  bool            `json:"winner"`
}

// RawMarket is a market listing as the upstream returns it.
type RawMarket struct {
	ConditionID string          `json:"condition_id"`
	ID          string          `json:"id"`
	Slug        string          `json:"market_slug"`
	SlugAlt     string          `json:"slug"`
	Question    string          `json:"question"`
	Volume      decimal.Decimal `json:"volume"`
	Liquidity   decimal.Decimal `json:"liquidity"`
	Closed      bool            `json:"closed"`
	Tokens      []RawToken      `json:"tokens"`
}

// Model converts a raw listing into the stored market shape. Markets with no
// usable identifier come back with an empty ID and are skipped by callers.
func (m RawMarket) Model() store.Market {
	id := m.ConditionID
	if id == "" {
		id = m.ID
	}
	if id == "" {
		id = m.Slug
	}
	slug := m.Slug
	if slug == "" {
		slug = m.SlugAlt
	}
	market := store.Market{
		ID:        id,
		Question:  m.Question,
		Slug:      slug,
		Volume:    m.Volume,
		Liquidity: m.Liquidity,
		Closed:    m.Closed,
	}
	for _, t := range m.Tokens {
		market.Outcomes = append(market.Outcomes, store.Outcome{
			TokenID:  t.TokenID,
			MarketID: id,
			Name:     t.Outcome,
			Price:    t.Price,
			Winner:   t.Winner,
		})
	}
	return market
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// decodeList accepts either a bare JSON array or a {"data": [...]} envelope,
// which the market and trade endpoints use inconsistently.
func decodeList(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(body, out)
}

// decodeTrades decodes a trade list element by element so one malformed
// record is skipped instead of failing the whole batch.
func decodeTrades(body []byte) ([]RawTrade, error) {
	var raws []json.RawMessage
	if err := decodeList(body, &raws); err != nil {
		return nil, err
	}
	trades := make([]RawTrade, 0, len(raws))
	for _, r := range raws {
		var t RawTrade
		if err := json.Unmarshal(r, &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}
