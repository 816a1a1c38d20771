package source

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polypulse/pulse/internal/store"
)

// MockClient serves fixed canned data. It is side-effect free and returns
// identical results on every call, so tests and demo runs are repeatable.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

var mockEpoch = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func (m *MockClient) ActiveMarkets(_ context.Context, limit int) ([]store.Market, error) {
	markets := []store.Market{
		{
			ID:        "mock-market-1",
			Question:  "Will BTC close above $100k this month?",
			Slug:      "btc-100k",
			Volume:    dec("250000"),
			Liquidity: dec("40000"),
			Outcomes: []store.Outcome{
				{TokenID: "mock-token-1-yes", MarketID: "mock-market-1", Name: "Yes", Price: dec("0.62")},
				{TokenID: "mock-token-1-no", MarketID: "mock-market-1", Name: "No", Price: dec("0.38")},
			},
		},
		{
			ID:        "mock-market-2",
			Question:  "Will the Fed cut rates at the next meeting?",
			Slug:      "fed-cut",
			Volume:    dec("90000"),
			Liquidity: dec("12000"),
			Outcomes: []store.Outcome{
				{TokenID: "mock-token-2-yes", MarketID: "mock-market-2", Name: "Yes", Price: dec("0.41")},
				{TokenID: "mock-token-2-no", MarketID: "mock-market-2", Name: "No", Price: dec("0.59")},
			},
		},
	}
	if limit < len(markets) {
		markets = markets[:limit]
	}
	return markets, nil
}

func (m *MockClient) ClosedMarkets(_ context.Context, limit int) ([]store.Market, error) {
	markets := []store.Market{
		{
			ID:       "mock-market-closed-1",
			Question: "Did ETH close above $4k last week?",
			Slug:     "eth-4k",
			Volume:   dec("120000"),
			Closed:   true,
			Outcomes: []store.Outcome{
				{TokenID: "mock-token-c1-yes", MarketID: "mock-market-closed-1", Name: "Yes", Price: dec("1"), Winner: true},
				{TokenID: "mock-token-c1-no", MarketID: "mock-market-closed-1", Name: "No", Price: dec("0")},
			},
		},
	}
	if limit < len(markets) {
		markets = markets[:limit]
	}
	return markets, nil
}

func (m *MockClient) MarketTrades(_ context.Context, marketID string, limit int) ([]RawTrade, error) {
	var trades []RawTrade
	switch marketID {
	case "mock-market-1":
		trades = []RawTrade{
			{
				ID:        "mock-trade-1",
				Maker:     "0x1111111111111111111111111111111111111111",
				Side:      "BUY",
				Outcome:   "Yes",
				Price:     dec("0.5"),
				Size:      dec("3000"), // value 1500, above the default whale floor
				Timestamp: UnixTime{mockEpoch},
			},
			{
				ID:        "mock-trade-2",
				Maker:     "0x2222222222222222222222222222222222222222",
				Side:      "SELL",
				Outcome:   "No",
				Price:     dec("0.38"),
				Size:      dec("100"), // value 38, well below
				Timestamp: UnixTime{mockEpoch.Add(30 * time.Second)},
			},
		}
	case "mock-market-2":
		trades = []RawTrade{
			{
				ID:        "mock-trade-3",
				Maker:     "0x3333333333333333333333333333333333333333",
				Side:      "BUY",
				Outcome:   "Yes",
				Price:     dec("0.41"),
				Size:      dec("200"), // value 82
				Timestamp: UnixTime{mockEpoch.Add(time.Minute)},
			},
		}
	}
	if limit < len(trades) {
		trades = trades[:limit]
	}
	return trades, nil
}

func (m *MockClient) TokenTrades(_ context.Context, tokenID string, limit int) ([]RawTrade, error) {
	if tokenID != "mock-token-c1-yes" {
		return nil, nil
	}
	trades := []RawTrade{
		{
			ID:        "mock-trade-winner-1",
			Maker:     "0x1111111111111111111111111111111111111111",
			Side:      "BUY",
			Outcome:   "Yes",
			Price:     dec("0.8"),
			Size:      dec("5000"), // value 4000 on a winning outcome
			Timestamp: UnixTime{mockEpoch.Add(-48 * time.Hour)},
		},
	}
	if limit < len(trades) {
		trades = trades[:limit]
	}
	return trades, nil
}
