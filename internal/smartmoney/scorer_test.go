package smartmoney

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/polypulse/pulse/internal/source"
	"github.com/polypulse/pulse/internal/store"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestComputeMetrics(t *testing.T) {
	totals := []store.WalletTotal{
		{Wallet: "0xaaa", TotalTrades: 10, TotalValue: dec("10000")},
	}
	winning := []store.Trade{
		{Wallet: "0xaaa", Value: dec("1000")},
		{Wallet: "0xaaa", Value: dec("1500")},
		{Wallet: "0xaaa", Value: dec("1500")},
	}

	wallets := Compute(totals, winning)

	if len(wallets) != 1 {
		t.Fatalf("expected 1 wallet, got %d", len(wallets))
	}
	w := wallets[0]
	if !w.Profit.Equal(dec("4000")) {
		t.Errorf("expected profit 4000, got %s", w.Profit)
	}
	if !w.ROI.Equal(dec("0.4")) {
		t.Errorf("expected roi 0.4, got %s", w.ROI)
	}
	if !w.WinRate.Equal(dec("0.3")) {
		t.Errorf("expected win rate 0.3, got %s", w.WinRate)
	}
	if w.TotalTrades != 10 {
		t.Errorf("expected 10 total trades, got %d", w.TotalTrades)
	}
}

func TestComputeWalletWithoutWins(t *testing.T) {
	totals := []store.WalletTotal{
		{Wallet: "0xbbb", TotalTrades: 4, TotalValue: dec("800")},
	}

	wallets := Compute(totals, nil)

	if len(wallets) != 1 {
		t.Fatalf("expected 1 wallet, got %d", len(wallets))
	}
	w := wallets[0]
	if !w.Profit.IsZero() || !w.ROI.IsZero() || !w.WinRate.IsZero() {
		t.Errorf("expected zero metrics, got profit=%s roi=%s win_rate=%s", w.Profit, w.ROI, w.WinRate)
	}
}

func TestComputeZeroValueHistoryAvoidsDivide(t *testing.T) {
	totals := []store.WalletTotal{
		{Wallet: "0xccc", TotalTrades: 2, TotalValue: decimal.Zero},
	}
	winning := []store.Trade{{Wallet: "0xccc", Value: decimal.Zero}}

	wallets := Compute(totals, winning)

	if len(wallets) != 1 {
		t.Fatalf("expected 1 wallet, got %d", len(wallets))
	}
	if !wallets[0].ROI.IsZero() {
		t.Errorf("expected roi 0 for zero traded value, got %s", wallets[0].ROI)
	}
	if !wallets[0].WinRate.Equal(dec("0.5")) {
		t.Errorf("expected win rate 0.5, got %s", wallets[0].WinRate)
	}
}

func TestComputeIgnoresAnonymousWinningTrades(t *testing.T) {
	totals := []store.WalletTotal{
		{Wallet: "0xddd", TotalTrades: 1, TotalValue: dec("100")},
	}
	winning := []store.Trade{
		{Wallet: "", Value: dec("9999")}, // no attributable wallet
		{Wallet: "0xddd", Value: dec("100")},
	}

	wallets := Compute(totals, winning)

	if !wallets[0].Profit.Equal(dec("100")) {
		t.Errorf("expected profit 100, got %s", wallets[0].Profit)
	}
}

// downClient lists a resolved market but fails every trade lookup, the shape
// of an upstream outage mid-cycle.
type downClient struct{}

func (downClient) ActiveMarkets(context.Context, int) ([]store.Market, error) { return nil, nil }
func (downClient) ClosedMarkets(context.Context, int) ([]store.Market, error) {
	return []store.Market{{
		ID:     "closed-1",
		Closed: true,
		Outcomes: []store.Outcome{
			{TokenID: "tok-win", MarketID: "closed-1", Name: "Yes", Winner: true},
		},
	}}, nil
}
func (downClient) MarketTrades(context.Context, string, int) ([]source.RawTrade, error) {
	return nil, errors.New("upstream down")
}
func (downClient) TokenTrades(context.Context, string, int) ([]source.RawTrade, error) {
	return nil, errors.New("upstream down")
}

// emptyClient has nothing at all to report.
type emptyClient struct{ downClient }

func (emptyClient) ClosedMarkets(context.Context, int) ([]store.Market, error) { return nil, nil }

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.UpsertSmartWallets([]store.SmartWallet{
		{Address: "0xaaa", Profit: dec("4000"), ROI: dec("0.4"), WinRate: dec("0.3"), TotalTrades: 10},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return st
}

func assertScoresKept(t *testing.T, st *store.Store) {
	t.Helper()
	top, err := st.Leaderboard(10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("expected the seeded wallet to survive, got %d rows", len(top))
	}
	if !top[0].Profit.Equal(dec("4000")) || top[0].TotalTrades != 10 {
		t.Errorf("metrics were rewritten: profit=%s trades=%d", top[0].Profit, top[0].TotalTrades)
	}
}

func TestFailedFetchCycleKeepsScores(t *testing.T) {
	st := seededStore(t)
	scorer := New(source.New(source.ModeLive, downClient{}, nil), st, 10, 200)

	if err := scorer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertScoresKept(t, st)
}

func TestNoClosedMarketsKeepsScores(t *testing.T) {
	st := seededStore(t)
	scorer := New(source.New(source.ModeLive, emptyClient{}, nil), st, 10, 200)

	if err := scorer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertScoresKept(t, st)
}
