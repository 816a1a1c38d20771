// Package smartmoney scores wallet profitability from resolved markets. A
// wallet's trades on winning outcomes are set against its full trade history
// to derive profit, ROI, win rate and trade count for the leaderboard.
package smartmoney

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polypulse/pulse/internal/detect"
	"github.com/polypulse/pulse/internal/source"
	"github.com/polypulse/pulse/internal/store"
)

// Scorer recomputes smart-wallet metrics from closed markets.
type Scorer struct {
	source      *source.Source
	store       *store.Store
	closedLimit int
	tradeLimit  int
}

func New(src *source.Source, st *store.Store, closedLimit, tradeLimit int) *Scorer {
	return &Scorer{
		source:      src,
		store:       st,
		closedLimit: closedLimit,
		tradeLimit:  tradeLimit,
	}
}

// Run performs one full scoring cycle: gather trades on winning outcomes of
// recently closed markets, fold them into stored history, and upsert one
// metrics row per wallet. The recomputation is batch, never incremental, so
// repeated runs converge on the same values instead of drifting.
func (s *Scorer) Run(ctx context.Context) error {
	markets := s.source.ClosedMarkets(ctx, s.closedLimit)
	if len(markets) == 0 {
		log.Warn().Msg("No closed markets this cycle, keeping existing scores")
		return nil
	}

	var winning []store.Trade
	for _, m := range markets {
		if err := s.store.SaveMarket(&m); err != nil {
			log.Warn().Err(err).Str("market", m.ID).Msg("Failed to save closed market")
		}
		for _, o := range m.Outcomes {
			if !o.Winner {
				continue
			}
			for _, raw := range s.source.TokenTrades(ctx, o.TokenID, s.tradeLimit) {
				t := detect.Normalize(m, raw)
				if t.Outcome == "" {
					t.Outcome = o.Name
				}
				winning = append(winning, t)
			}
		}
	}

	// A cycle that discovered no winning trades recomputes nothing. The
	// fetches above never surface errors, so an unreachable upstream looks
	// identical to an empty result; upserting here would wipe every wallet's
	// metrics over a failed fetch instead of leaving the cycle data-less.
	if len(winning) == 0 {
		log.Warn().Msg("No winning trades discoverable this cycle, keeping existing scores")
		return nil
	}

	// Winning trades join the history before totals are read, so the metrics
	// below are computed against a snapshot that includes them.
	if _, err := s.store.SaveTrades(winning); err != nil {
		return err
	}

	totals, err := s.store.WalletTotals()
	if err != nil {
		return err
	}

	wallets := Compute(totals, winning)
	if err := s.store.UpsertSmartWallets(wallets); err != nil {
		return err
	}

	log.Info().
		Int("closed_markets", len(markets)).
		Int("winning_trades", len(winning)).
		Int("wallets", len(wallets)).
		Msg("Smart money scoring complete")
	return nil
}

// Compute derives per-wallet metrics from history totals and this cycle's
// winning trades. A wallet with zero total trades cannot appear in totals,
// but the divide is still guarded.
func Compute(totals []store.WalletTotal, winning []store.Trade) []store.SmartWallet {
	winCount := make(map[string]int64)
	winValue := make(map[string]decimal.Decimal)
	for _, t := range winning {
		if t.Wallet == "" {
			continue
		}
		winCount[t.Wallet]++
		winValue[t.Wallet] = winValue[t.Wallet].Add(t.Value)
	}

	wallets := make([]store.SmartWallet, 0, len(totals))
	for _, row := range totals {
		profit := winValue[row.Wallet]
		winRate := decimal.Zero
		if row.TotalTrades > 0 {
			winRate = decimal.NewFromInt(winCount[row.Wallet]).
				Div(decimal.NewFromInt(row.TotalTrades))
		}
		roi := decimal.Zero
		if !row.TotalValue.IsZero() {
			roi = profit.Div(row.TotalValue)
		}
		wallets = append(wallets, store.SmartWallet{
			Address:     row.Wallet,
			Profit:      profit,
			ROI:         roi,
			WinRate:     winRate,
			TotalTrades: row.TotalTrades,
		})
	}
	return wallets
}
