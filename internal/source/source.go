// Package source fetches market listings and trade history from an upstream
// prediction-market provider. It runs in one of three data modes: live
// (HTTP), mock (canned data) or cache (last snapshot from the store). No
// failure escapes this boundary; an unreachable upstream degrades to cached
// or empty results so ingestion keeps running.
package source

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/polypulse/pulse/internal/store"
)

// Data modes.
const (
	ModeLive  = "live"
	ModeMock  = "mock"
	ModeCache = "cache"
)

// Source wraps a Client with mode switching and cache fallback.
type Source struct {
	mode     string
	client   Client
	store    *store.Store
	fallback bool
}

// New builds a Source. In ModeLive with a non-nil store, failed fetches fall
// back to the cached snapshot.
func New(mode string, client Client, st *store.Store) *Source {
	return &Source{
		mode:     mode,
		client:   client,
		store:    st,
		fallback: st != nil,
	}
}

// Mode returns the configured data mode.
func (s *Source) Mode() string {
	return s.mode
}

func (s *Source) markets(ctx context.Context, limit int, closed bool) []store.Market {
	if s.mode == ModeCache {
		return s.cachedMarkets(limit, closed)
	}

	var (
		markets []store.Market
		err     error
	)
	if closed {
		markets, err = s.client.ClosedMarkets(ctx, limit)
	} else {
		markets, err = s.client.ActiveMarkets(ctx, limit)
	}
	if err != nil {
		log.Warn().Err(err).Bool("closed", closed).Msg("Market fetch failed")
		if s.fallback {
			return s.cachedMarkets(limit, closed)
		}
		return nil
	}
	return markets
}

func (s *Source) cachedMarkets(limit int, closed bool) []store.Market {
	if s.store == nil {
		return nil
	}
	markets, err := s.store.Markets(closed, limit)
	if err != nil {
		log.Warn().Err(err).Msg("Cached market read failed")
		return nil
	}
	return markets
}

// ActiveMarkets returns open markets, highest volume first. Never errors;
// worst case is an empty slice.
func (s *Source) ActiveMarkets(ctx context.Context, limit int) []store.Market {
	return s.markets(ctx, limit, false)
}

// ClosedMarkets returns resolved markets with winner flags on their
// outcomes.
func (s *Source) ClosedMarkets(ctx context.Context, limit int) []store.Market {
	return s.markets(ctx, limit, true)
}

// Trades returns raw trades for one market, walking a ladder of lookups:
// market-level query first, then per-token ("asset") queries, and as a last
// resort one synthetic trade derived from the market's own price and volume
// so the market is not silently excluded from analysis. The synthetic record
// is tagged, not passed off as a real fill.
func (s *Source) Trades(ctx context.Context, m store.Market, limit int) []RawTrade {
	if s.mode == ModeCache {
		return s.cachedTrades(m, limit)
	}

	trades, err := s.client.MarketTrades(ctx, m.ID, limit)
	if err != nil {
		log.Debug().Err(err).Str("market", m.ID).Msg("Market-level trade fetch failed")
	}
	if len(trades) > 0 {
		return trades
	}

	for _, outcome := range m.Outcomes {
		if outcome.TokenID == "" {
			continue
		}
		tokenTrades, err := s.client.TokenTrades(ctx, outcome.TokenID, limit)
		if err != nil {
			log.Debug().Err(err).Str("token", outcome.TokenID).Msg("Token-level trade fetch failed")
			continue
		}
		for i := range tokenTrades {
			if tokenTrades[i].Outcome == "" {
				tokenTrades[i].Outcome = outcome.Name
			}
		}
		trades = append(trades, tokenTrades...)
	}
	if len(trades) > 0 {
		return trades
	}

	if synthetic, ok := syntheticTrade(m); ok {
		log.Debug().Str("market", m.ID).Msg("No discoverable trades, synthesizing one from market aggregates")
		return []RawTrade{synthetic}
	}
	return nil
}

// TokenTrades fetches raw trades for a single token id. Used for winning
// outcomes of closed markets. Never errors.
func (s *Source) TokenTrades(ctx context.Context, tokenID string, limit int) []RawTrade {
	if s.mode == ModeCache || tokenID == "" {
		return nil
	}
	trades, err := s.client.TokenTrades(ctx, tokenID, limit)
	if err != nil {
		log.Debug().Err(err).Str("token", tokenID).Msg("Token trade fetch failed")
		return nil
	}
	return trades
}

func (s *Source) cachedTrades(m store.Market, limit int) []RawTrade {
	if s.store == nil {
		return nil
	}
	stored, err := s.store.TradesForMarket(m.ID, limit)
	if err != nil {
		log.Warn().Err(err).Str("market", m.ID).Msg("Cached trade read failed")
		return nil
	}
	raws := make([]RawTrade, 0, len(stored))
	for _, t := range stored {
		raws = append(raws, RawTrade{
			ID:        t.ID,
			Maker:     t.Wallet,
			Outcome:   t.Outcome,
			Side:      t.Side,
			Price:     t.Price,
			Size:      t.Size,
			Timestamp: UnixTime{t.Timestamp},
			Synthetic: t.Synthetic,
		})
	}
	return raws
}

// syntheticTrade approximates a market with no discoverable fills as a
// single trade at the leading outcome's last price, sized so the notional
// matches the reported volume. The timestamp is deliberately left zero so
// the derived trade id, and therefore storage, stays stable across cycles.
func syntheticTrade(m store.Market) (RawTrade, bool) {
	if len(m.Outcomes) == 0 {
		return RawTrade{}, false
	}
	price := m.Outcomes[0].Price
	for _, o := range m.Outcomes {
		if o.Winner {
			price = o.Price
			break
		}
	}
	if price.IsZero() || m.Volume.IsZero() {
		return RawTrade{}, false
	}
	return RawTrade{
		Side:      "BUY",
		Outcome:   m.Outcomes[0].Name,
		Price:     price,
		Size:      m.Volume.Div(price),
		Synthetic: true,
	}, true
}
