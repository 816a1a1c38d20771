// Package ingest drives the polling pipeline: pull markets and trades from
// the source, run detection, persist the results and hand anything
// alert-worthy to the notification dispatcher.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polypulse/pulse/internal/detect"
	"github.com/polypulse/pulse/internal/notify"
	"github.com/polypulse/pulse/internal/source"
	"github.com/polypulse/pulse/internal/store"
)

// Refresher owns one end-to-end ingestion pipeline. Its methods are the
// scheduler's job bodies.
type Refresher struct {
	source     *source.Source
	store      *store.Store
	alerts     *detect.PriceAlertEngine
	dispatcher *notify.Dispatcher
	operator   *notify.Operator // optional ops chat, may be nil

	marketLimit int
	tradeLimit  int
	workers     int
	whaleMin    decimal.Decimal

	stream *source.TradeStream // optional, may be nil

	mu      sync.RWMutex
	markets map[string]store.Market // last fetched snapshot, for the stream path
}

// AttachStream makes the refresher keep the live stream's subscriptions in
// step with the markets it polls.
func (r *Refresher) AttachStream(s *source.TradeStream) {
	r.stream = s
}

func NewRefresher(src *source.Source, st *store.Store, alerts *detect.PriceAlertEngine,
	dispatcher *notify.Dispatcher, operator *notify.Operator,
	marketLimit, tradeLimit, workers int, whaleMin decimal.Decimal) *Refresher {

	if workers < 1 {
		workers = 1
	}
	return &Refresher{
		source:      src,
		store:       st,
		alerts:      alerts,
		dispatcher:  dispatcher,
		operator:    operator,
		marketLimit: marketLimit,
		tradeLimit:  tradeLimit,
		workers:     workers,
		whaleMin:    whaleMin,
		markets:     make(map[string]store.Market),
	}
}

// RefreshWhales runs one whale-ingestion cycle: fetch active markets, fan
// out per-market trade fetches across a bounded worker pool, gather every
// result, then detect and persist. Detection only ever sees trades fetched
// in this cycle.
func (r *Refresher) RefreshWhales(ctx context.Context) error {
	markets := r.source.ActiveMarkets(ctx, r.marketLimit)
	if len(markets) == 0 {
		log.Warn().Msg("No active markets this cycle")
		return nil
	}
	r.saveMarkets(markets)

	trades := r.fetchAllTrades(ctx, markets)

	inserted, err := r.store.SaveTrades(trades)
	if err != nil {
		return fmt.Errorf("save trades: %w", err)
	}

	whales := detect.DetectWhales(trades, r.whaleMin)
	newWhales := 0
	for i := range whales {
		fresh, err := r.store.SaveWhaleTrade(&whales[i])
		if err != nil {
			log.Warn().Err(err).Str("trade", whales[i].TradeID).Msg("Failed to save whale trade")
			continue
		}
		if !fresh {
			continue // already seen in an overlapping window
		}
		newWhales++
		r.announceWhale(ctx, whales[i])
	}

	log.Info().
		Int("markets", len(markets)).
		Int("trades", len(trades)).
		Int64("new_trades", inserted).
		Int("whales", len(whales)).
		Int("new_whales", newWhales).
		Msg("Whale ingestion cycle complete")
	return nil
}

// fetchAllTrades fans per-market trade fetches out across the worker pool
// and gathers everything before returning. Trade-fetch latency dominates the
// cycle and markets are independent, so the fan-out is what keeps wall-clock
// time bounded.
func (r *Refresher) fetchAllTrades(ctx context.Context, markets []store.Market) []store.Trade {
	jobs := make(chan store.Market)
	var mu sync.Mutex
	var all []store.Trade

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				raws := r.source.Trades(ctx, m, r.tradeLimit)
				batch := make([]store.Trade, 0, len(raws))
				for _, raw := range raws {
					batch = append(batch, detect.Normalize(m, raw))
				}
				mu.Lock()
				all = append(all, batch...)
				mu.Unlock()
			}
		}()
	}

	for _, m := range markets {
		jobs <- m
	}
	close(jobs)
	wg.Wait()

	return all
}

// RefreshAlerts runs one price-alert cycle against freshly fetched prices.
func (r *Refresher) RefreshAlerts(ctx context.Context) error {
	markets := r.source.ActiveMarkets(ctx, r.marketLimit)
	if len(markets) == 0 {
		return nil
	}
	r.saveMarkets(markets)

	alerts := r.alerts.Check(markets)
	for i := range alerts {
		a := &alerts[i]
		if err := r.store.SaveAlert(a); err != nil {
			log.Warn().Err(err).Str("market", a.MarketID).Msg("Failed to save alert")
			continue
		}
		log.Warn().Msg(a.Message)

		if r.operator != nil {
			r.operator.NotifyAlert(*a)
		}
		r.broadcastAlert(ctx, *a)
	}

	if len(alerts) > 0 {
		log.Info().Int("alerts", len(alerts)).Msg("Price alerts raised")
	}
	return nil
}

// SweepEntitlements expires lapsed trial grants.
func (r *Refresher) SweepEntitlements(_ context.Context) error {
	n, err := r.store.PruneExpiredTrials(time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int64("expired", n).Msg("Expired trial entitlements pruned")
	}
	return nil
}

// DrainQueue delivers due notification jobs.
func (r *Refresher) DrainQueue(ctx context.Context) error {
	_, err := r.dispatcher.Drain(ctx)
	return err
}

// ConsumeStream feeds live trade events through the same normalize, detect
// and persist path the polling cycle uses. Blocks until the context ends or
// the channel closes.
func (r *Refresher) ConsumeStream(ctx context.Context, events <-chan source.StreamTrade) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.ingestStreamTrade(ctx, ev)
		}
	}
}

func (r *Refresher) ingestStreamTrade(ctx context.Context, ev source.StreamTrade) {
	r.mu.RLock()
	m, known := r.markets[ev.MarketID]
	r.mu.RUnlock()
	if !known {
		m = store.Market{ID: ev.MarketID}
	}

	t := detect.Normalize(m, ev.Trade)
	if _, err := r.store.SaveTrades([]store.Trade{t}); err != nil {
		log.Warn().Err(err).Str("trade", t.ID).Msg("Failed to save streamed trade")
		return
	}

	for _, w := range detect.DetectWhales([]store.Trade{t}, r.whaleMin) {
		fresh, err := r.store.SaveWhaleTrade(&w)
		if err != nil || !fresh {
			continue
		}
		r.announceWhale(ctx, w)
	}
}

func (r *Refresher) saveMarkets(markets []store.Market) {
	snapshot := make(map[string]store.Market, len(markets))
	for i := range markets {
		if err := r.store.SaveMarket(&markets[i]); err != nil {
			log.Warn().Err(err).Str("market", markets[i].ID).Msg("Failed to save market")
		}
		snapshot[markets[i].ID] = markets[i]
	}
	r.mu.Lock()
	r.markets = snapshot
	r.mu.Unlock()

	if r.stream != nil {
		var assets []string
		for _, m := range markets {
			for _, o := range m.Outcomes {
				if o.TokenID != "" {
					assets = append(assets, o.TokenID)
				}
			}
		}
		r.stream.SetAssets(assets)
	}
}

// announceWhale turns a newly detected whale trade into a pro-tier signal
// and broadcasts it. The whale feed is premium content; free users get the
// notification after the paywall grace window.
func (r *Refresher) announceWhale(ctx context.Context, w store.WhaleTrade) {
	if r.operator != nil {
		r.operator.NotifyWhale(w, r.question(w.MarketID))
	}
	if r.dispatcher == nil {
		return
	}

	evidence, _ := json.Marshal(map[string]string{
		"marketId": w.MarketID,
		"wallet":   w.Wallet,
		"outcome":  w.Outcome,
		"side":     w.Side,
		"value":    w.Value.String(),
	})
	sig := &store.Signal{
		Title:        "🐋 Whale trade detected",
		Body:         fmt.Sprintf("%s: %s %s for $%s", r.question(w.MarketID), w.Side, w.Outcome, w.Value.StringFixed(0)),
		RequiredTier: store.TierPro,
		Evidence:     string(evidence),
	}
	if err := r.store.CreateSignal(sig); err != nil {
		log.Warn().Err(err).Msg("Failed to create whale signal")
		return
	}
	if _, err := r.dispatcher.Broadcast(ctx, sig.ID); err != nil {
		log.Warn().Err(err).Uint("signal", sig.ID).Msg("Whale broadcast failed")
	}
}

func (r *Refresher) broadcastAlert(ctx context.Context, a store.Alert) {
	if r.dispatcher == nil {
		return
	}
	evidence, _ := json.Marshal(map[string]string{
		"marketId": a.MarketID,
		"outcome":  a.Outcome,
		"oldPrice": a.OldPrice.String(),
		"newPrice": a.NewPrice.String(),
		"change":   a.Change.String(),
	})
	sig := &store.Signal{
		Title:        "Price alert",
		Body:         a.Message,
		RequiredTier: store.TierFree,
		Evidence:     string(evidence),
	}
	if err := r.store.CreateSignal(sig); err != nil {
		log.Warn().Err(err).Msg("Failed to create alert signal")
		return
	}
	if _, err := r.dispatcher.Broadcast(ctx, sig.ID); err != nil {
		log.Warn().Err(err).Uint("signal", sig.ID).Msg("Alert broadcast failed")
	}
}

func (r *Refresher) question(marketID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.markets[marketID]; ok {
		return m.Question
	}
	return marketID
}
