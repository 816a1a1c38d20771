package detect

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/polypulse/pulse/internal/store"
)

// PriceAlertEngine raises an alert when an outcome's price moves beyond the
// threshold since the previous observation. State is per (market, outcome):
// the first observation only seeds the cache, every later one compares
// against the last observed price and then overwrites it whether or not an
// alert fired.
//
// Because the comparison is against the last observed price rather than the
// last alerted one, a run of sub-threshold moves can drift arbitrarily far
// without ever alerting. That is a deliberate tradeoff kept from the
// original design, not an oversight.
//
// The cache is process-local and rebuilt from the first observation after a
// restart, so the first cycle after startup can never fire.
type PriceAlertEngine struct {
	mu        sync.Mutex
	threshold decimal.Decimal
	last      map[string]map[string]decimal.Decimal // market id -> outcome name -> price
}

// NewPriceAlertEngine creates an engine with the given absolute-move
// threshold on the 0-1 probability scale.
func NewPriceAlertEngine(threshold decimal.Decimal) *PriceAlertEngine {
	return &PriceAlertEngine{
		threshold: threshold,
		last:      make(map[string]map[string]decimal.Decimal),
	}
}

// Check compares each market's outcome prices against the cached previous
// observation and returns the alerts that fired, at most one per outcome.
func (e *PriceAlertEngine) Check(markets []store.Market) []store.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var alerts []store.Alert
	for _, m := range markets {
		prev, seen := e.last[m.ID]
		current := make(map[string]decimal.Decimal, len(m.Outcomes))

		for _, o := range m.Outcomes {
			current[o.Name] = o.Price
			if !seen {
				continue
			}
			old, tracked := prev[o.Name]
			if !tracked {
				continue
			}
			change := o.Price.Sub(old)
			if change.Abs().GreaterThanOrEqual(e.threshold) {
				alerts = append(alerts, store.Alert{
					MarketID: m.ID,
					Question: m.Question,
					Outcome:  o.Name,
					OldPrice: old,
					NewPrice: o.Price,
					Change:   change,
					Message: fmt.Sprintf("🚨 ALERT: %s | %s moved from %s to %s",
						m.Question, o.Name, old.StringFixed(2), o.Price.StringFixed(2)),
				})
			}
		}

		e.last[m.ID] = current
	}
	return alerts
}

// Tracked reports whether a (market, outcome) pair has a cached price.
func (e *PriceAlertEngine) Tracked(marketID, outcome string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.last[marketID]
	if !ok {
		return false
	}
	_, ok = prev[outcome]
	return ok
}
