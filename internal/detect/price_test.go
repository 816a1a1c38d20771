package detect

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/polypulse/pulse/internal/store"
)

func market(id string, prices map[string]string) store.Market {
	m := store.Market{ID: id, Question: "q?"}
	for name, p := range prices {
		d, _ := decimal.NewFromString(p)
		m.Outcomes = append(m.Outcomes, store.Outcome{MarketID: id, Name: name, Price: d})
	}
	return m
}

func TestFirstObservationNeverAlerts(t *testing.T) {
	e := NewPriceAlertEngine(decimal.NewFromFloat(0.05))

	alerts := e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.90"})})
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts on first observation, got %d", len(alerts))
	}
	if !e.Tracked("m1", "Yes") {
		t.Error("expected outcome to be tracked after first observation")
	}
}

func TestThresholdMoveFiresOnce(t *testing.T) {
	e := NewPriceAlertEngine(decimal.NewFromFloat(0.05))

	e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.60"})})
	alerts := e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.66"})})

	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	a := alerts[0]
	if !a.Change.Equal(decimal.NewFromFloat(0.06)) {
		t.Errorf("expected change 0.06, got %s", a.Change)
	}
	if !a.OldPrice.Equal(decimal.NewFromFloat(0.60)) || !a.NewPrice.Equal(decimal.NewFromFloat(0.66)) {
		t.Errorf("unexpected prices: old %s new %s", a.OldPrice, a.NewPrice)
	}
}

func TestExactThresholdFires(t *testing.T) {
	e := NewPriceAlertEngine(decimal.NewFromFloat(0.05))

	e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.50"})})
	alerts := e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.45"})})

	if len(alerts) != 1 {
		t.Fatalf("expected a downward 0.05 move to fire, got %d alerts", len(alerts))
	}
	if !alerts[0].Change.Equal(decimal.NewFromFloat(-0.05)) {
		t.Errorf("expected change -0.05, got %s", alerts[0].Change)
	}
}

// Sub-threshold moves compare against the last observed price, not the last
// alerted price, so a slow drift never fires. This is the intended behavior,
// not a bug.
func TestSubThresholdDriftNeverFires(t *testing.T) {
	e := NewPriceAlertEngine(decimal.NewFromFloat(0.05))

	prices := []string{"0.50", "0.53", "0.56", "0.59"} // +0.03 each cycle, +0.09 total
	for _, p := range prices {
		alerts := e.Check([]store.Market{market("m1", map[string]string{"Yes": p})})
		if len(alerts) != 0 {
			t.Fatalf("expected no alert at price %s, got %d", p, len(alerts))
		}
	}
}

func TestCacheOverwrittenAfterAlert(t *testing.T) {
	e := NewPriceAlertEngine(decimal.NewFromFloat(0.05))

	e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.50"})})
	e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.60"})}) // fires

	// Third observation compares against 0.60, not 0.50.
	alerts := e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.62"})})
	if len(alerts) != 0 {
		t.Fatalf("expected comparison against last observed price, got %d alerts", len(alerts))
	}
}

func TestNewOutcomeInKnownMarketSeedsQuietly(t *testing.T) {
	e := NewPriceAlertEngine(decimal.NewFromFloat(0.05))

	e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.50"})})
	alerts := e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.50", "No": "0.50"})})
	if len(alerts) != 0 {
		t.Fatalf("a newly listed outcome must not alert against a zero prior, got %d", len(alerts))
	}
}

func TestIndependentOutcomesAlertIndependently(t *testing.T) {
	e := NewPriceAlertEngine(decimal.NewFromFloat(0.05))

	e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.60", "No": "0.40"})})
	alerts := e.Check([]store.Market{market("m1", map[string]string{"Yes": "0.70", "No": "0.41"})})

	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Outcome != "Yes" {
		t.Errorf("expected alert on Yes, got %s", alerts[0].Outcome)
	}
}
