// Package detect turns raw upstream data into alertable facts: whale trades
// over a notional threshold and significant price moves.
package detect

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/polypulse/pulse/internal/source"
	"github.com/polypulse/pulse/internal/store"
)

// Normalize converts a raw upstream trade into the canonical stored shape.
// The wallet address is resolved across the field names different endpoints
// use, and when no stable trade id is supplied one is derived from the
// trade's content so that normalizing the same event twice always yields the
// same id. That derived id is what makes insert-or-ignore storage dedup.
func Normalize(m store.Market, raw source.RawTrade) store.Trade {
	value := raw.Price.Mul(raw.Size)
	wallet := resolveWallet(raw)

	side := strings.ToUpper(raw.Side)
	if side == "" {
		side = "BUY"
	}

	id := raw.ID
	if id == "" {
		id = raw.TradeID
	}
	if id == "" {
		id = raw.TxHash
	}
	if id == "" {
		id = deriveTradeID(m.ID, wallet, raw.Timestamp.Unix(), value)
	}

	return store.Trade{
		ID:        id,
		MarketID:  m.ID,
		Question:  m.Question,
		Wallet:    wallet,
		Outcome:   raw.Outcome,
		Side:      side,
		Price:     raw.Price,
		Size:      raw.Size,
		Value:     value,
		Synthetic: raw.Synthetic,
		Timestamp: raw.Timestamp.Time,
	}
}

// resolveWallet picks the first populated address field and normalizes hex
// addresses to their checksum form so the same wallet never appears under
// two casings.
func resolveWallet(raw source.RawTrade) string {
	wallet := raw.Maker
	if wallet == "" {
		wallet = raw.MakerCamel
	}
	if wallet == "" {
		wallet = raw.ProxyWallet
	}
	if common.IsHexAddress(wallet) {
		return common.HexToAddress(wallet).Hex()
	}
	return wallet
}

func deriveTradeID(marketID, wallet string, unix int64, value decimal.Decimal) string {
	payload := fmt.Sprintf("%s|%s|%d|%s", marketID, wallet, unix, value.String())
	return crypto.Keccak256Hash([]byte(payload)).Hex()
}

// DetectWhales filters normalized trades down to those whose notional value
// meets the minimum.
func DetectWhales(trades []store.Trade, minValue decimal.Decimal) []store.WhaleTrade {
	var whales []store.WhaleTrade
	for _, t := range trades {
		if t.Value.GreaterThanOrEqual(minValue) {
			whales = append(whales, store.WhaleTrade{
				TradeID:   t.ID,
				MarketID:  t.MarketID,
				Wallet:    t.Wallet,
				Outcome:   t.Outcome,
				Side:      t.Side,
				Value:     t.Value,
				Timestamp: t.Timestamp,
			})
		}
	}
	return whales
}
