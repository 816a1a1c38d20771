package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entitlement tiers.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// Models

// Market is a prediction market listing. Volume and liquidity are overwritten
// on every ingestion cycle, never accumulated.
type Market struct {
	ID        string `gorm:"primaryKey"`
	Question  string `gorm:"type:text"`
	Slug      string
	Volume    decimal.Decimal `gorm:"type:decimal(20,2)"`
	Liquidity decimal.Decimal `gorm:"type:decimal(20,2)"`
	Closed    bool
	Outcomes  []Outcome `gorm:"foreignKey:MarketID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outcome is a single token of a market. Winner is only ever set after the
// market resolves.
type Outcome struct {
	TokenID  string `gorm:"primaryKey"`
	MarketID string `gorm:"index"`
	Name     string
	Price    decimal.Decimal `gorm:"type:decimal(10,6)"`
	Winner   bool
}

// Trade is an immutable fact keyed by a provider-supplied or content-derived
// id. Re-ingesting the same trade never changes stored state.
type Trade struct {
	ID        string `gorm:"primaryKey"`
	MarketID  string `gorm:"index"`
	Question  string `gorm:"type:text"`
	Wallet    string `gorm:"index"`
	Outcome   string
	Side      string // "BUY" or "SELL"
	Price     decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Value     decimal.Decimal `gorm:"type:decimal(20,6)"` // price * size
	Synthetic bool            // derived from market aggregates, not a real fill
	Timestamp time.Time
	CreatedAt time.Time
}

// WhaleTrade is a trade whose notional value cleared the whale threshold.
// The composite unique index guards against duplicate detection across
// overlapping fetch windows when the trade id itself is synthetic.
type WhaleTrade struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TradeID   string `gorm:"index"`
	MarketID  string `gorm:"uniqueIndex:idx_whale_natural"`
	Wallet    string `gorm:"uniqueIndex:idx_whale_natural"`
	Outcome   string
	Side      string
	Value     decimal.Decimal `gorm:"type:decimal(20,6);uniqueIndex:idx_whale_natural"`
	Timestamp time.Time       `gorm:"uniqueIndex:idx_whale_natural"`
	CreatedAt time.Time
}

// SmartWallet holds derived profitability metrics for one wallet address.
// Rows are fully recomputed and upserted each scoring cycle.
type SmartWallet struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`
	Address     string          `gorm:"uniqueIndex"`
	Profit      decimal.Decimal `gorm:"type:decimal(20,6)"`
	ROI         decimal.Decimal `gorm:"type:decimal(10,6)"`
	WinRate     decimal.Decimal `gorm:"type:decimal(10,6)"`
	TotalTrades int64
	UpdatedAt   time.Time
}

// Alert records a significant price move on one outcome.
type Alert struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	MarketID  string `gorm:"index"`
	Question  string `gorm:"type:text"`
	Outcome   string
	OldPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	NewPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	Change    decimal.Decimal `gorm:"type:decimal(10,6)"`
	Message   string          `gorm:"type:text"`
	CreatedAt time.Time
}

// Signal is a notification-worthy unit of content. Immutable after creation.
type Signal struct {
	ID           uint `gorm:"primaryKey;autoIncrement"`
	Title        string
	Body         string `gorm:"type:text"`
	RequiredTier string `gorm:"default:free"`
	Evidence     string `gorm:"type:text"` // JSON blob, optional
	CreatedAt    time.Time
}

// Entitlement is a tier grant for a user. Tier resolution looks only at the
// most recent grant.
type Entitlement struct {
	ID        uint  `gorm:"primaryKey;autoIncrement"`
	UserID    int64 `gorm:"index"`
	Tier      string
	Source    string // "trial", "purchase", ...
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// PushToken is a registered device token for a user.
type PushToken struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"index;uniqueIndex:idx_user_token"`
	Token     string `gorm:"uniqueIndex:idx_user_token"`
	CreatedAt time.Time
}

// NotificationPref is a per-user push-enabled flag. Absent row means enabled.
type NotificationPref struct {
	UserID    int64 `gorm:"primaryKey"`
	Enabled   bool
	UpdatedAt time.Time
}

// NotificationJob is one pending delivery in the delayed queue, ordered by
// DeliverAt. Claiming removes the row; a claim that later fails delivery is
// not re-inserted.
type NotificationJob struct {
	ID        string `gorm:"primaryKey"`
	UserID    int64  `gorm:"index"`
	SignalID  uint
	DeliverAt time.Time `gorm:"index"`
	CreatedAt time.Time
}
