// Package store is the persistence layer for ingested market data, detection
// output and the notification queue. SQLite by default, PostgreSQL when the
// DSN carries a postgres scheme. Duplicate writes are absorbed with
// insert-or-ignore rather than surfaced as errors.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrSignalNotFound is returned when a signal id does not exist. Callers use
// it to distinguish a bad reference from a transport or storage failure.
var ErrSignalNotFound = errors.New("signal not found")

type Store struct {
	db *gorm.DB
}

// Open connects to the database and migrates the schema.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&Market{}, &Outcome{}, &Trade{}, &WhaleTrade{}, &SmartWallet{},
		&Alert{}, &Signal{}, &Entitlement{}, &PushToken{},
		&NotificationPref{}, &NotificationJob{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Market operations

// SaveMarket upserts a market and its outcomes. Volume, liquidity and prices
// are last-write-wins.
func (s *Store) SaveMarket(m *Market) error {
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).
		Omit("Outcomes").Create(m).Error; err != nil {
		return err
	}
	for i := range m.Outcomes {
		m.Outcomes[i].MarketID = m.ID
		if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&m.Outcomes[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

// Markets returns the last-known snapshot, highest volume first. This backs
// the source's cache mode.
func (s *Store) Markets(closed bool, limit int) ([]Market, error) {
	var markets []Market
	err := s.db.Preload("Outcomes").
		Where("closed = ?", closed).
		Order("volume DESC").
		Limit(limit).
		Find(&markets).Error
	return markets, err
}

// Trade operations

// SaveTrades inserts trades, silently skipping ids already stored. Returns
// the number of rows actually inserted.
func (s *Store) SaveTrades(trades []Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}
	tx := s.db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(trades, 200)
	return tx.RowsAffected, tx.Error
}

// TradesForMarket returns stored trades for one market, newest first.
func (s *Store) TradesForMarket(marketID string, limit int) ([]Trade, error) {
	var trades []Trade
	err := s.db.Where("market_id = ?", marketID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

// Whale operations

// SaveWhaleTrade inserts a whale record unless its natural key
// (market, wallet, value, timestamp) already exists. Reports whether a new
// row was written.
func (s *Store) SaveWhaleTrade(w *WhaleTrade) (bool, error) {
	tx := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(w)
	return tx.RowsAffected == 1, tx.Error
}

// RecentWhaleTrades returns the latest whale records.
func (s *Store) RecentWhaleTrades(limit int) ([]WhaleTrade, error) {
	var whales []WhaleTrade
	err := s.db.Order("timestamp DESC").Limit(limit).Find(&whales).Error
	return whales, err
}

// SmartWallet operations

// WalletTotal is an aggregate over the full trade history of one wallet.
type WalletTotal struct {
	Wallet      string
	TotalTrades int64
	TotalValue  decimal.Decimal
}

// WalletTotals aggregates trade count and traded value per wallet.
func (s *Store) WalletTotals() ([]WalletTotal, error) {
	var rows []WalletTotal
	err := s.db.Model(&Trade{}).
		Select("wallet, COUNT(*) AS total_trades, COALESCE(SUM(value), 0) AS total_value").
		Where("wallet <> ''").
		Group("wallet").
		Scan(&rows).Error
	return rows, err
}

// UpsertSmartWallets replaces the derived metrics row for each address.
func (s *Store) UpsertSmartWallets(wallets []SmartWallet) error {
	if len(wallets) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"profit", "roi", "win_rate", "total_trades", "updated_at",
		}),
	}).CreateInBatches(wallets, 200).Error
}

// Leaderboard returns wallets by profit descending. Ties fall back to
// insertion order.
func (s *Store) Leaderboard(limit int) ([]SmartWallet, error) {
	var wallets []SmartWallet
	err := s.db.Order("profit DESC, id ASC").Limit(limit).Find(&wallets).Error
	return wallets, err
}

// Alert operations

func (s *Store) SaveAlert(a *Alert) error {
	return s.db.Create(a).Error
}

func (s *Store) RecentAlerts(limit int) ([]Alert, error) {
	var alerts []Alert
	err := s.db.Order("created_at DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}

// Signal operations

func (s *Store) CreateSignal(sig *Signal) error {
	return s.db.Create(sig).Error
}

func (s *Store) Signal(id uint) (*Signal, error) {
	var sig Signal
	err := s.db.First(&sig, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSignalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// Entitlement operations

// GrantEntitlement records a tier grant for a user.
func (s *Store) GrantEntitlement(e *Entitlement) error {
	return s.db.Create(e).Error
}

// ResolveTier returns the user's current tier. Only the most recent grant
// counts; an expired or missing grant resolves to "free".
func (s *Store) ResolveTier(userID int64, now time.Time) string {
	var e Entitlement
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		First(&e).Error
	if err != nil {
		return "free"
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
		return "free"
	}
	return e.Tier
}

// PruneExpiredTrials deletes lapsed trial grants so tier resolution falls
// back to whatever the user held before the trial.
func (s *Store) PruneExpiredTrials(now time.Time) (int64, error) {
	tx := s.db.Where("source = ? AND expires_at IS NOT NULL AND expires_at <= ?", "trial", now).
		Delete(&Entitlement{})
	return tx.RowsAffected, tx.Error
}

// Push token and preference operations

func (s *Store) AddPushToken(userID int64, token string) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&PushToken{UserID: userID, Token: token}).Error
}

func (s *Store) PushTokens(userID int64) ([]string, error) {
	var tokens []string
	err := s.db.Model(&PushToken{}).
		Where("user_id = ?", userID).
		Pluck("token", &tokens).Error
	return tokens, err
}

// UsersWithTokens returns every user id holding at least one push token.
func (s *Store) UsersWithTokens() ([]int64, error) {
	var ids []int64
	err := s.db.Model(&PushToken{}).
		Distinct("user_id").
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *Store) SetNotificationsEnabled(userID int64, enabled bool) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(&NotificationPref{UserID: userID, Enabled: enabled}).Error
}

// NotificationsEnabled reports the user's push preference. No stored row
// means enabled.
func (s *Store) NotificationsEnabled(userID int64) bool {
	var pref NotificationPref
	if err := s.db.First(&pref, "user_id = ?", userID).Error; err != nil {
		return true
	}
	return pref.Enabled
}

// Delayed queue operations

// EnqueueJob adds one pending delivery, assigning an id when absent.
func (s *Store) EnqueueJob(job *NotificationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return s.db.Create(job).Error
}

// ClaimDueJobs atomically removes and returns up to limit jobs whose
// DeliverAt is at or before now, earliest first. Claimed jobs are gone from
// the queue whether or not the subsequent delivery succeeds.
func (s *Store) ClaimDueJobs(now time.Time, limit int) ([]NotificationJob, error) {
	var jobs []NotificationJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("deliver_at <= ?", now).
			Order("deliver_at ASC").
			Limit(limit).
			Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		return tx.Where("id IN ?", ids).Delete(&NotificationJob{}).Error
	})
	return jobs, err
}

// PendingJobs reports the queue depth, for observability.
func (s *Store) PendingJobs() (int64, error) {
	var n int64
	err := s.db.Model(&NotificationJob{}).Count(&n).Error
	return n, err
}
