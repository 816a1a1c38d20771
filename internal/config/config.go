package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the pulse daemon
type Config struct {
	// Database
	DatabaseDSN string

	// Upstream data source
	DataMode   string // "live", "mock" or "cache"
	ProxyMode  string // "auto", "proxy" or "direct"
	MarketsURL string
	TradesURL  string

	// Live trade stream (optional)
	StreamEnabled bool
	StreamURL     string

	// Fetch limits
	ActiveMarketLimit int
	ClosedMarketLimit int
	TradeLimit        int
	FetchWorkers      int

	// Detection thresholds
	PriceAlertThreshold decimal.Decimal // absolute move on the 0-1 scale
	WhaleMinValue       decimal.Decimal // USD notional

	// Notifications
	NotifyGrace    time.Duration // delay applied to tier-locked deliveries
	QueueEnabled   bool
	DrainBatchSize int

	// Push transport
	FCMServerKey string
	FCMEndpoint  string

	// Telegram operator channel (optional)
	TelegramToken  string
	TelegramChatID int64

	// Job cadences
	WhaleInterval time.Duration
	AlertInterval time.Duration
	ScoreInterval time.Duration
	SweepInterval time.Duration
	DrainInterval time.Duration

	// Mode
	Debug bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Database
		DatabaseDSN: getEnv("DATABASE_DSN", "data/pulse.db"),

		// Upstream
		DataMode:   getEnv("DATA_MODE", "live"),
		ProxyMode:  getEnv("PROXY_MODE", "auto"),
		MarketsURL: getEnv("MARKETS_API_URL", "https://clob.polymarket.com"),
		TradesURL:  getEnv("TRADES_API_URL", "https://data-api.polymarket.com/trades"),

		// Stream
		StreamEnabled: getEnvBool("STREAM_ENABLED", false),
		StreamURL:     getEnv("STREAM_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),

		// Limits
		ActiveMarketLimit: getEnvInt("ACTIVE_MARKET_LIMIT", 50),
		ClosedMarketLimit: getEnvInt("CLOSED_MARKET_LIMIT", 10),
		TradeLimit:        getEnvInt("TRADE_LIMIT", 200),
		FetchWorkers:      getEnvInt("FETCH_WORKERS", 5),

		// Thresholds
		PriceAlertThreshold: getEnvDecimal("PRICE_ALERT_THRESHOLD", decimal.NewFromFloat(0.05)),
		WhaleMinValue:       getEnvDecimal("WHALE_MIN_VALUE", decimal.NewFromInt(1000)),

		// Notifications
		NotifyGrace:    getEnvDuration("NOTIFY_GRACE", 300*time.Second),
		QueueEnabled:   getEnvBool("QUEUE_ENABLED", true),
		DrainBatchSize: getEnvInt("DRAIN_BATCH_SIZE", 100),

		// Push transport
		FCMServerKey: os.Getenv("FCM_SERVER_KEY"),
		FCMEndpoint:  getEnv("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),

		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Cadences
		WhaleInterval: getEnvDuration("WHALE_INTERVAL", 2*time.Minute),
		AlertInterval: getEnvDuration("ALERT_INTERVAL", 1*time.Minute),
		ScoreInterval: getEnvDuration("SCORE_INTERVAL", 6*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 15*time.Minute),
		DrainInterval: getEnvDuration("DRAIN_INTERVAL", 15*time.Second),

		Debug: getEnvBool("DEBUG", false),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Validate enumerated modes
	switch cfg.DataMode {
	case "live", "mock", "cache":
	default:
		return nil, fmt.Errorf("invalid DATA_MODE %q (want live, mock or cache)", cfg.DataMode)
	}
	switch cfg.ProxyMode {
	case "auto", "proxy", "direct":
	default:
		return nil, fmt.Errorf("invalid PROXY_MODE %q (want auto, proxy or direct)", cfg.ProxyMode)
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
