package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polypulse/pulse/internal/config"
	"github.com/polypulse/pulse/internal/detect"
	"github.com/polypulse/pulse/internal/ingest"
	"github.com/polypulse/pulse/internal/notify"
	"github.com/polypulse/pulse/internal/sched"
	"github.com/polypulse/pulse/internal/smartmoney"
	"github.com/polypulse/pulse/internal/source"
	"github.com/polypulse/pulse/internal/store"
)

func main() {
	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════")
	log.Info().Msg("          PULSED - market pulse daemon")
	log.Info().Msg("═══════════════════════════════════════════════")

	// 1. Storage
	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	log.Info().Msg("✅ Storage layer initialized")

	// 2. Market data source
	var client source.Client
	switch cfg.DataMode {
	case source.ModeMock:
		client = source.NewMockClient()
	default:
		client = source.NewLiveClient(cfg.MarketsURL, cfg.TradesURL, cfg.ProxyMode)
	}
	src := source.New(cfg.DataMode, client, db)
	log.Info().Str("mode", cfg.DataMode).Str("proxy", cfg.ProxyMode).Msg("✅ Market source initialized")

	// 3. Push sink
	var sink notify.Sink
	if cfg.FCMServerKey != "" {
		sink = notify.NewFCMSink(cfg.FCMEndpoint, cfg.FCMServerKey)
		log.Info().Msg("✅ FCM push transport initialized")
	} else {
		sink = notify.LogSink{}
		log.Warn().Msg("No FCM_SERVER_KEY set, push deliveries go to the log")
	}

	// 4. Dispatcher
	dispatcher := notify.NewDispatcher(db, sink, cfg.NotifyGrace, cfg.QueueEnabled, cfg.DrainBatchSize)
	log.Info().
		Dur("grace", cfg.NotifyGrace).
		Bool("queue", cfg.QueueEnabled).
		Msg("✅ Notification dispatcher initialized")

	// 5. Telegram operator channel (optional)
	var operator *notify.Operator
	if cfg.TelegramToken != "" {
		operator, err = notify.NewOperator(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram operator channel unavailable, continuing without it")
			operator = nil
		}
	}

	// 6. Detection engines and pipeline
	alerts := detect.NewPriceAlertEngine(cfg.PriceAlertThreshold)
	refresher := ingest.NewRefresher(src, db, alerts, dispatcher, operator,
		cfg.ActiveMarketLimit, cfg.TradeLimit, cfg.FetchWorkers, cfg.WhaleMinValue)
	scorer := smartmoney.New(src, db, cfg.ClosedMarketLimit, cfg.TradeLimit)
	log.Info().Msg("✅ Detection pipeline initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 7. Live trade stream (optional)
	var stream *source.TradeStream
	if cfg.StreamEnabled && cfg.DataMode == source.ModeLive {
		stream = source.NewTradeStream(cfg.StreamURL)
		refresher.AttachStream(stream)
		stream.Start()
		go refresher.ConsumeStream(ctx, stream.Trades())
		log.Info().Msg("✅ Live trade stream initialized")
	}

	// 8. Scheduler
	scheduler := sched.New()
	scheduler.Add("whale-ingestion", cfg.WhaleInterval, refresher.RefreshWhales)
	scheduler.Add("price-alerts", cfg.AlertInterval, refresher.RefreshAlerts)
	scheduler.Add("smart-money", cfg.ScoreInterval, scorer.Run)
	scheduler.Add("entitlement-sweep", cfg.SweepInterval, refresher.SweepEntitlements)
	scheduler.Add("queue-drain", cfg.DrainInterval, refresher.DrainQueue)
	scheduler.Start(ctx)
	log.Info().Msg("✅ Scheduler started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	cancel()
	if stream != nil {
		stream.Stop()
	}
	scheduler.Stop()
	log.Info().Msg("Goodbye")
}
