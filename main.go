package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"forex-trading-bot/config"
	"forex-trading-bot/internal/api"
	"forex-trading-bot/internal/backtest"
	"forex-trading-bot/internal/bot"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/cache"
	"forex-trading-bot/internal/catalog"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/metrics"
	"forex-trading-bot/internal/notification"
	"forex-trading-bot/internal/scanner"
	"forex-trading-bot/internal/storage"
	"forex-trading-bot/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON config file (default $CONFIG_FILE or config.json)")
	writeSample := flag.String("sample-config", "", "write a sample config to this path and exit")
	flag.Parse()

	if *writeSample != "" {
		if err := config.GenerateSampleConfig(*writeSample); err != nil {
			log.Fatalf("Failed to write sample config: %v", err)
		}
		log.Printf("Sample config written to %s", *writeSample)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logCfg := cfg.LoggingConfig
	logCfg.Component = "main"
	logger := logging.New(&logCfg)
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized", "level", logCfg.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Price rounding follows the traded symbol unless configured
	if cfg.RiskConfig.Digits == 0 {
		for _, spec := range cfg.BrokerConfig.Symbols {
			if spec.Symbol == cfg.StrategyConfig.Symbol {
				cfg.RiskConfig.Digits = spec.Digits
			}
		}
	}
	settings := cfg.ToStrategySettings()

	// Initialize event bus
	bus := events.NewBus()
	logLifecycle(bus, logger)
	logger.Info("Event bus initialized")

	// Brokerage connection
	sim := broker.NewSimulator(cfg.BrokerConfig.ToSimulatorConfig())
	conn := broker.NewRetryingConnection(sim, cfg.BrokerConfig.ToRetryPolicy(), logger.WithComponent("broker"))
	logger.Info("Simulated brokerage initialized", "symbols", len(cfg.BrokerConfig.Symbols))

	// Database, optional
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		db, err = openDatabase(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Warn("Database unavailable, continuing without persistence")
			db = nil
		} else {
			defer db.Close()
		}
	}

	// Strategy catalog
	var store catalog.Store = catalog.NewMemoryStore()
	var cacheService *cache.CacheService
	if db != nil {
		store = database.NewStrategyRepository(db.Pool)
	}
	if cfg.RedisConfig.Enabled {
		cs, err := cache.NewCacheService(cfg.RedisConfig, logger.WithComponent("cache"))
		if err != nil {
			logger.WithError(err).Warn("Cache disabled")
		} else {
			cacheService = cs
			defer cacheService.Close()
			store = cache.NewCachedStore(store, cacheService, cacheService.TTL(), logger.WithComponent("cache"))
			logger.Info("Catalog cache enabled", "ttl", cacheService.TTL())
		}
	}
	cat := catalog.NewService(store, logger.WithComponent("catalog"))
	seeded, err := cat.Seed(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to seed strategy catalog")
	}
	logger.Info("Strategy catalog ready", "seeded", seeded)

	classifier := market.NewClassifier(cfg.ClassifierConfig, logger.WithComponent("classifier"))

	// Pick and build the initial strategy
	strategyID := cfg.StrategyConfig.ID
	if cfg.StrategyConfig.AutoSelect {
		strategyID = autoSelect(ctx, sim, cat, classifier, settings, strategyID, logger)
	}
	strat, err := cat.Instantiate(ctx, strategyID, settings)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create strategy", "strategy", strategyID)
	}
	logger.Info("Strategy created", "strategy", strat.ID(), "symbol", settings.Symbol, "timeframe", settings.Timeframe)

	supervisor := bot.New(cfg.BotConfig.ToBotConfig(), strat, bus, logger.WithComponent("bot"))

	// Event subscribers
	var collector *metrics.Collector
	if cfg.MetricsConfig.Enabled {
		collector = metrics.NewCollector()
		collector.Attach(bus)
		logger.Info("Prometheus metrics enabled")
	}

	journalCtx, stopJournal := context.WithCancel(context.Background())
	journalDone := make(chan struct{})
	close(journalDone)
	if db != nil {
		journal := database.NewTradeJournal(database.NewTradeRepository(db.Pool), cfg.DatabaseConfig.ToJournalConfig(), logger.WithComponent("journal"))
		journal.Attach(bus)
		journalDone = make(chan struct{})
		go func() {
			defer close(journalDone)
			journal.Run(journalCtx)
		}()
		logger.Info("Trade journal started")
	}

	notifyCtx, stopNotify := context.WithCancel(context.Background())
	notifyDone := make(chan struct{})
	close(notifyDone)
	if cfg.NotifyConfig.Enabled {
		notifier := notification.NewManager(cfg.NotifyConfig.ToNotificationConfig(), logger.WithComponent("notification"))
		notifier.AddNotifier(notification.NewTelegramNotifier(cfg.NotifyConfig.Telegram))
		notifier.AddNotifier(notification.NewDiscordNotifier(cfg.NotifyConfig.Discord))
		if notifier.Enabled() {
			notifier.Attach(bus)
			notifyDone = make(chan struct{})
			go func() {
				defer close(notifyDone)
				notifier.Run(notifyCtx)
			}()
			logger.Info("Notifications enabled",
				"telegram", cfg.NotifyConfig.Telegram.Enabled, "discord", cfg.NotifyConfig.Discord.Enabled)
		} else {
			logger.Warn("Notifications enabled but no provider is configured")
		}
	}

	var influx *storage.InfluxStorage
	if cfg.InfluxConfig.Enabled {
		influx, err = storage.NewInfluxStorage(ctx, cfg.InfluxConfig, logger.WithComponent("influx"))
		if err != nil {
			logger.WithError(err).Warn("InfluxDB unavailable, time series disabled")
		} else {
			defer influx.Close()
			influx.Attach(bus)
			logger.Info("InfluxDB time series enabled", "bucket", cfg.InfluxConfig.Bucket)
		}
	}

	// Backtesting
	backtester := newBacktester(cfg, influx, logger)
	backtester.SetPerformanceRecorder(cat)
	if db != nil {
		backtester.SetResultStore(database.NewBacktestRepository(db.Pool))
	}

	// Market scanner
	marketScanner := scanner.New(conn, classifier, cat, cfg.ToScannerConfig(), logger.WithComponent("scanner"))
	marketScanner.Start(ctx)

	// API server
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig.ToAPIConfig(), api.Dependencies{
			Bot:        supervisor,
			Conn:       conn,
			Catalog:    cat,
			Classifier: classifier,
			Backtest:   backtester,
			Scanner:    marketScanner,
			Metrics:    collector,
			Cache:      cacheService,
			Settings:   settings,
		}, logger.WithComponent("api"))
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("API server stopped")
				stop()
			}
		}()
	}

	if cfg.BotConfig.AutoStart {
		go func() {
			if err := supervisor.Start(ctx, conn); err != nil {
				logger.WithError(err).Error("Failed to start bot")
			}
		}()
	}

	logger.Info("Forex trading bot running", "autoStart", cfg.BotConfig.AutoStart, "api", cfg.ServerConfig.Enabled)
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	supervisor.Stop()

	marketScanner.Stop()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		cancel()
	}

	stopJournal()
	stopNotify()
	<-journalDone
	<-notifyDone
	logger.Info("Shutdown complete")
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*database.DB, error) {
	db, err := database.NewDB(ctx, cfg.DatabaseConfig.Config, logger.WithComponent("database"))
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Database connected", "host", cfg.DatabaseConfig.Host, "database", cfg.DatabaseConfig.Database)
	return db, nil
}

// autoSelect waits for the simulator to synchronize, classifies the market
// and returns the best catalog entry for it, or fallback.
func autoSelect(ctx context.Context, sim *broker.Simulator, cat *catalog.Service, classifier *market.Classifier, settings strategy.Settings, fallback string, logger *logging.Logger) string {
	for !sim.IsSynchronized() {
		select {
		case <-ctx.Done():
			return fallback
		case <-time.After(200 * time.Millisecond):
		}
	}
	cond, err := classifier.Observe(ctx, sim, settings.Symbol, settings.Timeframe)
	if err != nil {
		logger.WithError(err).Warn("Market classification failed, using configured strategy", "strategy", fallback)
		return fallback
	}
	selected, err := cat.Select(ctx, cond)
	if err != nil {
		logger.WithError(err).Warn("Strategy selection failed, using configured strategy", "strategy", fallback)
		return fallback
	}
	logger.Info("Strategy selected for market condition",
		"strategy", selected.ID, "trend", cond.Trend, "volatility", cond.VolatilityBucket())
	return selected.ID
}

func newBacktester(cfg *config.Config, influx *storage.InfluxStorage, logger *logging.Logger) *backtest.Service {
	var source backtest.CandleSource
	switch {
	case cfg.BacktestConfig.Source == "influx" && influx != nil:
		source = influx
	default:
		if cfg.BacktestConfig.Source == "influx" {
			logger.Warn("InfluxDB not available, backtesting on simulated history")
		}
		// A separate simulator keeps replays off the live price path.
		simCfg := cfg.BrokerConfig.ToSimulatorConfig()
		simCfg.SyncDelay = 0
		source = backtest.NewSimulatorSource(broker.NewSimulator(simCfg), cfg.BacktestConfig.MaxBars)
	}
	return backtest.NewService(cfg.ToServiceConfig(), source, logger.WithComponent("backtest"))
}

// logLifecycle writes bot lifecycle events to the log.
func logLifecycle(bus *events.Bus, logger *logging.Logger) {
	l := logger.WithComponent("events")
	bus.Subscribe(events.EventStarted, func(e events.Event) {
		l.Info("Bot started", "strategy", e.String("strategy"), "symbol", e.String("symbol"))
	})
	bus.Subscribe(events.EventStopped, func(e events.Event) {
		l.Info("Bot stopped", "reason", e.String("reason"))
	})
	bus.Subscribe(events.EventTrade, func(e events.Event) {
		l.Info("Trade executed",
			"strategy", e.String("strategy"), "symbol", e.String("symbol"), "side", e.String("type"),
			"volume", e.Float("volume"), "price", e.Float("price"))
	})
	bus.Subscribe(events.EventError, func(e events.Event) {
		l.Warn("Bot error", "kind", e.String("kind"), "message", e.String("message"), "count", e.Int("errorCount"))
	})
}
