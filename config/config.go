package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"forex-trading-bot/internal/api"
	"forex-trading-bot/internal/backtest"
	"forex-trading-bot/internal/bot"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/cache"
	"forex-trading-bot/internal/database"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/notification"
	"forex-trading-bot/internal/risk"
	"forex-trading-bot/internal/scanner"
	"forex-trading-bot/internal/storage"
	"forex-trading-bot/internal/strategy"
)

// DefaultPath is the config file read when Load gets an empty path.
const DefaultPath = "config.json"

// Config holds all application configuration
type Config struct {
	BrokerConfig     BrokerConfig            `json:"broker"`
	BotConfig        BotConfig               `json:"bot"`
	StrategyConfig   StrategyConfig          `json:"strategy"`
	RiskConfig       risk.Config             `json:"risk"`
	ClassifierConfig market.ClassifierConfig `json:"classifier"`
	BacktestConfig   BacktestConfig          `json:"backtest"`
	ScannerConfig    ScannerConfig           `json:"scanner"`
	LoggingConfig    logging.Config          `json:"logging"`
	ServerConfig     ServerConfig            `json:"server"`
	DatabaseConfig   DatabaseConfig          `json:"database"`
	RedisConfig      cache.Config            `json:"redis"`
	InfluxConfig     storage.Config          `json:"influx"`
	MetricsConfig    MetricsConfig           `json:"metrics"`
	NotifyConfig     NotificationConfig      `json:"notifications"`
}

// BrokerConfig configures the simulated brokerage and market data retries
type BrokerConfig struct {
	Symbols          []broker.SymbolSpec `json:"symbols"`
	SyncDelaySeconds int                 `json:"sync_delay_seconds"`
	Seed             int64               `json:"seed"`
	MaxRetries       int                 `json:"max_retries"`
	RetryDelayMillis int                 `json:"retry_delay_millis"`
}

// BotConfig holds supervisor timings, in seconds
type BotConfig struct {
	TickIntervalSeconds     int  `json:"tick_interval_seconds"` // 0 uses the strategy interval
	SyncPollSeconds         int  `json:"sync_poll_seconds"`
	MinTradeIntervalSeconds int  `json:"min_trade_interval_seconds"`
	MaxErrors               int  `json:"max_errors"`
	AutoStart               bool `json:"auto_start"`
}

// StrategyConfig selects the strategy the bot starts with
type StrategyConfig struct {
	ID              string             `json:"id"`
	AutoSelect      bool               `json:"auto_select"` // pick by market condition at startup
	Symbol          string             `json:"symbol"`
	Timeframe       string             `json:"timeframe"`
	IntervalSeconds int                `json:"interval_seconds"`
	Volume          float64            `json:"volume"`
	MinSpread       float64            `json:"min_spread"`
	MaxSpread       float64            `json:"max_spread"`
	CandleCount     int                `json:"candle_count"`
	Parameters      map[string]float64 `json:"parameters"`
}

// BacktestConfig holds replay costs and window limits
type BacktestConfig struct {
	InitialBalance float64 `json:"initial_balance"`
	ContractSize   float64 `json:"contract_size"`
	Spread         float64 `json:"spread"`
	Commission     float64 `json:"commission"`
	DefaultBars    int     `json:"default_bars"`
	MaxBars        int     `json:"max_bars"`
	MaxSweep       int     `json:"max_sweep"`
	// Source is "simulator" or "influx".
	Source string `json:"source"`
}

// ScannerConfig configures the background market scan
type ScannerConfig struct {
	Enabled         bool     `json:"enabled"`
	IntervalSeconds int      `json:"interval_seconds"`
	Timeframe       string   `json:"timeframe"`
	Symbols         []string `json:"symbols"` // empty scans every broker symbol
	WorkerCount     int      `json:"worker_count"`
	CacheTTLSeconds int      `json:"cache_ttl_seconds"`
	MaxResults      int      `json:"max_results"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled           bool   `json:"enabled"`
	Port              int    `json:"port"`
	Host              string `json:"host"`
	ProductionMode    bool   `json:"production_mode"`
	AllowedOrigins    string `json:"allowed_origins"` // comma separated, empty allows all
	BacktestRateLimit int    `json:"backtest_rate_limit"`
	ShutdownTimeout   int    `json:"shutdown_timeout"` // Seconds
}

// DatabaseConfig holds PostgreSQL settings and the trade journal queue
type DatabaseConfig struct {
	Enabled bool `json:"enabled"`
	database.Config
	JournalBuffer     int `json:"journal_buffer"`
	JournalMaxRetries int `json:"journal_max_retries"`
}

// NotificationConfig configures chat alerts for bot events
type NotificationConfig struct {
	Enabled              bool                        `json:"enabled"`
	ErrorCooldownSeconds int                         `json:"error_cooldown_seconds"`
	Telegram             notification.TelegramConfig `json:"telegram"`
	Discord              notification.DiscordConfig  `json:"discord"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		BrokerConfig: BrokerConfig{
			Symbols:          broker.DefaultSymbols(),
			SyncDelaySeconds: 2,
			Seed:             1,
			MaxRetries:       3,
			RetryDelayMillis: 1000,
		},
		BotConfig: BotConfig{
			TickIntervalSeconds:     5,
			SyncPollSeconds:         3,
			MinTradeIntervalSeconds: 300,
			MaxErrors:               15,
		},
		StrategyConfig: StrategyConfig{
			ID:              "gold-trend",
			Symbol:          "XAUUSD",
			Timeframe:       broker.TF1h,
			IntervalSeconds: 5,
			Volume:          0.1,
			CandleCount:     100,
		},
		ClassifierConfig: market.DefaultClassifierConfig(),
		BacktestConfig: BacktestConfig{
			InitialBalance: 10000,
			ContractSize:   1,
			DefaultBars:    500,
			MaxBars:        5000,
			MaxSweep:       50,
			Source:         "simulator",
		},
		ScannerConfig: ScannerConfig{
			Enabled:         true,
			IntervalSeconds: 300,
			Timeframe:       broker.TF1h,
			WorkerCount:     4,
			CacheTTLSeconds: 60,
		},
		LoggingConfig: logging.Config{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		ServerConfig: ServerConfig{
			Enabled:           true,
			Port:              8090,
			Host:              "0.0.0.0",
			BacktestRateLimit: 30,
			ShutdownTimeout:   10,
		},
		DatabaseConfig: DatabaseConfig{
			Config: database.Config{
				Host:     "localhost",
				Port:     5432,
				User:     "forex",
				Database: "forex_bot",
				SSLMode:  "disable",
				MaxConns: 10,
			},
			JournalBuffer:     256,
			JournalMaxRetries: 3,
		},
		RedisConfig: cache.Config{
			Address:  "localhost:6379",
			PoolSize: 10,
			TTL:      cache.DefaultTTL,
		},
		InfluxConfig: storage.Config{
			URL:          "http://localhost:8086",
			Organization: "forex",
			Bucket:       "forex_bot",
		},
		MetricsConfig: MetricsConfig{Enabled: true},
		NotifyConfig:  NotificationConfig{ErrorCooldownSeconds: 60},
	}
}

// Load builds the configuration from defaults, the JSON file at path,
// a .env file and the environment, in increasing precedence, and validates
// the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	// .env only fills variables that are not already set
	_ = godotenv.Load()

	if path == "" {
		path = getEnvOrDefault("CONFIG_FILE", DefaultPath)
	}

	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Broker
	cfg.BrokerConfig.SyncDelaySeconds = getEnvIntOrDefault("BROKER_SYNC_DELAY_SECONDS", cfg.BrokerConfig.SyncDelaySeconds)
	cfg.BrokerConfig.Seed = int64(getEnvIntOrDefault("BROKER_SEED", int(cfg.BrokerConfig.Seed)))
	cfg.BrokerConfig.MaxRetries = getEnvIntOrDefault("BROKER_MAX_RETRIES", cfg.BrokerConfig.MaxRetries)
	cfg.BrokerConfig.RetryDelayMillis = getEnvIntOrDefault("BROKER_RETRY_DELAY_MS", cfg.BrokerConfig.RetryDelayMillis)

	// Bot
	cfg.BotConfig.TickIntervalSeconds = getEnvIntOrDefault("BOT_TICK_INTERVAL_SECONDS", cfg.BotConfig.TickIntervalSeconds)
	cfg.BotConfig.MinTradeIntervalSeconds = getEnvIntOrDefault("BOT_MIN_TRADE_INTERVAL_SECONDS", cfg.BotConfig.MinTradeIntervalSeconds)
	cfg.BotConfig.MaxErrors = getEnvIntOrDefault("BOT_MAX_ERRORS", cfg.BotConfig.MaxErrors)
	cfg.BotConfig.AutoStart = getEnvBoolOrDefault("BOT_AUTO_START", cfg.BotConfig.AutoStart)

	// Strategy
	cfg.StrategyConfig.ID = getEnvOrDefault("STRATEGY_ID", cfg.StrategyConfig.ID)
	cfg.StrategyConfig.AutoSelect = getEnvBoolOrDefault("STRATEGY_AUTO_SELECT", cfg.StrategyConfig.AutoSelect)
	cfg.StrategyConfig.Symbol = strings.ToUpper(getEnvOrDefault("TRADING_SYMBOL", cfg.StrategyConfig.Symbol))
	cfg.StrategyConfig.Timeframe = getEnvOrDefault("TRADING_TIMEFRAME", cfg.StrategyConfig.Timeframe)
	cfg.StrategyConfig.Volume = getEnvFloatOrDefault("TRADING_VOLUME", cfg.StrategyConfig.Volume)

	// Backtest
	cfg.BacktestConfig.InitialBalance = getEnvFloatOrDefault("BACKTEST_INITIAL_BALANCE", cfg.BacktestConfig.InitialBalance)
	cfg.BacktestConfig.Source = getEnvOrDefault("BACKTEST_SOURCE", cfg.BacktestConfig.Source)

	// Scanner
	cfg.ScannerConfig.Enabled = getEnvBoolOrDefault("SCANNER_ENABLED", cfg.ScannerConfig.Enabled)
	cfg.ScannerConfig.IntervalSeconds = getEnvIntOrDefault("SCANNER_INTERVAL_SECONDS", cfg.ScannerConfig.IntervalSeconds)
	cfg.ScannerConfig.WorkerCount = getEnvIntOrDefault("SCANNER_WORKERS", cfg.ScannerConfig.WorkerCount)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Server
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)

	// Database
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.TTL = getEnvDurationOrDefault("REDIS_TTL", cfg.RedisConfig.TTL)

	// InfluxDB
	cfg.InfluxConfig.Enabled = getEnvBoolOrDefault("INFLUX_ENABLED", cfg.InfluxConfig.Enabled)
	cfg.InfluxConfig.URL = getEnvOrDefault("INFLUX_URL", cfg.InfluxConfig.URL)
	cfg.InfluxConfig.Token = getEnvOrDefault("INFLUX_TOKEN", cfg.InfluxConfig.Token)
	cfg.InfluxConfig.Organization = getEnvOrDefault("INFLUX_ORG", cfg.InfluxConfig.Organization)
	cfg.InfluxConfig.Bucket = getEnvOrDefault("INFLUX_BUCKET", cfg.InfluxConfig.Bucket)

	cfg.MetricsConfig.Enabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.MetricsConfig.Enabled)

	// Notifications
	cfg.NotifyConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotifyConfig.Enabled)
	cfg.NotifyConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotifyConfig.Telegram.Enabled)
	cfg.NotifyConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotifyConfig.Telegram.BotToken)
	cfg.NotifyConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotifyConfig.Telegram.ChatID)
	cfg.NotifyConfig.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.NotifyConfig.Discord.Enabled)
	cfg.NotifyConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotifyConfig.Discord.WebhookURL)
}

// Validate reports the first setting that would keep the bot from starting.
func (c *Config) Validate() error {
	s := c.StrategyConfig
	if _, ok := strategy.Lookup(s.ID); !ok {
		return fmt.Errorf("strategy.id: unknown strategy %q", s.ID)
	}
	if s.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if !broker.ValidTimeframe(s.Timeframe) {
		return fmt.Errorf("strategy.timeframe: unsupported timeframe %q", s.Timeframe)
	}
	if s.Volume <= 0 {
		return fmt.Errorf("strategy.volume must be positive, got %v", s.Volume)
	}
	if s.MaxSpread > 0 && s.MinSpread > s.MaxSpread {
		return fmt.Errorf("strategy.min_spread %v is above max_spread %v", s.MinSpread, s.MaxSpread)
	}
	if c.BotConfig.MaxErrors <= 0 {
		return fmt.Errorf("bot.max_errors must be positive, got %d", c.BotConfig.MaxErrors)
	}
	if c.BrokerConfig.MaxRetries < 0 {
		return fmt.Errorf("broker.max_retries must not be negative")
	}
	if c.BacktestConfig.InitialBalance <= 0 {
		return fmt.Errorf("backtest.initial_balance must be positive")
	}
	switch c.BacktestConfig.Source {
	case "simulator", "influx":
	default:
		return fmt.Errorf("backtest.source: expected simulator or influx, got %q", c.BacktestConfig.Source)
	}
	if c.ScannerConfig.Enabled && !broker.ValidTimeframe(c.ScannerConfig.Timeframe) {
		return fmt.Errorf("scanner.timeframe: unsupported timeframe %q", c.ScannerConfig.Timeframe)
	}
	if c.ServerConfig.Enabled && (c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535) {
		return fmt.Errorf("server.port out of range: %d", c.ServerConfig.Port)
	}
	return nil
}

// ToStrategySettings converts the strategy section, with the risk section
// folded in.
func (c *Config) ToStrategySettings() strategy.Settings {
	s := c.StrategyConfig
	params := make(map[string]float64, len(s.Parameters))
	for k, v := range s.Parameters {
		params[k] = v
	}
	return strategy.Settings{
		Symbol:      s.Symbol,
		Timeframe:   s.Timeframe,
		Interval:    time.Duration(s.IntervalSeconds) * time.Second,
		Volume:      s.Volume,
		MinSpread:   s.MinSpread,
		MaxSpread:   s.MaxSpread,
		CandleCount: s.CandleCount,
		Risk:        c.RiskConfig,
		Parameters:  params,
	}
}

// ToBotConfig converts BotConfig to the supervisor configuration
func (c *BotConfig) ToBotConfig() bot.Config {
	return bot.Config{
		TickInterval:     time.Duration(c.TickIntervalSeconds) * time.Second,
		SyncPollInterval: time.Duration(c.SyncPollSeconds) * time.Second,
		MinTradeInterval: time.Duration(c.MinTradeIntervalSeconds) * time.Second,
		MaxErrors:        c.MaxErrors,
	}
}

// ToSimulatorConfig converts BrokerConfig to the simulator configuration
func (c *BrokerConfig) ToSimulatorConfig() broker.SimulatorConfig {
	return broker.SimulatorConfig{
		Symbols:   c.Symbols,
		SyncDelay: time.Duration(c.SyncDelaySeconds) * time.Second,
		Seed:      c.Seed,
	}
}

// ToRetryPolicy converts BrokerConfig to the market data retry policy
func (c *BrokerConfig) ToRetryPolicy() broker.RetryPolicy {
	return broker.RetryPolicy{
		MaxRetries:   c.MaxRetries,
		InitialDelay: time.Duration(c.RetryDelayMillis) * time.Millisecond,
	}
}

// ToServiceConfig converts BacktestConfig for the backtest service
func (c *Config) ToServiceConfig() backtest.ServiceConfig {
	b := c.BacktestConfig
	return backtest.ServiceConfig{
		Settings: c.ToStrategySettings(),
		Options: backtest.Options{
			InitialBalance: b.InitialBalance,
			ContractSize:   b.ContractSize,
			Spread:         b.Spread,
			Commission:     b.Commission,
		},
		DefaultBars: b.DefaultBars,
		MaxSweep:    b.MaxSweep,
	}
}

// ToScannerConfig converts the scanner section. Without configured symbols
// every broker symbol is scanned.
func (c *Config) ToScannerConfig() scanner.Config {
	sc := c.ScannerConfig
	symbols := sc.Symbols
	if len(symbols) == 0 {
		for _, spec := range c.BrokerConfig.Symbols {
			symbols = append(symbols, spec.Symbol)
		}
	}
	return scanner.Config{
		Enabled:     sc.Enabled,
		Interval:    time.Duration(sc.IntervalSeconds) * time.Second,
		Timeframe:   sc.Timeframe,
		Symbols:     symbols,
		WorkerCount: sc.WorkerCount,
		CacheTTL:    time.Duration(sc.CacheTTLSeconds) * time.Second,
		MaxResults:  sc.MaxResults,
	}
}

// ToNotificationConfig converts the delivery settings
func (c *NotificationConfig) ToNotificationConfig() notification.Config {
	return notification.Config{
		MaxRetries:    2,
		RetryInterval: time.Second,
		ErrorCooldown: time.Duration(c.ErrorCooldownSeconds) * time.Second,
	}
}

// ToAPIConfig converts ServerConfig to the format expected by the api package
func (c *ServerConfig) ToAPIConfig() api.ServerConfig {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" && o != "*" {
			origins = append(origins, o)
		}
	}
	return api.ServerConfig{
		Port:              c.Port,
		Host:              c.Host,
		ProductionMode:    c.ProductionMode,
		AllowedOrigins:    origins,
		BacktestRateLimit: c.BacktestRateLimit,
	}
}

// ToJournalConfig converts the journal settings
func (c *DatabaseConfig) ToJournalConfig() database.JournalConfig {
	return database.JournalConfig{
		Buffer:        c.JournalBuffer,
		MaxRetries:    uint64(c.JournalMaxRetries),
		RetryInterval: time.Second,
	}
}

// loadFromFile overlays the JSON file at filename onto cfg.
func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", filename, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes the default configuration to filename
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
