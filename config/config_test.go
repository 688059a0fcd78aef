package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"forex-trading-bot/internal/broker"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StrategyConfig.ID != "gold-trend" || cfg.StrategyConfig.Symbol != "XAUUSD" {
		t.Errorf("Expected default strategy, got %+v", cfg.StrategyConfig)
	}
	if len(cfg.BrokerConfig.Symbols) != len(broker.DefaultSymbols()) {
		t.Errorf("Expected default symbols, got %d", len(cfg.BrokerConfig.Symbols))
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `{
		"strategy": {"id": "macd-trend", "symbol": "EURUSD", "timeframe": "4h", "volume": 0.5,
			"parameters": {"macdFast": 8}},
		"server": {"port": 9000},
		"database": {"enabled": true, "host": "db.internal", "journal_buffer": 64}
	}`)
	t.Setenv("WEB_PORT", "9100")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s := cfg.StrategyConfig
	if s.ID != "macd-trend" || s.Symbol != "EURUSD" || s.Timeframe != broker.TF4h || s.Volume != 0.5 {
		t.Errorf("Expected file strategy settings, got %+v", s)
	}
	if s.Parameters["macdFast"] != 8 {
		t.Errorf("Expected macdFast 8, got %v", s.Parameters["macdFast"])
	}
	// untouched sections keep their defaults
	if s.CandleCount != 100 || cfg.BacktestConfig.InitialBalance != 10000 {
		t.Errorf("Expected defaults preserved, got candles %d balance %v", s.CandleCount, cfg.BacktestConfig.InitialBalance)
	}
	if cfg.ServerConfig.Port != 9100 {
		t.Errorf("Expected env port 9100, got %d", cfg.ServerConfig.Port)
	}
	db := cfg.DatabaseConfig
	if !db.Enabled || db.Host != "db.internal" || db.Password != "secret" || db.Port != 5432 || db.JournalBuffer != 64 {
		t.Errorf("Unexpected database config %+v", db)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"strategy": `},
		{"unknown strategy", `{"strategy": {"id": "martingale"}}`},
		{"bad timeframe", `{"strategy": {"timeframe": "3h"}}`},
		{"zero volume", `{"strategy": {"volume": 0}}`},
		{"spread bounds", `{"strategy": {"min_spread": 2, "max_spread": 1}}`},
		{"backtest source", `{"backtest": {"source": "csv"}}`},
		{"port", `{"server": {"port": 70000}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestEnvOverrides_IgnoreMalformedValues(t *testing.T) {
	t.Setenv("BOT_MAX_ERRORS", "many")
	t.Setenv("BOT_AUTO_START", "yes please")
	t.Setenv("TRADING_SYMBOL", "eurusd")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.BotConfig.MaxErrors != 15 || cfg.BotConfig.AutoStart {
		t.Errorf("Expected defaults kept for malformed values, got %+v", cfg.BotConfig)
	}
	if cfg.StrategyConfig.Symbol != "EURUSD" {
		t.Errorf("Expected upper-cased symbol, got %s", cfg.StrategyConfig.Symbol)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.StrategyConfig.Parameters = map[string]float64{"emaFast": 6}
	cfg.ServerConfig.AllowedOrigins = "*, http://localhost:5173 ,http://dash.local"

	bc := cfg.BotConfig.ToBotConfig()
	if bc.TickInterval != 5*time.Second || bc.MinTradeInterval != 5*time.Minute || bc.MaxErrors != 15 {
		t.Errorf("Unexpected bot config %+v", bc)
	}

	settings := cfg.ToStrategySettings()
	settings.Parameters["emaFast"] = 99
	if cfg.StrategyConfig.Parameters["emaFast"] != 6 {
		t.Error("Expected settings parameters to be a copy")
	}
	if settings.Interval != 5*time.Second || settings.Symbol != "XAUUSD" {
		t.Errorf("Unexpected settings %+v", settings)
	}

	api := cfg.ServerConfig.ToAPIConfig()
	if len(api.AllowedOrigins) != 2 || api.AllowedOrigins[0] != "http://localhost:5173" || api.AllowedOrigins[1] != "http://dash.local" {
		t.Errorf("Unexpected origins %v", api.AllowedOrigins)
	}

	policy := cfg.BrokerConfig.ToRetryPolicy()
	if policy.MaxRetries != 3 || policy.InitialDelay != time.Second {
		t.Errorf("Unexpected retry policy %+v", policy)
	}

	svc := cfg.ToServiceConfig()
	if svc.Options.InitialBalance != 10000 || svc.DefaultBars != 500 || svc.Settings.Symbol != "XAUUSD" {
		t.Errorf("Unexpected service config %+v", svc)
	}
}

func TestGenerateSampleConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected sample config to load, got %v", err)
	}
	if cfg.StrategyConfig.ID != Default().StrategyConfig.ID {
		t.Errorf("Expected default strategy id, got %s", cfg.StrategyConfig.ID)
	}
}

func TestToScannerConfig_DefaultsToBrokerSymbols(t *testing.T) {
	cfg := Default()
	sc := cfg.ToScannerConfig()
	if len(sc.Symbols) != len(cfg.BrokerConfig.Symbols) || sc.Symbols[0] != cfg.BrokerConfig.Symbols[0].Symbol {
		t.Errorf("Expected broker symbols, got %v", sc.Symbols)
	}
	if sc.Interval != 5*time.Minute || sc.CacheTTL != time.Minute {
		t.Errorf("Unexpected timings %+v", sc)
	}

	cfg.ScannerConfig.Symbols = []string{"EURUSD"}
	if got := cfg.ToScannerConfig().Symbols; len(got) != 1 || got[0] != "EURUSD" {
		t.Errorf("Expected configured symbols, got %v", got)
	}
}

func TestNotificationEnv(t *testing.T) {
	t.Setenv("NOTIFICATIONS_ENABLED", "true")
	t.Setenv("TELEGRAM_ENABLED", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg := Default()
	applyEnvOverrides(cfg)

	n := cfg.NotifyConfig
	if !n.Enabled || !n.Telegram.Enabled || n.Telegram.BotToken != "123:abc" || n.Telegram.ChatID != "42" {
		t.Errorf("Unexpected notification config %+v", n)
	}
	if n.Discord.Enabled {
		t.Error("Expected discord to stay disabled")
	}
	if got := n.ToNotificationConfig().ErrorCooldown; got != time.Minute {
		t.Errorf("Expected 1m error cooldown, got %v", got)
	}
}
