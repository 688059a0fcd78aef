// Command backtest replays catalog strategies over simulated or stored
// history and prints the results. Seed mode writes simulated history to
// InfluxDB for later runs with backtest.source "influx".
//
//	backtest -strategy macd-trend -symbol EURUSD -timeframe 1h -bars 1000
//	backtest -mode compare -strategies macd-trend,rsi-reversal,mean-reversion
//	backtest -mode optimize -strategy rsi-reversal -param rsiPeriod
//	backtest -mode seed -symbol XAUUSD -timeframe 15m -bars 5000
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"forex-trading-bot/config"
	"forex-trading-bot/internal/backtest"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/storage"
	"forex-trading-bot/internal/strategy"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the JSON config file")
		mode       = flag.String("mode", "run", "run, compare, optimize or seed")
		strategyID = flag.String("strategy", "", "strategy id (default from config)")
		strategies = flag.String("strategies", "", "comma separated ids for compare (default all)")
		param      = flag.String("param", "", "parameter to sweep in optimize mode")
		symbol     = flag.String("symbol", "", "symbol (default from config)")
		timeframe  = flag.String("timeframe", "", "timeframe (default from config)")
		bars       = flag.Int("bars", 0, "number of bars to replay (default from config)")
		balance    = flag.Float64("balance", 0, "initial balance (default from config)")
		asJSON     = flag.Bool("json", false, "print results as JSON")
		verbose    = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := cfg.LoggingConfig
	logCfg.Component = "backtest"
	logCfg.Output = "stderr"
	logCfg.Level = "WARN"
	if *verbose {
		logCfg.Level = "DEBUG"
	}
	logger := logging.New(&logCfg)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *bars > 0 {
		cfg.BacktestConfig.DefaultBars = *bars
	}
	if *mode == "seed" {
		if err := seedHistory(ctx, cfg, strings.ToUpper(*symbol), *timeframe, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	source, closeSource := historySource(ctx, cfg, logger)
	defer closeSource()
	svc := backtest.NewService(cfg.ToServiceConfig(), source, logger)

	req := backtest.Request{
		StrategyID:     lo.Ternary(*strategyID != "", *strategyID, cfg.StrategyConfig.ID),
		Symbol:         strings.ToUpper(*symbol),
		Timeframe:      *timeframe,
		InitialBalance: *balance,
	}

	var out interface{}
	switch *mode {
	case "run":
		var result *backtest.Result
		result, err = svc.Run(ctx, req)
		out = result
		if err == nil && !*asJSON {
			printResults([]*backtest.Result{result})
			printTrades(result)
		}
	case "compare":
		ids := splitIDs(*strategies)
		if len(ids) == 0 {
			ids = lo.Map(strategy.Definitions(), func(d strategy.Definition, _ int) string { return d.ID })
		}
		var results []*backtest.Result
		results, err = svc.Compare(ctx, ids, req)
		out = results
		if err == nil && !*asJSON {
			printResults(results)
		}
	case "optimize":
		if *param == "" {
			fmt.Fprintln(os.Stderr, "optimize mode needs -param")
			os.Exit(2)
		}
		var result *backtest.OptimizeResult
		result, err = svc.Optimize(ctx, req, *param)
		out = result
		if err == nil && !*asJSON {
			printSweep(result)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backtest failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode results: %v\n", err)
			os.Exit(1)
		}
	}
}

// historySource reads from InfluxDB when configured and reachable, and from
// a fresh simulator otherwise.
func historySource(ctx context.Context, cfg *config.Config, logger *logging.Logger) (backtest.CandleSource, func()) {
	if cfg.BacktestConfig.Source == "influx" {
		influx, err := storage.NewInfluxStorage(ctx, cfg.InfluxConfig, logger)
		if err == nil {
			return influx, influx.Close
		}
		logger.WithError(err).Warn("InfluxDB unavailable, using simulated history")
	}
	simCfg := cfg.BrokerConfig.ToSimulatorConfig()
	simCfg.SyncDelay = 0
	return backtest.NewSimulatorSource(broker.NewSimulator(simCfg), cfg.BacktestConfig.MaxBars), func() {}
}

// seedHistory generates DefaultBars simulated bars ending now and stores
// them in InfluxDB.
func seedHistory(ctx context.Context, cfg *config.Config, symbol, timeframe string, logger *logging.Logger) error {
	symbol = lo.Ternary(symbol != "", symbol, cfg.StrategyConfig.Symbol)
	timeframe = lo.Ternary(timeframe != "", timeframe, cfg.StrategyConfig.Timeframe)
	interval, err := broker.TimeframeDuration(timeframe)
	if err != nil {
		return err
	}

	influx, err := storage.NewInfluxStorage(ctx, cfg.InfluxConfig, logger)
	if err != nil {
		return err
	}
	defer influx.Close()

	simCfg := cfg.BrokerConfig.ToSimulatorConfig()
	simCfg.SyncDelay = 0
	source := backtest.NewSimulatorSource(broker.NewSimulator(simCfg), cfg.BacktestConfig.MaxBars)

	to := time.Now().Truncate(interval)
	from := to.Add(-time.Duration(cfg.BacktestConfig.DefaultBars-1) * interval)
	candles, err := source.History(ctx, symbol, timeframe, from, to)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no bars generated for %s", symbol)
	}
	if err := influx.SaveCandles(ctx, symbol, timeframe, candles); err != nil {
		return err
	}
	fmt.Printf("Stored %d %s %s bars from %s to %s\n", len(candles), symbol, timeframe,
		candles[0].Timestamp.Format(time.RFC3339), candles[len(candles)-1].Timestamp.Format(time.RFC3339))
	return nil
}

func splitIDs(s string) []string {
	ids := lo.Map(strings.Split(s, ","), func(id string, _ int) string { return strings.TrimSpace(id) })
	return lo.Compact(ids)
}

func printResults(results []*backtest.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tSYMBOL\tTRADES\tWIN RATE\tP/L\tSHARPE\tMAX DD\tPROFIT FACTOR")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%.2f\t%.2f\t%.1f%%\t%.2f\n",
			r.StrategyID, r.Symbol, r.TradesCount, r.WinRate, r.ProfitLoss,
			r.SharpeRatio, r.MaxDrawdown, r.ProfitFactor)
	}
	w.Flush()
	if len(results) > 0 {
		p := results[0].Period
		fmt.Printf("\n%s bars from %s to %s\n", p.Timeframe, p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	}
}

func printTrades(r *backtest.Result) {
	if len(r.Trades) == 0 {
		fmt.Println("No trades")
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIDE\tENTRY TIME\tENTRY\tEXIT\tP/L\tEXIT REASON")
	for _, t := range r.Trades {
		fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%.2f\t%s\n",
			t.Side, t.EntryTime.Format("2006-01-02 15:04"), t.EntryPrice, t.ExitPrice, t.ProfitLoss, t.ExitReason)
	}
	w.Flush()
}

func printSweep(o *backtest.OptimizeResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tTRADES\tP/L\tSHARPE\n", strings.ToUpper(o.Parameter))
	for _, r := range o.Runs {
		fmt.Fprintf(w, "%g\t%d\t%.2f\t%.2f\n", r.Parameters[o.Parameter], r.TradesCount, r.ProfitLoss, r.SharpeRatio)
	}
	w.Flush()
	fmt.Printf("\nBest %s = %g (Sharpe %.2f)\n", o.Parameter, o.Best.Parameters[o.Parameter], o.Best.SharpeRatio)
}
