package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
)

// ErrNoSymbols is returned by Scan when there is nothing to scan.
var ErrNoSymbols = errors.New("no symbols to scan")

// Ranker orders catalog entries for a market condition, best first.
type Ranker interface {
	Rank(ctx context.Context, cond market.Condition) ([]market.TradingStrategy, error)
}

// Scanner classifies every configured symbol and picks the active catalog
// strategy best suited to each
type Scanner struct {
	conn       broker.Connection
	classifier *market.Classifier
	ranker     Ranker
	config     Config
	cache      *opportunityCache
	logger     *logging.Logger
	now        func() time.Time

	mu         sync.RWMutex
	lastResult *ScanResult
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a new scanner instance
func New(conn broker.Connection, classifier *market.Classifier, ranker Ranker, config Config, logger *logging.Logger) *Scanner {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.Timeframe == "" {
		config.Timeframe = broker.TF1h
	}
	config.Symbols = lo.Uniq(config.Symbols)
	return &Scanner{
		conn:       conn,
		classifier: classifier,
		ranker:     ranker,
		config:     config,
		cache:      newOpportunityCache(config.CacheTTL),
		logger:     logging.OrDefault(logger, "scanner"),
		now:        time.Now,
	}
}

// Start begins the background scan loop. It is a no-op when the scanner is
// disabled or already running.
func (sc *Scanner) Start(ctx context.Context) {
	if !sc.config.Enabled {
		sc.logger.Info("Market scanner is disabled")
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cancel != nil {
		return
	}

	ctx, sc.cancel = context.WithCancel(ctx)
	sc.wg.Add(1)
	go sc.runScanLoop(ctx)
	sc.logger.Info("Market scanner started", "symbols", len(sc.config.Symbols), "interval", sc.config.Interval)
}

// Stop ends the scan loop and waits for it to exit.
func (sc *Scanner) Stop() {
	sc.mu.Lock()
	cancel := sc.cancel
	sc.cancel = nil
	sc.mu.Unlock()

	if cancel != nil {
		cancel()
		sc.wg.Wait()
		sc.logger.Info("Market scanner stopped")
	}
}

func (sc *Scanner) runScanLoop(ctx context.Context) {
	defer sc.wg.Done()

	ticker := time.NewTicker(sc.config.Interval)
	defer ticker.Stop()

	// Run immediately
	sc.scanAndLog(ctx)

	for {
		select {
		case <-ticker.C:
			sc.cache.cleanupExpired()
			sc.scanAndLog(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (sc *Scanner) scanAndLog(ctx context.Context) {
	if _, err := sc.Scan(ctx); err != nil && ctx.Err() == nil {
		sc.logger.WithError(err).Warn("Market scan failed")
	}
}

// Scan runs one scan cycle across the configured symbols and stores it as
// the last result.
func (sc *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	symbols := sc.config.Symbols
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	startTime := sc.now()
	result := &ScanResult{
		ScanID:         uuid.NewString(),
		StartTime:      startTime,
		SymbolsScanned: len(symbols),
		Results:        []Opportunity{},
	}

	type outcome struct {
		symbol string
		opp    *Opportunity
		err    error
	}
	symbolChan := make(chan string)
	outcomes := make(chan outcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < min(sc.config.WorkerCount, len(symbols)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range symbolChan {
				opp, err := sc.scanSymbol(ctx, symbol)
				outcomes <- outcome{symbol: symbol, opp: opp, err: err}
			}
		}()
	}

	go func() {
		defer close(symbolChan)
		for _, symbol := range symbols {
			select {
			case symbolChan <- symbol:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	seen := 0
	for o := range outcomes {
		seen++
		switch {
		case o.err != nil:
			result.Failed++
			sc.logger.Debug("Symbol scan failed", "symbol", o.symbol, "error", o.err)
		case o.opp.StrategyID == "":
			result.Unmatched++
		default:
			result.Results = append(result.Results, *o.opp)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan interrupted after %d of %d symbols: %w", seen, len(symbols), err)
	}

	sort.SliceStable(result.Results, func(i, j int) bool {
		a, b := result.Results[i], result.Results[j]
		if a.ReadinessScore != b.ReadinessScore {
			return a.ReadinessScore > b.ReadinessScore
		}
		return a.Symbol < b.Symbol
	})
	if sc.config.MaxResults > 0 && len(result.Results) > sc.config.MaxResults {
		result.Results = result.Results[:sc.config.MaxResults]
	}

	result.EndTime = sc.now()
	result.Duration = result.EndTime.Sub(startTime)

	sc.mu.Lock()
	sc.lastResult = result
	sc.mu.Unlock()

	sc.logger.Info("Market scan completed",
		"scanId", result.ScanID,
		"duration", result.Duration,
		"opportunities", len(result.Results),
		"unmatched", result.Unmatched,
		"failed", result.Failed,
	)
	return result, nil
}

// LastResult returns the most recent scan result, or nil before the first
// scan completes.
func (sc *Scanner) LastResult() *ScanResult {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.lastResult
}

// Config returns the effective configuration.
func (sc *Scanner) Config() Config {
	return sc.config
}

// scanSymbol classifies one symbol and ranks the active catalog for it. An
// opportunity with an empty StrategyID means nothing suits the market.
func (sc *Scanner) scanSymbol(ctx context.Context, symbol string) (*Opportunity, error) {
	key := cacheKey(symbol, sc.config.Timeframe)
	if cached := sc.cache.get(key); cached != nil {
		return cached, nil
	}

	quote, err := sc.conn.GetSymbolPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	cond, err := sc.classifier.Observe(ctx, sc.conn, symbol, sc.config.Timeframe)
	if err != nil {
		return nil, err
	}
	ranked, err := sc.ranker.Rank(ctx, cond)
	if err != nil {
		return nil, fmt.Errorf("rank: %w", err)
	}
	active := lo.Filter(ranked, func(t market.TradingStrategy, _ int) bool {
		return t.Status == market.StatusActive
	})

	opp := &Opportunity{
		Symbol:      symbol,
		Timeframe:   sc.config.Timeframe,
		Price:       quote.Mid(),
		Spread:      quote.Spread(),
		Condition:   cond,
		Candidates:  lo.Map(active, func(t market.TradingStrategy, _ int) string { return t.ID }),
		EvaluatedAt: sc.now(),
	}
	if len(active) > 0 {
		best := active[0]
		opp.StrategyID = best.ID
		opp.StrategyName = best.Name
		opp.ReadinessScore = readiness(best, cond)
	}

	sc.cache.set(key, opp)
	return opp, nil
}

// readiness scores cond against the closest of entry's conditions sharing
// its trend and timeframe: 100 at an exact match, 0 at the tolerance edge.
func readiness(entry market.TradingStrategy, cond market.Condition) float64 {
	conds := append([]market.Condition{entry.MarketConditions.Optimal}, entry.MarketConditions.Acceptable...)
	best := 0.0
	for _, c := range conds {
		if c.Trend != cond.Trend || c.Timeframe != cond.Timeframe {
			continue
		}
		dv := math.Abs(c.Volatility-cond.Volatility) / market.VolatilityTolerance
		dvol := math.Abs(c.Volume-cond.Volume) / market.VolumeTolerance
		best = math.Max(best, 1-(dv+dvol)/2)
	}
	return math.Round(best*1000) / 10
}
