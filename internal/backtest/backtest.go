package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/strategy"
)

// ErrInvalidRequest is returned for requests that cannot be replayed.
var ErrInvalidRequest = errors.New("invalid backtest request")

// CandleSource loads historical bars for a window, oldest first.
type CandleSource interface {
	History(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]broker.Candle, error)
}

// ResultStore persists finished runs.
type ResultStore interface {
	Save(ctx context.Context, result *Result) error
}

// PerformanceRecorder receives the metrics of a finished run for a catalog
// entry.
type PerformanceRecorder interface {
	RecordPerformance(ctx context.Context, id string, metrics market.PerformanceMetrics) error
}

// Request describes one backtest.
type Request struct {
	StrategyID     string             `json:"strategyId"`
	Symbol         string             `json:"symbol"`
	Timeframe      string             `json:"timeframe"`
	Parameters     map[string]float64 `json:"parameters,omitempty"`
	From           time.Time          `json:"from"`
	To             time.Time          `json:"to"`
	InitialBalance float64            `json:"initialBalance"`
}

// OptimizeResult is the outcome of a single-parameter sweep.
type OptimizeResult struct {
	Parameter string    `json:"parameter"`
	Values    []float64 `json:"values"`
	Best      *Result   `json:"best"`
	Runs      []*Result `json:"runs"`
}

// ServiceConfig holds the defaults applied to every request.
type ServiceConfig struct {
	Settings strategy.Settings
	Options  Options
	// DefaultBars sizes the window when a request leaves From empty.
	DefaultBars int
	// MaxSweep caps the number of runs in one optimization.
	MaxSweep int
}

// Metrics returns the catalog view of r.
func (r *Result) Metrics() market.PerformanceMetrics {
	return market.PerformanceMetrics{
		SharpeRatio: r.SharpeRatio,
		WinRate:     r.WinRate,
		ProfitLoss:  r.ProfitLoss,
		MaxDrawdown: r.MaxDrawdown,
		TradesCount: r.TradesCount,
		UpdatedAt:   r.CreatedAt,
	}
}

// Service loads history and runs, compares and optimizes strategies.
type Service struct {
	cfg    ServiceConfig
	engine *Engine
	source CandleSource
	store  ResultStore
	perf   PerformanceRecorder
	logger *logging.Logger
	now    func() time.Time
}

// NewService creates a backtest service reading history from source.
func NewService(cfg ServiceConfig, source CandleSource, logger *logging.Logger) *Service {
	if cfg.DefaultBars <= 0 {
		cfg.DefaultBars = 500
	}
	if cfg.MaxSweep <= 0 {
		cfg.MaxSweep = 50
	}
	if cfg.Options.InitialBalance <= 0 {
		cfg.Options.InitialBalance = 10000
	}
	logger = logging.OrDefault(logger, "backtest")
	return &Service{
		cfg:    cfg,
		engine: NewEngine(logger),
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// SetResultStore sets where finished runs are saved.
func (s *Service) SetResultStore(store ResultStore) {
	s.store = store
}

// SetPerformanceRecorder sets who receives run metrics.
func (s *Service) SetPerformanceRecorder(perf PerformanceRecorder) {
	s.perf = perf
}

// Run replays one strategy and records its result.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	candles, err := s.history(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.replay(ctx, req, candles)
	if err != nil {
		return nil, err
	}
	s.record(ctx, req.StrategyID, result)
	return result, nil
}

// Compare replays each strategy over the same history and returns the
// results ordered by Sharpe ratio, best first.
func (s *Service) Compare(ctx context.Context, ids []string, req Request) ([]*Result, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no strategies to compare", ErrInvalidRequest)
	}
	req.StrategyID = ids[0]
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	candles, err := s.history(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		r := req
		r.StrategyID = id
		result, err := s.replay(ctx, r, candles)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", id, err)
		}
		s.record(ctx, id, result)
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SharpeRatio > results[j].SharpeRatio
	})
	return results, nil
}

// Optimize sweeps paramName from its minimum to its maximum by its step,
// holding the other request parameters fixed, and returns the run with the
// best Sharpe ratio. Only the best run is recorded.
func (s *Service) Optimize(ctx context.Context, req Request, paramName string) (*OptimizeResult, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	def, _ := strategy.Lookup(req.StrategyID)
	param, ok := lo.Find(def.Parameters, func(p strategy.StrategyParameter) bool {
		return p.Name == paramName
	})
	if !ok {
		return nil, fmt.Errorf("%w: strategy %s has no parameter %q", ErrInvalidRequest, req.StrategyID, paramName)
	}

	values := sweepValues(param)
	if len(values) > s.cfg.MaxSweep {
		s.logger.Warn("Parameter sweep truncated",
			"parameter", paramName, "values", len(values), "max", s.cfg.MaxSweep)
		values = values[:s.cfg.MaxSweep]
	}

	candles, err := s.history(ctx, req)
	if err != nil {
		return nil, err
	}

	runs := make([]*Result, 0, len(values))
	for _, v := range values {
		r := req
		r.Parameters = lo.Assign(req.Parameters, map[string]float64{paramName: v})
		result, err := s.replay(ctx, r, candles)
		if err != nil {
			return nil, fmt.Errorf("%s=%v: %w", paramName, v, err)
		}
		runs = append(runs, result)
	}

	best := lo.MaxBy(runs, func(a, b *Result) bool {
		return a.SharpeRatio > b.SharpeRatio
	})
	s.record(ctx, req.StrategyID, best)

	s.logger.Info("Optimization completed",
		"strategy", req.StrategyID,
		"parameter", paramName,
		"runs", len(runs),
		"best", best.Parameters[paramName],
		"sharpe", best.SharpeRatio,
	)
	return &OptimizeResult{Parameter: paramName, Values: values, Best: best, Runs: runs}, nil
}

// sweepValues lists the values of p from Min to Max inclusive.
func sweepValues(p strategy.StrategyParameter) []float64 {
	if p.Step <= 0 || p.Max <= p.Min {
		return lo.Uniq([]float64{p.Min, p.Max})
	}
	return lo.RangeWithSteps(p.Min, p.Max+p.Step/2, p.Step)
}

func (s *Service) normalize(req Request) (Request, error) {
	if req.StrategyID == "" {
		return req, fmt.Errorf("%w: strategy id is required", ErrInvalidRequest)
	}
	if _, ok := strategy.Lookup(req.StrategyID); !ok {
		return req, fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, req.StrategyID)
	}
	if req.Symbol == "" {
		req.Symbol = s.cfg.Settings.Symbol
	}
	if req.Timeframe == "" {
		req.Timeframe = s.cfg.Settings.Timeframe
	}
	interval, err := broker.TimeframeDuration(req.Timeframe)
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.To.IsZero() {
		req.To = s.now().Truncate(interval)
	}
	if req.From.IsZero() {
		req.From = req.To.Add(-time.Duration(s.cfg.DefaultBars-1) * interval)
	}
	if !req.To.After(req.From) {
		return req, fmt.Errorf("%w: window end %s is not after start %s", ErrInvalidRequest,
			req.To.Format(time.RFC3339), req.From.Format(time.RFC3339))
	}
	if req.InitialBalance <= 0 {
		req.InitialBalance = s.cfg.Options.InitialBalance
	}
	return req, nil
}

func (s *Service) history(ctx context.Context, req Request) ([]broker.Candle, error) {
	candles, err := s.source.History(ctx, req.Symbol, req.Timeframe, req.From, req.To)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", req.Symbol, err)
	}
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}
	return candles, nil
}

func (s *Service) replay(ctx context.Context, req Request, candles []broker.Candle) (*Result, error) {
	settings := s.cfg.Settings
	settings.Symbol = req.Symbol
	settings.Timeframe = req.Timeframe
	settings.Parameters = req.Parameters

	strat, err := strategy.New(req.StrategyID, settings, s.logger)
	if err != nil {
		return nil, err
	}

	opts := s.cfg.Options
	opts.Symbol = req.Symbol
	opts.Timeframe = req.Timeframe
	opts.InitialBalance = req.InitialBalance
	return s.engine.Run(ctx, strat, candles, opts)
}

// record hands result to the store and the performance recorder. Failures
// are logged and do not fail the run.
func (s *Service) record(ctx context.Context, id string, result *Result) {
	if s.store != nil {
		if err := s.store.Save(ctx, result); err != nil {
			s.logger.WithError(err).Warn("Failed to save backtest result", "id", result.ID)
		}
	}
	if s.perf != nil {
		if err := s.perf.RecordPerformance(ctx, id, result.Metrics()); err != nil {
			s.logger.WithError(err).Warn("Failed to record strategy performance", "strategy", id)
		}
	}
}

// SimulatorSource generates history from a simulator random walk. Bars are
// stamped from the start of the requested window.
type SimulatorSource struct {
	sim     *broker.Simulator
	maxBars int
}

// NewSimulatorSource creates a source capped at maxBars bars per window.
func NewSimulatorSource(sim *broker.Simulator, maxBars int) *SimulatorSource {
	if maxBars <= 0 {
		maxBars = 5000
	}
	return &SimulatorSource{sim: sim, maxBars: maxBars}
}

// History implements CandleSource.
func (s *SimulatorSource) History(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]broker.Candle, error) {
	interval, err := broker.TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, fmt.Errorf("window end %s is not after start %s", to, from)
	}
	count := int(to.Sub(from)/interval) + 1
	if count > s.maxBars {
		count = s.maxBars
	}

	candles, err := s.sim.GetCandles(ctx, symbol, timeframe, count)
	if err != nil {
		return nil, err
	}
	for i := range candles {
		candles[i].Timestamp = from.Add(time.Duration(i) * interval)
	}
	return candles, nil
}
