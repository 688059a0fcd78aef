package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SymbolSpec describes a simulated instrument.
type SymbolSpec struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	Spread     float64 `json:"spread"`
	Digits     int32   `json:"digits"`
	Volatility float64 `json:"volatility"` // fractional stddev of one price step
}

// DefaultSymbols returns the instruments quoted by a default simulator.
func DefaultSymbols() []SymbolSpec {
	return []SymbolSpec{
		{Symbol: "XAUUSD", Price: 2350.00, Spread: 0.30, Digits: 2, Volatility: 0.0015},
		{Symbol: "EURUSD", Price: 1.0850, Spread: 0.00010, Digits: 5, Volatility: 0.0008},
		{Symbol: "GBPUSD", Price: 1.2700, Spread: 0.00015, Digits: 5, Volatility: 0.0009},
		{Symbol: "USDJPY", Price: 155.20, Spread: 0.012, Digits: 3, Volatility: 0.0009},
	}
}

// Retention limits of a Simulator.
const (
	historyBars     = 5000
	closedPositions = 1000
)

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	Symbols   []SymbolSpec
	SyncDelay time.Duration
	Seed      int64
}

// Simulator is an in-process Connection that produces a seeded random walk
// per symbol. Orders open positions which close when a later quote crosses
// their stop loss or take profit.
type Simulator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	specs     map[string]SymbolSpec
	prices    map[string]float64
	positions map[string]Position
	closed    []Position
	history   map[string][]Candle // by symbol and timeframe
	startedAt time.Time
	syncDelay time.Duration
	now       func() time.Time
}

var _ Connection = (*Simulator)(nil)

// NewSimulator creates a simulator. A zero seed uses the current time.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	symbols := cfg.Symbols
	if len(symbols) == 0 {
		symbols = DefaultSymbols()
	}

	s := &Simulator{
		rng:       rand.New(rand.NewSource(seed)),
		specs:     make(map[string]SymbolSpec, len(symbols)),
		prices:    make(map[string]float64, len(symbols)),
		positions: make(map[string]Position),
		history:   make(map[string][]Candle),
		syncDelay: cfg.SyncDelay,
		now:       time.Now,
	}
	for _, spec := range symbols {
		if spec.Volatility <= 0 {
			spec.Volatility = 0.001
		}
		s.specs[spec.Symbol] = spec
		s.prices[spec.Symbol] = spec.Price
	}
	s.startedAt = s.now()
	return s
}

// IsSynchronized reports true once the configured sync delay has elapsed.
func (s *Simulator) IsSynchronized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.startedAt) >= s.syncDelay
}

// GetSymbolPrice advances the random walk one step and returns a quote.
func (s *Simulator) GetSymbolPrice(ctx context.Context, symbol string) (PriceQuote, error) {
	if err := ctx.Err(); err != nil {
		return PriceQuote{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.specs[symbol]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	price := s.prices[symbol] * (1 + s.rng.NormFloat64()*spec.Volatility)
	s.prices[symbol] = price

	quote := s.quoteLocked(spec, price)
	s.settleLocked(symbol, quote)
	return quote, nil
}

// GetCandles returns the last count bars of the symbol's history for
// timeframe. History is generated once and then extended: new bars are
// appended as time passes, the forming bar follows the current price, and
// older bars are prepended when more are requested than exist.
func (s *Simulator) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("candle count must be positive, got %d", count)
	}
	interval, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.specs[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	// Bar volatility scales with the square root of the bar length in minutes.
	barVol := spec.Volatility * math.Sqrt(interval.Minutes())
	end := s.now().Truncate(interval)
	price := s.prices[symbol]
	key := symbol + "|" + timeframe

	bars := s.history[key]
	switch {
	case len(bars) == 0 || end.Sub(bars[len(bars)-1].Timestamp) > historyBars*interval:
		bars = s.backfillLocked(spec, barVol, price, end, interval, count)
	case end.After(bars[len(bars)-1].Timestamp):
		bars = s.advanceLocked(bars, spec, barVol, price, end, interval)
	default:
		last := &bars[len(bars)-1]
		last.Close = s.round(spec, price)
		last.High = math.Max(last.High, last.Close)
		last.Low = math.Min(last.Low, last.Close)
	}
	if missing := count - len(bars); missing > 0 {
		first := bars[0]
		older := s.backfillLocked(spec, barVol, first.Open, first.Timestamp.Add(-interval), interval, missing)
		bars = append(older, bars...)
	}
	if limit := max(historyBars, count); len(bars) > limit {
		bars = append([]Candle(nil), bars[len(bars)-limit:]...)
	}
	s.history[key] = bars

	return append([]Candle(nil), bars[len(bars)-count:]...), nil
}

// backfillLocked walks backwards from lastClose and returns n bars, the last
// one stamped at lastTime.
func (s *Simulator) backfillLocked(spec SymbolSpec, barVol, lastClose float64, lastTime time.Time, interval time.Duration, n int) []Candle {
	closes := make([]float64, n)
	closes[n-1] = lastClose
	for i := n - 1; i > 0; i-- {
		closes[i-1] = closes[i] / (1 + s.rng.NormFloat64()*barVol)
	}

	candles := make([]Candle, n)
	for i := 0; i < n; i++ {
		open := closes[i] * (1 - s.rng.NormFloat64()*barVol*0.5)
		if i > 0 {
			open = closes[i-1]
		}
		candles[i] = s.barLocked(spec, barVol, open, closes[i], lastTime.Add(-time.Duration(n-1-i)*interval))
	}
	return candles
}

// advanceLocked appends the bars between the last stored bar and end. The
// bar at end closes at price.
func (s *Simulator) advanceLocked(bars []Candle, spec SymbolSpec, barVol, price float64, end time.Time, interval time.Duration) []Candle {
	last := bars[len(bars)-1]
	prev := last.Close
	for ts := last.Timestamp.Add(interval); !ts.After(end); ts = ts.Add(interval) {
		close := price
		if ts.Before(end) {
			close = prev * (1 + s.rng.NormFloat64()*barVol)
		}
		bars = append(bars, s.barLocked(spec, barVol, prev, close, ts))
		prev = close
	}
	return bars
}

func (s *Simulator) barLocked(spec SymbolSpec, barVol, open, close float64, ts time.Time) Candle {
	high := math.Max(open, close) * (1 + s.rng.Float64()*barVol*0.5)
	low := math.Min(open, close) * (1 - s.rng.Float64()*barVol*0.5)
	return Candle{
		Open:      s.round(spec, open),
		High:      s.round(spec, high),
		Low:       s.round(spec, low),
		Close:     s.round(spec, close),
		Volume:    math.Round(500 + s.rng.Float64()*1500),
		Timestamp: ts,
	}
}

// GetPositions returns the open positions ordered by open time.
func (s *Simulator) GetPositions(ctx context.Context) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// CreateMarketBuyOrder opens a long position at the ask.
func (s *Simulator) CreateMarketBuyOrder(ctx context.Context, symbol string, volume, stopLoss, takeProfit float64) (OrderResult, error) {
	return s.open(ctx, SideBuy, symbol, volume, stopLoss, takeProfit)
}

// CreateMarketSellOrder opens a short position at the bid.
func (s *Simulator) CreateMarketSellOrder(ctx context.Context, symbol string, volume, stopLoss, takeProfit float64) (OrderResult, error) {
	return s.open(ctx, SideSell, symbol, volume, stopLoss, takeProfit)
}

// ClosedPositions returns the most recent positions closed by stop loss or
// take profit, oldest first.
func (s *Simulator) ClosedPositions() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Position(nil), s.closed...)
}

// SetPrice moves the simulated mid price of symbol.
func (s *Simulator) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[symbol]; ok {
		s.prices[symbol] = price
	}
}

func (s *Simulator) open(ctx context.Context, side Side, symbol string, volume, stopLoss, takeProfit float64) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	if volume <= 0 {
		return OrderResult{}, fmt.Errorf("%w: volume must be positive, got %v", ErrExecution, volume)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.specs[symbol]
	if !ok {
		return OrderResult{}, fmt.Errorf("%w: %w: %s", ErrExecution, ErrUnknownSymbol, symbol)
	}
	quote := s.quoteLocked(spec, s.prices[symbol])
	price := quote.EntryFor(side)

	if side == SideBuy && ((stopLoss > 0 && stopLoss >= price) || (takeProfit > 0 && takeProfit <= price)) {
		return OrderResult{}, fmt.Errorf("%w: invalid stops for buy at %v (sl=%v tp=%v)", ErrExecution, price, stopLoss, takeProfit)
	}
	if side == SideSell && ((stopLoss > 0 && stopLoss <= price) || (takeProfit > 0 && takeProfit >= price)) {
		return OrderResult{}, fmt.Errorf("%w: invalid stops for sell at %v (sl=%v tp=%v)", ErrExecution, price, stopLoss, takeProfit)
	}

	now := s.now()
	id := uuid.New().String()
	s.positions[id] = Position{
		ID:         id,
		Symbol:     symbol,
		Side:       side,
		Volume:     volume,
		OpenPrice:  price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   now,
	}
	return OrderResult{OrderID: id, Price: price, ExecutedAt: now}, nil
}

func (s *Simulator) quoteLocked(spec SymbolSpec, mid float64) PriceQuote {
	half := spec.Spread / 2
	return PriceQuote{
		Symbol: spec.Symbol,
		Bid:    s.round(spec, mid-half),
		Ask:    s.round(spec, mid+half),
		Time:   s.now(),
	}
}

// settleLocked closes positions whose stop loss or take profit was crossed.
func (s *Simulator) settleLocked(symbol string, q PriceQuote) {
	for id, p := range s.positions {
		if p.Symbol != symbol {
			continue
		}
		var hit bool
		switch p.Side {
		case SideBuy:
			hit = (p.StopLoss > 0 && q.Bid <= p.StopLoss) || (p.TakeProfit > 0 && q.Bid >= p.TakeProfit)
		case SideSell:
			hit = (p.StopLoss > 0 && q.Ask >= p.StopLoss) || (p.TakeProfit > 0 && q.Ask <= p.TakeProfit)
		}
		if hit {
			delete(s.positions, id)
			s.closed = append(s.closed, p)
		}
	}
	if excess := len(s.closed) - closedPositions; excess > 0 {
		n := copy(s.closed, s.closed[excess:])
		clear(s.closed[n:])
		s.closed = s.closed[:n]
	}
}

func (s *Simulator) round(spec SymbolSpec, v float64) float64 {
	if spec.Digits <= 0 {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(spec.Digits).Float64()
	return f
}
