// Package brokertest provides a scriptable broker.Connection for tests.
package brokertest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"forex-trading-bot/internal/broker"
)

// Order records one order placed through a Fake.
type Order struct {
	Side       broker.Side
	Symbol     string
	Volume     float64
	StopLoss   float64
	TakeProfit float64
}

// Fake is an in-memory Connection whose responses are set by the test.
type Fake struct {
	mu sync.Mutex

	quote     broker.PriceQuote
	candles   []broker.Candle
	positions []broker.Position

	quoteErr     error
	candlesErr   error
	positionsErr error
	orderErr     error

	synchronized bool
	syncAfter    int
	syncChecks   int

	orders      []Order
	quoteCalls  int
	candleCalls int
}

var _ broker.Connection = (*Fake)(nil)

// New returns a synchronized Fake quoting q.
func New(q broker.PriceQuote, candles []broker.Candle) *Fake {
	return &Fake{quote: q, candles: candles, synchronized: true}
}

// SetQuote replaces the quote.
func (f *Fake) SetQuote(q broker.PriceQuote) {
	f.mu.Lock()
	f.quote = q
	f.mu.Unlock()
}

// SetCandles replaces the candle history.
func (f *Fake) SetCandles(c []broker.Candle) {
	f.mu.Lock()
	f.candles = c
	f.mu.Unlock()
}

// SetPositions replaces the open positions.
func (f *Fake) SetPositions(p []broker.Position) {
	f.mu.Lock()
	f.positions = p
	f.mu.Unlock()
}

// FailQuotes makes GetSymbolPrice return err (nil clears it).
func (f *Fake) FailQuotes(err error) {
	f.mu.Lock()
	f.quoteErr = err
	f.mu.Unlock()
}

// FailCandles makes GetCandles return err (nil clears it).
func (f *Fake) FailCandles(err error) {
	f.mu.Lock()
	f.candlesErr = err
	f.mu.Unlock()
}

// FailPositions makes GetPositions return err (nil clears it).
func (f *Fake) FailPositions(err error) {
	f.mu.Lock()
	f.positionsErr = err
	f.mu.Unlock()
}

// FailOrders makes order placement return err (nil clears it).
func (f *Fake) FailOrders(err error) {
	f.mu.Lock()
	f.orderErr = err
	f.mu.Unlock()
}

// SetSynchronized sets the sync gate. After n further IsSynchronized calls
// returning false, the gate opens when n > 0.
func (f *Fake) SetSynchronized(synced bool, n int) {
	f.mu.Lock()
	f.synchronized = synced
	f.syncAfter = n
	f.syncChecks = 0
	f.mu.Unlock()
}

// Orders returns the orders placed so far.
func (f *Fake) Orders() []Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Order(nil), f.orders...)
}

// QuoteCalls returns how many times GetSymbolPrice was called.
func (f *Fake) QuoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls
}

// CandleCalls returns how many times GetCandles was called.
func (f *Fake) CandleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candleCalls
}

func (f *Fake) GetSymbolPrice(ctx context.Context, symbol string) (broker.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if f.quoteErr != nil {
		return broker.PriceQuote{}, f.quoteErr
	}
	q := f.quote
	q.Symbol = symbol
	return q, nil
}

func (f *Fake) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]broker.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleCalls++
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	c := f.candles
	if count > 0 && len(c) > count {
		c = c[len(c)-count:]
	}
	return append([]broker.Candle(nil), c...), nil
}

func (f *Fake) GetPositions(ctx context.Context) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return append([]broker.Position(nil), f.positions...), nil
}

func (f *Fake) CreateMarketBuyOrder(ctx context.Context, symbol string, volume, stopLoss, takeProfit float64) (broker.OrderResult, error) {
	return f.place(broker.SideBuy, symbol, volume, stopLoss, takeProfit)
}

func (f *Fake) CreateMarketSellOrder(ctx context.Context, symbol string, volume, stopLoss, takeProfit float64) (broker.OrderResult, error) {
	return f.place(broker.SideSell, symbol, volume, stopLoss, takeProfit)
}

func (f *Fake) IsSynchronized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.synchronized {
		return true
	}
	f.syncChecks++
	if f.syncAfter > 0 && f.syncChecks > f.syncAfter {
		f.synchronized = true
	}
	return f.synchronized
}

func (f *Fake) place(side broker.Side, symbol string, volume, sl, tp float64) (broker.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return broker.OrderResult{}, f.orderErr
	}
	f.orders = append(f.orders, Order{Side: side, Symbol: symbol, Volume: volume, StopLoss: sl, TakeProfit: tp})
	return broker.OrderResult{
		OrderID:    fmt.Sprintf("fake-%d", len(f.orders)),
		Price:      f.quote.EntryFor(side),
		ExecutedAt: time.Now(),
	}, nil
}

// CandlesFromCloses builds hourly candles whose opens are the previous close
// and whose wicks extend 0.05% beyond the body.
func CandlesFromCloses(closes []float64, volume float64) []broker.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]broker.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		out[i] = broker.Candle{
			Open:      open,
			High:      math.Max(open, c) * 1.0005,
			Low:       math.Min(open, c) * 0.9995,
			Close:     c,
			Volume:    volume,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}
