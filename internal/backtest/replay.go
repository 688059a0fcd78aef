package backtest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"forex-trading-bot/internal/broker"
)

// replayConnection serves a historical window to a strategy one bar at a
// time. Quotes sit half a spread around the current close and orders are
// captured for the engine to fill.
type replayConnection struct {
	symbol  string
	candles []broker.Candle
	spread  float64
	cursor  int

	open    *position
	pending *fill
}

type fill struct {
	side       broker.Side
	volume     float64
	stopLoss   float64
	takeProfit float64
	result     broker.OrderResult
}

var _ broker.Connection = (*replayConnection)(nil)

func newReplayConnection(symbol string, candles []broker.Candle, spread float64) *replayConnection {
	return &replayConnection{symbol: symbol, candles: candles, spread: spread}
}

func (r *replayConnection) quote() broker.PriceQuote {
	c := r.candles[r.cursor]
	return broker.PriceQuote{
		Symbol: r.symbol,
		Bid:    c.Close - r.spread/2,
		Ask:    c.Close + r.spread/2,
		Time:   c.Timestamp,
	}
}

func (r *replayConnection) GetSymbolPrice(ctx context.Context, symbol string) (broker.PriceQuote, error) {
	if symbol != r.symbol {
		return broker.PriceQuote{}, fmt.Errorf("%w: %s", broker.ErrUnknownSymbol, symbol)
	}
	return r.quote(), nil
}

func (r *replayConnection) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]broker.Candle, error) {
	if symbol != r.symbol {
		return nil, fmt.Errorf("%w: %s", broker.ErrUnknownSymbol, symbol)
	}
	end := r.cursor + 1
	start := 0
	if count > 0 && end > count {
		start = end - count
	}
	return append([]broker.Candle(nil), r.candles[start:end]...), nil
}

func (r *replayConnection) GetPositions(ctx context.Context) ([]broker.Position, error) {
	if r.open == nil {
		return nil, nil
	}
	p := r.open
	return []broker.Position{{
		ID:         p.id,
		Symbol:     r.symbol,
		Side:       p.side,
		Volume:     p.volume,
		OpenPrice:  p.entry,
		StopLoss:   p.stopLoss,
		TakeProfit: p.takeProfit,
		OpenedAt:   p.openedAt,
	}}, nil
}

func (r *replayConnection) CreateMarketBuyOrder(ctx context.Context, symbol string, volume, stopLoss, takeProfit float64) (broker.OrderResult, error) {
	return r.place(broker.SideBuy, symbol, volume, stopLoss, takeProfit)
}

func (r *replayConnection) CreateMarketSellOrder(ctx context.Context, symbol string, volume, stopLoss, takeProfit float64) (broker.OrderResult, error) {
	return r.place(broker.SideSell, symbol, volume, stopLoss, takeProfit)
}

func (r *replayConnection) IsSynchronized() bool { return true }

func (r *replayConnection) place(side broker.Side, symbol string, volume, stopLoss, takeProfit float64) (broker.OrderResult, error) {
	if symbol != r.symbol {
		return broker.OrderResult{}, fmt.Errorf("%w: %w: %s", broker.ErrExecution, broker.ErrUnknownSymbol, symbol)
	}
	if r.open != nil || r.pending != nil {
		return broker.OrderResult{}, fmt.Errorf("%w: a position is already open", broker.ErrExecution)
	}
	if volume <= 0 {
		return broker.OrderResult{}, fmt.Errorf("%w: volume must be positive", broker.ErrExecution)
	}
	q := r.quote()
	res := broker.OrderResult{
		OrderID:    uuid.NewString(),
		Price:      q.EntryFor(side),
		ExecutedAt: q.Time,
	}
	r.pending = &fill{side: side, volume: volume, stopLoss: stopLoss, takeProfit: takeProfit, result: res}
	return res, nil
}
