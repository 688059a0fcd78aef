// Package broker defines the brokerage connection consumed by strategies and
// the bot supervisor, along with a simulated implementation and decorators.
package broker

import (
	"context"
	"errors"
)

// Connection is the narrow view of a brokerage terminal used by the core.
// Strategies must not rely on anything beyond these methods.
type Connection interface {
	GetSymbolPrice(ctx context.Context, symbol string) (PriceQuote, error)
	GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error)
	GetPositions(ctx context.Context) ([]Position, error)
	CreateMarketBuyOrder(ctx context.Context, symbol string, volume, stopLoss, takeProfit float64) (OrderResult, error)
	CreateMarketSellOrder(ctx context.Context, symbol string, volume, stopLoss, takeProfit float64) (OrderResult, error)
	// IsSynchronized reports whether the terminal state is ready for trading.
	IsSynchronized() bool
}

var (
	// ErrDataUnavailable marks a market data request that failed after retries.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrExecution marks a failed order placement.
	ErrExecution = errors.New("order execution failed")
	// ErrUnknownSymbol is returned for symbols the connection does not quote.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// PlaceOrder routes a market order to the buy or sell method of conn.
func PlaceOrder(ctx context.Context, conn Connection, side Side, symbol string, volume, stopLoss, takeProfit float64) (OrderResult, error) {
	if side == SideSell {
		return conn.CreateMarketSellOrder(ctx, symbol, volume, stopLoss, takeProfit)
	}
	return conn.CreateMarketBuyOrder(ctx, symbol, volume, stopLoss, takeProfit)
}
