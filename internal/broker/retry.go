package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"forex-trading-bot/internal/logging"
)

// RetryPolicy controls retries of market data requests.
type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay"`
}

// DefaultRetryPolicy returns three retries starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}
}

// NewBackOff returns a backoff that waits InitialDelay * 2^attempt between
// attempts and stops after MaxRetries retries.
func (p RetryPolicy) NewBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if p.MaxRetries > 0 {
		b.MaxInterval = p.InitialDelay * time.Duration(1<<uint(p.MaxRetries))
	}
	b.Reset()

	// WithMaxRetries treats zero as unlimited.
	if p.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// Retry runs op until it succeeds, returns a permanent error, or the policy
// is exhausted. notify is called before every wait and may be nil.
func Retry(ctx context.Context, p RetryPolicy, op func() error, notify func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(op, p.NewBackOff(ctx), notify)
}

// RetryingConnection retries the read methods of a Connection. Orders are
// passed through untouched; a market order is not safe to resend.
type RetryingConnection struct {
	Connection
	policy RetryPolicy
	logger *logging.Logger
}

// NewRetryingConnection wraps conn with policy.
func NewRetryingConnection(conn Connection, policy RetryPolicy, logger *logging.Logger) *RetryingConnection {
	return &RetryingConnection{
		Connection: conn,
		policy:     policy,
		logger:     logging.OrDefault(logger, "broker"),
	}
}

func (r *RetryingConnection) notify(op string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		r.logger.Warn("Retrying market data request", "op", op, "wait", wait, "error", err)
	}
}

// GetSymbolPrice fetches a quote, retrying on failure.
func (r *RetryingConnection) GetSymbolPrice(ctx context.Context, symbol string) (PriceQuote, error) {
	var quote PriceQuote
	err := Retry(ctx, r.policy, func() error {
		q, err := r.Connection.GetSymbolPrice(ctx, symbol)
		if err != nil {
			return err
		}
		quote = q
		return nil
	}, r.notify("price"))
	if err != nil {
		return PriceQuote{}, fmt.Errorf("%w: price %s: %w", ErrDataUnavailable, symbol, err)
	}
	return quote, nil
}

// GetCandles fetches candles, retrying on failure.
func (r *RetryingConnection) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error) {
	var candles []Candle
	err := Retry(ctx, r.policy, func() error {
		c, err := r.Connection.GetCandles(ctx, symbol, timeframe, count)
		if err != nil {
			return err
		}
		candles = c
		return nil
	}, r.notify("candles"))
	if err != nil {
		return nil, fmt.Errorf("%w: candles %s %s: %w", ErrDataUnavailable, symbol, timeframe, err)
	}
	return candles, nil
}

// GetPositions fetches open positions, retrying on failure.
func (r *RetryingConnection) GetPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	err := Retry(ctx, r.policy, func() error {
		p, err := r.Connection.GetPositions(ctx)
		if err != nil {
			return err
		}
		positions = p
		return nil
	}, r.notify("positions"))
	if err != nil {
		return nil, fmt.Errorf("%w: positions: %w", ErrDataUnavailable, err)
	}
	return positions, nil
}
