package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/risk"
)

// base carries the behaviour every variant shares: identity, parameters,
// quote and candle validation, and signal construction.
type base struct {
	id       string
	label    string
	settings Settings
	params   *ParameterSet
	calc     *risk.Calculator
	logger   *logging.Logger
	now      func() time.Time
}

func newBase(id, label string, settings Settings, defs []StrategyParameter, logger *logging.Logger) (base, error) {
	if settings.Symbol == "" {
		return base{}, fmt.Errorf("%w: symbol is required", ErrInvalidSettings)
	}
	if settings.Timeframe == "" {
		settings.Timeframe = broker.TF1h
	}
	if !broker.ValidTimeframe(settings.Timeframe) {
		return base{}, fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidSettings, settings.Timeframe)
	}
	if settings.Volume <= 0 {
		return base{}, fmt.Errorf("%w: volume must be positive", ErrInvalidSettings)
	}
	if settings.MaxSpread > 0 && settings.MinSpread > settings.MaxSpread {
		return base{}, fmt.Errorf("%w: min spread %v above max spread %v", ErrInvalidSettings, settings.MinSpread, settings.MaxSpread)
	}
	if settings.Interval <= 0 {
		settings.Interval = 5 * time.Second
	}

	params := NewParameterSet(defs)
	if len(settings.Parameters) > 0 {
		if err := params.Update(settings.Parameters); err != nil {
			return base{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
	}

	return base{
		id:       id,
		label:    label,
		settings: settings,
		params:   params,
		calc:     risk.NewCalculator(settings.Risk),
		logger: logging.OrDefault(logger, "strategy").WithFields(map[string]interface{}{
			"strategy": id,
			"symbol":   settings.Symbol,
		}),
		now: time.Now,
	}, nil
}

func (b *base) ID() string { return b.id }

func (b *base) Name() string {
	return fmt.Sprintf("%s-%s-%s", b.label, b.settings.Symbol, b.settings.Timeframe)
}

func (b *base) Symbol() string { return b.settings.Symbol }
func (b *base) Timeframe() string { return b.settings.Timeframe }
func (b *base) Interval() time.Duration { return b.settings.Interval }
func (b *base) Volume() float64 { return b.settings.Volume }
func (b *base) Parameters() []StrategyParameter { return b.params.List() }

func (b *base) UpdateParameters(values map[string]float64) error {
	return b.params.Update(values)
}

// validateQuote checks bid/ask sanity and the declared spread bounds.
func (b *base) validateQuote(q broker.PriceQuote) error {
	if q.Bid <= 0 || q.Ask <= 0 {
		return fmt.Errorf("%w: non-positive quote bid=%v ask=%v", ErrValidation, q.Bid, q.Ask)
	}
	if q.Ask <= q.Bid {
		return fmt.Errorf("%w: ask %v not above bid %v", ErrValidation, q.Ask, q.Bid)
	}
	spread := q.Spread()
	if b.settings.MinSpread > 0 && spread < b.settings.MinSpread {
		return fmt.Errorf("%w: spread %v below minimum %v", ErrValidation, spread, b.settings.MinSpread)
	}
	if b.settings.MaxSpread > 0 && spread > b.settings.MaxSpread {
		return fmt.Errorf("%w: spread %v above maximum %v", ErrValidation, spread, b.settings.MaxSpread)
	}
	return nil
}

// marketData fetches one quote and one candle window holding at least need
// bars. ok is false when the data failed validation.
func (b *base) marketData(ctx context.Context, conn broker.Connection, need int) (broker.PriceQuote, []broker.Candle, bool, error) {
	quote, err := conn.GetSymbolPrice(ctx, b.settings.Symbol)
	if err != nil {
		return broker.PriceQuote{}, nil, false, dataUnavailable("price", err)
	}
	if err := b.validateQuote(quote); err != nil {
		b.logger.Info("Quote rejected", "error", err)
		return quote, nil, false, nil
	}

	count := b.settings.CandleCount
	if count < need {
		count = need
	}
	candles, err := conn.GetCandles(ctx, b.settings.Symbol, b.settings.Timeframe, count)
	if err != nil {
		return quote, nil, false, dataUnavailable("candles", err)
	}
	if len(candles) < need {
		b.logger.Info("Not enough candles", "have", len(candles), "need", need)
		return quote, candles, false, nil
	}
	return quote, candles, true, nil
}

// buildSignal computes risk levels for a market entry on side. A level set
// that fails validation is logged and yields no signal.
func (b *base) buildSignal(side broker.Side, quote broker.PriceQuote, volatility, multiplier, riskReward float64, reason string) *TradeSignal {
	levels, err := b.calc.Levels(side, quote, volatility, multiplier, riskReward)
	if err != nil {
		b.logger.Info("Signal suppressed by risk checks", "side", side, "error", err)
		return nil
	}
	return &TradeSignal{
		Type:       side,
		Symbol:     b.settings.Symbol,
		Volume:     b.settings.Volume,
		Entry:      levels.Entry,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
		Strategy:   b.id,
		Reason:     reason,
		Timestamp:  b.now(),
	}
}

// indicatorFailed logs an indicator error; such errors only suppress the signal.
func (b *base) indicatorFailed(name string, err error) (*TradeSignal, error) {
	b.logger.Info("Indicator unavailable", "indicator", name, "error", err)
	return nil, nil
}

func dataUnavailable(op string, err error) error {
	if errors.Is(err, broker.ErrDataUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", broker.ErrDataUnavailable, op, err)
}

func maxInt(vals ...int) int {
	m := 0
	for _, v := range vals {
		if v > m {
			m = v
		}
	}
	return m
}
