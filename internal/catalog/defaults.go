package catalog

import (
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/strategy"
)

func cond(trend market.Trend, volatility, volume float64, timeframe string) market.Condition {
	return market.Condition{Trend: trend, Volatility: volatility, Volume: volume, Timeframe: timeframe}
}

// builtin maps registry ids to the regimes each variant targets.
var builtin = map[string]struct {
	status     market.StrategyStatus
	conditions market.Conditions
}{
	"gold-trend": {market.StatusActive, market.Conditions{
		Optimal:    cond(market.TrendBullish, 0.6, 0.6, broker.TF1h),
		Acceptable: []market.Condition{cond(market.TrendBearish, 0.6, 0.6, broker.TF1h)},
	}},
	"mean-reversion": {market.StatusActive, market.Conditions{
		Optimal:    cond(market.TrendSideways, 0.3, 0.5, broker.TF1h),
		Acceptable: []market.Condition{cond(market.TrendSideways, 0.5, 0.5, broker.TF15m)},
	}},
	"momentum": {market.StatusActive, market.Conditions{
		Optimal:    cond(market.TrendBullish, 0.7, 0.8, broker.TF15m),
		Acceptable: []market.Condition{cond(market.TrendBearish, 0.7, 0.8, broker.TF15m)},
	}},
	"macd-trend": {market.StatusActive, market.Conditions{
		Optimal:    cond(market.TrendBullish, 0.5, 0.5, broker.TF4h),
		Acceptable: []market.Condition{cond(market.TrendBearish, 0.5, 0.5, broker.TF4h)},
	}},
	"rsi-reversal": {market.StatusActive, market.Conditions{
		Optimal:    cond(market.TrendSideways, 0.4, 0.4, broker.TF1h),
		Acceptable: []market.Condition{cond(market.TrendSideways, 0.6, 0.6, broker.TF1h)},
	}},
	"grid-static": {market.StatusActive, market.Conditions{
		Optimal:    cond(market.TrendSideways, 0.2, 0.3, broker.TF1h),
		Acceptable: []market.Condition{cond(market.TrendSideways, 0.2, 0.5, broker.TF15m)},
	}},
	"grid-adaptive": {market.StatusTesting, market.Conditions{
		Optimal:    cond(market.TrendSideways, 0.5, 0.5, broker.TF1h),
		Acceptable: []market.Condition{cond(market.TrendBullish, 0.3, 0.5, broker.TF1h)},
	}},
	"technical": {market.StatusActive, market.Conditions{
		Optimal: cond(market.TrendBullish, 0.5, 0.5, broker.TF1h),
		Acceptable: []market.Condition{
			cond(market.TrendBearish, 0.5, 0.5, broker.TF1h),
			cond(market.TrendSideways, 0.5, 0.5, broker.TF1h),
		},
	}},
}

// Defaults returns one entry per registered strategy variant, ordered by
// id, with default parameters and no performance metrics.
func Defaults() []market.TradingStrategy {
	defs := strategy.Definitions()
	out := make([]market.TradingStrategy, 0, len(defs))
	for _, def := range defs {
		entry := market.TradingStrategy{
			ID:         def.ID,
			Name:       def.Name,
			Status:     market.StatusInactive,
			Parameters: def.Parameters,
		}
		if b, ok := builtin[def.ID]; ok {
			entry.Status = b.status
			entry.MarketConditions = market.Conditions{
				Optimal:    b.conditions.Optimal,
				Acceptable: append([]market.Condition(nil), b.conditions.Acceptable...),
			}
		}
		out = append(out, entry)
	}
	return out
}
