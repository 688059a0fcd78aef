package strategy

import (
	"fmt"
	"sort"

	"forex-trading-bot/internal/logging"
)

// Factory builds a strategy instance from settings.
type Factory func(settings Settings, logger *logging.Logger) (Strategy, error)

// Definition describes a registered strategy variant.
type Definition struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  []StrategyParameter `json:"parameters"`
	factory     Factory
}

var definitions = map[string]Definition{
	"gold-trend": {
		ID:          "gold-trend",
		Name:        "Gold Trend",
		Description: "Stacked EMA 5/13/21 trend with RSI, MACD and ATR confirmation",
		Parameters:  goldTrendParams(),
		factory: func(s Settings, l *logging.Logger) (Strategy, error) {
			return wrap(NewGoldTrendStrategy(s, l))
		},
	},
	"mean-reversion": {
		ID:          "mean-reversion",
		Name:        "Mean Reversion",
		Description: "Fades closes outside the Bollinger bands with RSI and volume filters",
		Parameters:  meanReversionParams(),
		factory: func(s Settings, l *logging.Logger) (Strategy, error) {
			return wrap(NewMeanReversionStrategy(s, l))
		},
	},
	"momentum": {
		ID:          "momentum",
		Name:        "Momentum",
		Description: "MACD crossovers backed by RSI, volume strength and N-bar momentum",
		Parameters:  momentumParams(),
		factory: func(s Settings, l *logging.Logger) (Strategy, error) {
			return wrap(NewMomentumStrategy(s, l))
		},
	},
	"macd-trend": {
		ID:          "macd-trend",
		Name:        "MACD Trend",
		Description: "MACD/signal crossovers gated by histogram size",
		Parameters:  macdTrendParams(),
		factory: func(s Settings, l *logging.Logger) (Strategy, error) {
			return wrap(NewMACDTrendStrategy(s, l))
		},
	},
	"rsi-reversal": {
		ID:          "rsi-reversal",
		Name:        "RSI Reversal",
		Description: "RSI crossing back out of the oversold or overbought zone",
		Parameters:  rsiReversalParams(),
		factory: func(s Settings, l *logging.Logger) (Strategy, error) {
			return wrap(NewRSIReversalStrategy(s, l))
		},
	},
	"grid-static": {
		ID:          "grid-static",
		Name:        "Static Grid",
		Description: "Fixed-spacing ladder that takes every level within exposure limits",
		Parameters:  gridParams(GridStatic),
		factory: func(s Settings, l *logging.Logger) (Strategy, error) {
			return wrap(NewGridStrategy(GridStatic, s, l))
		},
	},
	"grid-adaptive": {
		ID:          "grid-adaptive",
		Name:        "Adaptive Grid",
		Description: "ATR-spaced ladder that trades levels in the direction of momentum",
		Parameters:  gridParams(GridAdaptive),
		factory: func(s Settings, l *logging.Logger) (Strategy, error) {
			return wrap(NewGridStrategy(GridAdaptive, s, l))
		},
	},
	"technical": {
		ID:          "technical",
		Name:        "Technical Composite",
		Description: "RSI, MACD and Bollinger votes; the first rule to fire sets the direction",
		Parameters:  technicalParams(),
		factory: func(s Settings, l *logging.Logger) (Strategy, error) {
			return wrap(NewTechnicalStrategy(s, l))
		},
	},
}

func wrap[T Strategy](s T, err error) (Strategy, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// New builds the strategy registered under id.
func New(id string, settings Settings, logger *logging.Logger) (Strategy, error) {
	def, ok := definitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return def.factory(settings, logger)
}

// Lookup returns the definition registered under id.
func Lookup(id string) (Definition, bool) {
	def, ok := definitions[id]
	if !ok {
		return Definition{}, false
	}
	def.Parameters = append([]StrategyParameter(nil), def.Parameters...)
	return def, true
}

// Definitions lists all registered variants ordered by id.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, def := range definitions {
		def.Parameters = append([]StrategyParameter(nil), def.Parameters...)
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
