package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"forex-trading-bot/internal/broker"
)

var (
	// ErrInvalidLevels is returned for non-positive or misordered levels.
	ErrInvalidLevels = errors.New("invalid price levels")
	// ErrStopTooClose is returned when |entry-stop| is below the minimum distance.
	ErrStopTooClose = errors.New("stop loss too close to entry")
	// ErrTakeProfitTooClose is returned when |entry-takeProfit| is below the minimum distance.
	ErrTakeProfitTooClose = errors.New("take profit too close to entry")
	// ErrEntryInsideSpread is returned when the entry lies strictly between bid and ask.
	ErrEntryInsideSpread = errors.New("entry price inside quoted spread")
)

// Config holds the distance settings of a Calculator, in price units.
type Config struct {
	MinStopDistance  float64 `json:"min_stop_distance"`  // floor applied to the volatility stop
	MinLevelDistance float64 `json:"min_level_distance"` // minimum |entry-stop| and |entry-tp| accepted
	Digits           int32   `json:"digits"`             // price precision, 0 leaves prices unrounded
}

// Levels is a complete entry/stop/target set for one trade.
type Levels struct {
	Side       broker.Side `json:"side"`
	Entry      float64     `json:"entry"`
	StopLoss   float64     `json:"stopLoss"`
	TakeProfit float64     `json:"takeProfit"`
}

// Calculator derives stop loss and take profit prices.
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator.
func NewCalculator(config Config) *Calculator {
	return &Calculator{config: config}
}

// Config returns the calculator settings.
func (c *Calculator) Config() Config {
	return c.config
}

// CalculateStopLoss places the stop max(MinStopDistance, volatility*multiplier)
// away from entry: below for buys, above for sells.
func (c *Calculator) CalculateStopLoss(side broker.Side, entry, volatility, multiplier float64) float64 {
	distance := math.Max(c.config.MinStopDistance, volatility*multiplier)
	if side == broker.SideSell {
		return entry + distance
	}
	return entry - distance
}

// CalculateTakeProfit places the target |entry-stop|*riskReward away from entry.
func (c *Calculator) CalculateTakeProfit(side broker.Side, entry, stopLoss, riskReward float64) float64 {
	distance := math.Abs(entry-stopLoss) * riskReward
	if side == broker.SideSell {
		return entry - distance
	}
	return entry + distance
}

// ValidatePriceLevels checks ordering, minimum distances, and that the entry
// is a price the quote could actually fill at.
func (c *Calculator) ValidatePriceLevels(l Levels, quote broker.PriceQuote) error {
	if l.Entry <= 0 || l.StopLoss <= 0 || l.TakeProfit <= 0 {
		return fmt.Errorf("%w: non-positive price in %+v", ErrInvalidLevels, l)
	}
	switch l.Side {
	case broker.SideBuy:
		if !(l.StopLoss < l.Entry && l.Entry < l.TakeProfit) {
			return fmt.Errorf("%w: buy requires stop < entry < target, got %v/%v/%v", ErrInvalidLevels, l.StopLoss, l.Entry, l.TakeProfit)
		}
	case broker.SideSell:
		if !(l.TakeProfit < l.Entry && l.Entry < l.StopLoss) {
			return fmt.Errorf("%w: sell requires target < entry < stop, got %v/%v/%v", ErrInvalidLevels, l.TakeProfit, l.Entry, l.StopLoss)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidLevels, l.Side)
	}

	// small tolerance for float noise in rounded prices
	eps := 1e-9 * l.Entry
	if math.Abs(l.Entry-l.StopLoss)+eps < c.config.MinLevelDistance {
		return fmt.Errorf("%w: %v < %v", ErrStopTooClose, math.Abs(l.Entry-l.StopLoss), c.config.MinLevelDistance)
	}
	if math.Abs(l.Entry-l.TakeProfit)+eps < c.config.MinLevelDistance {
		return fmt.Errorf("%w: %v < %v", ErrTakeProfitTooClose, math.Abs(l.Entry-l.TakeProfit), c.config.MinLevelDistance)
	}

	if quote.Ask > quote.Bid && math.Abs(l.Entry-quote.Mid())+eps < quote.Spread()/2 {
		return fmt.Errorf("%w: entry %v within %v of mid %v", ErrEntryInsideSpread, l.Entry, quote.Spread()/2, quote.Mid())
	}
	return nil
}

// Levels builds a rounded, validated level set for a market entry on side.
func (c *Calculator) Levels(side broker.Side, quote broker.PriceQuote, volatility, multiplier, riskReward float64) (Levels, error) {
	entry := quote.EntryFor(side)
	sl := c.CalculateStopLoss(side, entry, volatility, multiplier)
	tp := c.CalculateTakeProfit(side, entry, sl, riskReward)

	l := Levels{
		Side:       side,
		Entry:      entry,
		StopLoss:   RoundPrice(sl, c.config.Digits),
		TakeProfit: RoundPrice(tp, c.config.Digits),
	}
	if err := c.ValidatePriceLevels(l, quote); err != nil {
		return Levels{}, err
	}
	return l, nil
}

// RoundPrice rounds price half away from zero to digits decimal places.
// A non-positive digits value returns price unchanged.
func RoundPrice(price float64, digits int32) float64 {
	if digits <= 0 {
		return price
	}
	f, _ := decimal.NewFromFloat(price).Round(digits).Float64()
	return f
}
