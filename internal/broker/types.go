package broker

import "time"

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PriceQuote is the current bid/ask for a symbol.
type PriceQuote struct {
	Symbol string    `json:"symbol,omitempty"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time,omitempty"`
}

// Spread returns ask - bid.
func (q PriceQuote) Spread() float64 {
	return q.Ask - q.Bid
}

// Mid returns the midpoint between bid and ask.
func (q PriceQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// EntryFor returns the price a market order on side would fill at.
func (q PriceQuote) EntryFor(side Side) float64 {
	if side == SideSell {
		return q.Bid
	}
	return q.Ask
}

// Candle is one OHLCV bar.
type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is an open position reported by the terminal.
type Position struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"openPrice"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	OpenedAt   time.Time `json:"openedAt"`
}

// OrderResult is the terminal's acknowledgement of a market order.
type OrderResult struct {
	OrderID    string    `json:"orderId"`
	Price      float64   `json:"price"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Closes extracts close prices from candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts high prices from candles.
func Highs(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts low prices from candles.
func Lows(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts volumes from candles.
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
