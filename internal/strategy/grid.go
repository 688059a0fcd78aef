package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
)

// GridLevel is one rung of a grid ladder.
type GridLevel struct {
	Price  float64     `json:"price"`
	Volume float64     `json:"volume"`
	Type   broker.Side `json:"type"`
	Active bool        `json:"active"`
}

// GridState is a copy of a ladder for display.
type GridState struct {
	BasePrice float64     `json:"basePrice"`
	Spacing   float64     `json:"spacing"`
	Levels    []GridLevel `json:"levels"`
	Exposure  float64     `json:"exposure"`
	Rebuilds  int         `json:"rebuilds"`
}

// GridMode selects how spacing and direction bias are derived.
type GridMode string

const (
	// GridStatic uses a fixed percentage spacing and takes every level.
	GridStatic GridMode = "static"
	// GridAdaptive scales spacing with ATR and requires momentum agreement.
	GridAdaptive GridMode = "adaptive"
)

// GridStrategy keeps a ladder of buy levels below and sell levels above a
// base price and signals when price reaches an inactive level.
type GridStrategy struct {
	base
	mode GridMode

	mu       sync.Mutex
	state    GridState
	ready    bool
	pending  int
	exposure float64
	// carried holds positions opened on a previous ladder. They count
	// toward exposure but never activate a level of the current one.
	carried map[string]struct{}
}

func gridParams(mode GridMode) []StrategyParameter {
	params := []StrategyParameter{
		Param("gridLevels", 5, 1, 20, 1, "Levels on each side of the base price"),
		Param("rebalanceActiveRatio", 0.7, 0.1, 1, 0.05, "Rebuild when this share of levels is active"),
		Param("maxExposure", 1, 0.01, 100, 0.01, "Maximum total open volume"),
		Param("stopSpacings", 2, 0.5, 10, 0.5, "Stop distance in grid spacings"),
		Param("riskReward", 1, 0.5, 5, 0.1, "Take profit as a multiple of stop distance"),
	}
	if mode == GridAdaptive {
		return append(params,
			Param("atrPeriod", 14, 2, 50, 1, "ATR period"),
			Param("spacingAtrMultiplier", 1, 0.1, 5, 0.1, "Spacing in ATRs"),
			Param("momentumPeriod", 10, 1, 100, 1, "Bars for the momentum bias"),
		)
	}
	return append(params, Param("spacingPercent", 0.2, 0.01, 5, 0.01, "Spacing as a percentage of the base price"))
}

// NewGridStrategy creates a static or adaptive grid strategy.
func NewGridStrategy(mode GridMode, settings Settings, logger *logging.Logger) (*GridStrategy, error) {
	id, label := "grid-static", "GridStatic"
	if mode == GridAdaptive {
		id, label = "grid-adaptive", "GridAdaptive"
	} else if mode != GridStatic {
		return nil, fmt.Errorf("%w: unknown grid mode %q", ErrInvalidSettings, mode)
	}
	b, err := newBase(id, label, settings, gridParams(mode), logger)
	if err != nil {
		return nil, err
	}
	return &GridStrategy{base: b, mode: mode, pending: -1}, nil
}

// Ladder returns a copy of the current grid.
func (s *GridStrategy) Ladder() GridState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Levels = append([]GridLevel(nil), s.state.Levels...)
	st.Exposure = s.exposure
	return st
}

// OnTradeExecuted marks the level that produced signal as active.
func (s *GridStrategy) OnTradeExecuted(signal *TradeSignal, result broker.OrderResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending < 0 || s.pending >= len(s.state.Levels) {
		return
	}
	lvl := &s.state.Levels[s.pending]
	if lvl.Type == signal.Type {
		lvl.Active = true
		s.exposure += signal.Volume
	}
	s.pending = -1
}

func (s *GridStrategy) Analyze(ctx context.Context, conn broker.Connection) (*TradeSignal, error) {
	p := s.params.Snapshot()
	need := 2
	if s.mode == GridAdaptive {
		need = maxInt(p.Int("atrPeriod")+1, p.Int("momentumPeriod")+1)
	}

	quote, candles, ok, err := s.marketData(ctx, conn, need)
	if err != nil || !ok {
		return nil, err
	}
	positions, err := conn.GetPositions(ctx)
	if err != nil {
		return nil, dataUnavailable("positions", err)
	}

	spacing, momentum, err := s.spacingAndBias(candles, quote.Mid(), p)
	if err != nil {
		return s.indicatorFailed("grid", err)
	}
	if spacing <= 0 {
		s.logger.Info("Grid spacing is zero, skipping")
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mid := quote.Mid()
	s.pending = -1
	if !s.ready {
		s.rebuild(mid, spacing, p)
	}
	s.reconcile(positions)
	if s.needsRebalance(mid, p.Float("rebalanceActiveRatio")) {
		s.logger.Info("Rebalancing grid", "oldBase", s.state.BasePrice, "newBase", mid)
		s.rebuild(mid, spacing, p)
		s.carryOver(positions)
		s.reconcile(positions)
	}

	idx := s.nearestInactive(mid)
	if idx < 0 {
		return nil, nil
	}
	lvl := s.state.Levels[idx]

	if s.mode == GridAdaptive {
		if (lvl.Type == broker.SideBuy && momentum <= 0) || (lvl.Type == broker.SideSell && momentum >= 0) {
			return nil, nil
		}
	}
	if s.exposure+lvl.Volume > p.Float("maxExposure")+1e-12 {
		s.logger.Info("Grid exposure limit reached", "exposure", s.exposure, "max", p.Float("maxExposure"))
		return nil, nil
	}

	reason := fmt.Sprintf("Price %.5f reached %s level %.5f (spacing %.5f)", mid, lvl.Type, lvl.Price, s.state.Spacing)
	sig := s.buildSignal(lvl.Type, quote, s.state.Spacing, p.Float("stopSpacings"), p.Float("riskReward"), reason)
	if sig != nil {
		s.pending = idx
	}
	return sig, nil
}

// spacingAndBias returns the grid spacing for the current regime and, for
// the adaptive mode, the momentum percentage used as direction bias.
func (s *GridStrategy) spacingAndBias(candles []broker.Candle, mid float64, p Values) (float64, float64, error) {
	if s.mode == GridStatic {
		base := mid
		s.mu.Lock()
		if s.ready {
			base = s.state.BasePrice
		}
		s.mu.Unlock()
		return base * p.Float("spacingPercent") / 100, 0, nil
	}

	closes := broker.Closes(candles)
	atr, err := indicators.ATR(broker.Highs(candles), broker.Lows(candles), closes, p.Int("atrPeriod"))
	if err != nil {
		return 0, 0, err
	}
	mom, err := indicators.Momentum(closes, p.Int("momentumPeriod"))
	if err != nil {
		return 0, 0, err
	}
	return last(atr) * p.Float("spacingAtrMultiplier"), mom, nil
}

func (s *GridStrategy) rebuild(basePrice, spacing float64, p Values) {
	n := p.Int("gridLevels")
	levels := make([]GridLevel, 0, 2*n)
	for k := 1; k <= n; k++ {
		levels = append(levels, GridLevel{
			Price:  basePrice - float64(k)*spacing,
			Volume: s.settings.Volume,
			Type:   broker.SideBuy,
		})
	}
	for k := 1; k <= n; k++ {
		levels = append(levels, GridLevel{
			Price:  basePrice + float64(k)*spacing,
			Volume: s.settings.Volume,
			Type:   broker.SideSell,
		})
	}
	rebuilds := s.state.Rebuilds
	if s.ready {
		rebuilds++
	}
	s.state = GridState{BasePrice: basePrice, Spacing: spacing, Levels: levels, Rebuilds: rebuilds}
	s.ready = true
}

// carryOver marks every open position on this symbol as belonging to the
// ladder that was just replaced.
func (s *GridStrategy) carryOver(positions []broker.Position) {
	s.carried = make(map[string]struct{})
	for _, pos := range positions {
		if pos.Symbol == s.settings.Symbol {
			s.carried[positionKey(pos)] = struct{}{}
		}
	}
}

func positionKey(pos broker.Position) string {
	if pos.ID != "" {
		return pos.ID
	}
	return fmt.Sprintf("%s|%s|%g", pos.Symbol, pos.Side, pos.OpenPrice)
}

// reconcile keeps a level active only while an open position of the same
// side, opened on this ladder, sits within half a spacing of it. Exposure is
// recomputed from every open position on this symbol.
func (s *GridStrategy) reconcile(positions []broker.Position) {
	half := s.state.Spacing / 2
	s.exposure = 0
	open := make(map[string]struct{}, len(positions))
	var current []broker.Position
	for _, pos := range positions {
		if pos.Symbol != s.settings.Symbol {
			continue
		}
		s.exposure += pos.Volume
		key := positionKey(pos)
		open[key] = struct{}{}
		if _, ok := s.carried[key]; !ok {
			current = append(current, pos)
		}
	}
	for key := range s.carried {
		if _, ok := open[key]; !ok {
			delete(s.carried, key)
		}
	}
	for i := range s.state.Levels {
		lvl := &s.state.Levels[i]
		lvl.Active = false
		for _, pos := range current {
			if pos.Side == lvl.Type && math.Abs(pos.OpenPrice-lvl.Price) <= half {
				lvl.Active = true
				break
			}
		}
	}
}

func (s *GridStrategy) needsRebalance(mid, activeRatio float64) bool {
	if math.Abs(mid-s.state.BasePrice) > 2*s.state.Spacing {
		return true
	}
	if len(s.state.Levels) == 0 {
		return false
	}
	active := 0
	for _, lvl := range s.state.Levels {
		if lvl.Active {
			active++
		}
	}
	return float64(active)/float64(len(s.state.Levels)) > activeRatio
}

// nearestInactive returns the inactive level closest to price within half a
// spacing, or -1.
func (s *GridStrategy) nearestInactive(price float64) int {
	best, bestDist := -1, s.state.Spacing/2
	for i, lvl := range s.state.Levels {
		if lvl.Active {
			continue
		}
		if d := math.Abs(price - lvl.Price); d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
