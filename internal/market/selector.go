package market

import (
	"sort"

	"github.com/samber/lo"

	"forex-trading-bot/internal/logging"
)

// Selector picks the catalog entry best suited to a market condition.
type Selector struct {
	logger *logging.Logger
}

// NewSelector creates a selector.
func NewSelector(logger *logging.Logger) *Selector {
	return &Selector{logger: logging.OrDefault(logger, "selector")}
}

// Select returns the matching entry with the highest recorded Sharpe ratio,
// or nil when nothing in catalog matches cond. Entries without metrics rank
// below any entry with metrics; ties keep catalog order.
func (s *Selector) Select(cond Condition, catalog []TradingStrategy) *TradingStrategy {
	matches := s.Matching(cond, catalog)
	if len(matches) == 0 {
		s.logger.Debug("No strategy matches condition", "trend", cond.Trend, "timeframe", cond.Timeframe)
		return nil
	}
	best := lo.MaxBy(matches, func(a, b TradingStrategy) bool {
		return ranksAbove(a, b)
	})
	s.logger.Debug("Strategy selected", "id", best.ID, "candidates", len(matches))
	return &best
}

// Matching returns the entries that suit cond in catalog order.
func (s *Selector) Matching(cond Condition, catalog []TradingStrategy) []TradingStrategy {
	return lo.Filter(catalog, func(t TradingStrategy, _ int) bool {
		return t.Suits(cond)
	})
}

// Rank returns the matching entries ordered best first.
func (s *Selector) Rank(cond Condition, catalog []TradingStrategy) []TradingStrategy {
	matches := s.Matching(cond, catalog)
	sort.SliceStable(matches, func(i, j int) bool {
		return ranksAbove(matches[i], matches[j])
	})
	return matches
}

func ranksAbove(a, b TradingStrategy) bool {
	switch {
	case a.PerformanceMetrics == nil:
		return false
	case b.PerformanceMetrics == nil:
		return true
	default:
		return a.PerformanceMetrics.SharpeRatio > b.PerformanceMetrics.SharpeRatio
	}
}
