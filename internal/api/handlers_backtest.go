package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"forex-trading-bot/internal/backtest"
	"forex-trading-bot/internal/market"
)

type compareRequest struct {
	backtest.Request
	// StrategyIDs defaults to every active catalog entry.
	StrategyIDs []string `json:"strategyIds"`
}

type optimizeRequest struct {
	backtest.Request
	Parameter string `json:"parameter" binding:"required"`
}

func (s *Server) requireBacktest(c *gin.Context) bool {
	if s.deps.Backtest == nil {
		errorResponse(c, http.StatusServiceUnavailable, "backtesting is not configured")
		return false
	}
	return true
}

// handleBacktest replays one strategy over history
// POST /api/backtest
// Body: {"strategyId": "rsi-reversal", "symbol": "EURUSD", "timeframe": "1h", "from": "...", "to": "..."}
func (s *Server) handleBacktest(c *gin.Context) {
	if !s.requireBacktest(c) {
		return
	}
	var req backtest.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.deps.Backtest.Run(c.Request.Context(), req)
	if err != nil {
		failWith(c, err)
		return
	}
	successResponse(c, result)
}

// handleCompare replays several strategies over the same window, best
// Sharpe ratio first
// POST /api/backtest/compare
func (s *Server) handleCompare(c *gin.Context) {
	if !s.requireBacktest(c) {
		return
	}
	var req compareRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()

	ids := req.StrategyIDs
	if len(ids) == 0 && s.deps.Catalog != nil {
		active, err := s.deps.Catalog.ListByStatus(ctx, market.StatusActive)
		if err != nil {
			failWith(c, err)
			return
		}
		ids = lo.Map(active, func(e market.TradingStrategy, _ int) string { return e.ID })
	}

	results, err := s.deps.Backtest.Compare(ctx, ids, req.Request)
	if err != nil {
		failWith(c, err)
		return
	}
	successResponse(c, results)
}

// handleOptimize sweeps one parameter across its range
// POST /api/backtest/optimize
// Body: {"strategyId": "macd-trend", "parameter": "macdFast", "symbol": "EURUSD"}
func (s *Server) handleOptimize(c *gin.Context) {
	if !s.requireBacktest(c) {
		return
	}
	var req optimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.deps.Backtest.Optimize(c.Request.Context(), req.Request, req.Parameter)
	if err != nil {
		failWith(c, err)
		return
	}
	successResponse(c, result)
}
