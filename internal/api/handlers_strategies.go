package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/strategy"
)

func (s *Server) requireCatalog(c *gin.Context) bool {
	if s.deps.Catalog == nil {
		errorResponse(c, http.StatusServiceUnavailable, "strategy catalog is not configured")
		return false
	}
	return true
}

// handleListStrategies lists catalog entries, optionally by status
// GET /api/strategies?status=active
func (s *Server) handleListStrategies(c *gin.Context) {
	if !s.requireCatalog(c) {
		return
	}
	ctx := c.Request.Context()

	var (
		entries []market.TradingStrategy
		err     error
	)
	if status := c.Query("status"); status != "" {
		st := market.StrategyStatus(status)
		if !st.Valid() {
			errorResponse(c, http.StatusBadRequest, "invalid status "+status)
			return
		}
		entries, err = s.deps.Catalog.ListByStatus(ctx, st)
	} else {
		entries, err = s.deps.Catalog.List(ctx)
	}
	if err != nil {
		failWith(c, err)
		return
	}
	successResponse(c, entries)
}

// handleStrategyDefinitions lists the registered variants and their
// parameter schemas
// GET /api/strategies/definitions
func (s *Server) handleStrategyDefinitions(c *gin.Context) {
	successResponse(c, strategy.Definitions())
}

// handleGetStrategy returns one catalog entry
// GET /api/strategies/:id
func (s *Server) handleGetStrategy(c *gin.Context) {
	if !s.requireCatalog(c) {
		return
	}
	entry, err := s.deps.Catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	successResponse(c, entry)
}

// handleUpdateParameters changes parameter values. Values are clamped to
// their bounds; the running strategy picks them up when its id matches.
// PUT /api/strategies/:id/parameters
// Body: {"parameters": {"rsiPeriod": 10}}
func (s *Server) handleUpdateParameters(c *gin.Context) {
	if !s.requireCatalog(c) {
		return
	}
	var req struct {
		Parameters map[string]float64 `json:"parameters" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	id := c.Param("id")
	entry, err := s.deps.Catalog.UpdateParameters(c.Request.Context(), id, req.Parameters)
	if err != nil {
		failWith(c, err)
		return
	}

	if s.deps.Bot != nil {
		if strat := s.deps.Bot.Strategy(); strat != nil && strat.ID() == id {
			if err := strat.UpdateParameters(entry.ParameterValues()); err != nil {
				s.logger.WithError(err).Warn("Active strategy rejected catalog parameters", "strategy", id)
			}
		}
	}
	successResponse(c, entry)
}

// handleSetStatus changes the lifecycle status of an entry
// PUT /api/strategies/:id/status
// Body: {"status": "testing"}
func (s *Server) handleSetStatus(c *gin.Context) {
	if !s.requireCatalog(c) {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := s.deps.Catalog.SetStatus(c.Request.Context(), c.Param("id"), market.StrategyStatus(req.Status))
	if err != nil {
		failWith(c, err)
		return
	}
	successResponse(c, entry)
}
