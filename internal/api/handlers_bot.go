package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"forex-trading-bot/internal/bot"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/strategy"
)

// startRequest optionally swaps the strategy before starting. With Auto
// set the catalog picks the strategy for the current market condition.
type startRequest struct {
	StrategyID string             `json:"strategyId"`
	Symbol     string             `json:"symbol"`
	Timeframe  string             `json:"timeframe"`
	Volume     float64            `json:"volume"`
	Parameters map[string]float64 `json:"parameters"`
	Auto       bool               `json:"auto"`
}

func (r startRequest) swapsStrategy() bool {
	return r.Auto || r.StrategyID != "" || r.Symbol != "" || r.Timeframe != "" || r.Volume > 0 || len(r.Parameters) > 0
}

func (s *Server) requireBot(c *gin.Context) bool {
	if s.deps.Bot == nil {
		errorResponse(c, http.StatusServiceUnavailable, "bot is not configured")
		return false
	}
	return true
}

// handleBotStatus returns the supervisor snapshot
// GET /api/bot/status
func (s *Server) handleBotStatus(c *gin.Context) {
	if !s.requireBot(c) {
		return
	}
	successResponse(c, s.deps.Bot.Status())
}

// handleBotStart starts the bot, optionally with another strategy
// POST /api/bot/start
// Body: {"strategyId": "macd-trend", "symbol": "EURUSD", "timeframe": "1h", "auto": false}
func (s *Server) handleBotStart(c *gin.Context) {
	if !s.requireBot(c) || !s.requireConn(c) {
		return
	}
	var req startRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	ctx := c.Request.Context()

	if req.swapsStrategy() {
		strat, err := s.buildStrategy(c, req)
		if err != nil {
			failWith(c, err)
			return
		}
		if err := s.deps.Bot.SetStrategy(strat); err != nil {
			failWith(c, err)
			return
		}
	}

	if err := s.deps.Bot.Start(ctx, s.deps.Conn); err != nil {
		failWith(c, err)
		return
	}
	successResponse(c, s.deps.Bot.Status())
}

// buildStrategy resolves the strategy a start request asks for.
func (s *Server) buildStrategy(c *gin.Context, req startRequest) (strategy.Strategy, error) {
	if s.deps.Catalog == nil {
		return nil, fmt.Errorf("%w: strategy catalog is not configured", strategy.ErrInvalidSettings)
	}
	ctx := c.Request.Context()

	settings := s.deps.Settings
	if cur := s.deps.Bot.Strategy(); cur != nil {
		settings.Symbol, settings.Timeframe = cur.Symbol(), cur.Timeframe()
	}
	if req.Symbol != "" {
		settings.Symbol = req.Symbol
	}
	if req.Timeframe != "" {
		settings.Timeframe = req.Timeframe
	}
	if req.Volume > 0 {
		settings.Volume = req.Volume
	}
	settings.Parameters = req.Parameters

	id := req.StrategyID
	switch {
	case req.Auto:
		if s.deps.Classifier == nil {
			return nil, fmt.Errorf("%w: market classifier is not configured", strategy.ErrInvalidSettings)
		}
		cond, err := s.deps.Classifier.Observe(ctx, s.deps.Conn, settings.Symbol, settings.Timeframe)
		if err != nil {
			return nil, err
		}
		picked, err := s.deps.Catalog.Select(ctx, cond)
		if err != nil {
			return nil, err
		}
		if picked == nil {
			return nil, fmt.Errorf("%w: no catalog strategy suits %s %s (%s)",
				strategy.ErrUnknownStrategy, settings.Symbol, settings.Timeframe, cond.Trend)
		}
		id = picked.ID
	case id == "":
		cur := s.deps.Bot.Strategy()
		if cur == nil {
			return nil, bot.ErrNoStrategy
		}
		id = cur.ID()
	}

	entry, err := s.deps.Catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status == market.StatusInactive {
		return nil, fmt.Errorf("%w: strategy %s is inactive", strategy.ErrInvalidSettings, id)
	}
	return s.deps.Catalog.Instantiate(ctx, id, settings)
}

// handleBotStop stops the bot. Stopping a stopped bot is not an error.
// POST /api/bot/stop
func (s *Server) handleBotStop(c *gin.Context) {
	if !s.requireBot(c) {
		return
	}
	s.deps.Bot.Stop()
	successResponse(c, s.deps.Bot.Status())
}

// handleBotAnalyze runs one analysis immediately. A running bot executes a
// full tick; a stopped bot only previews the signal.
// POST /api/bot/analyze
func (s *Server) handleBotAnalyze(c *gin.Context) {
	if !s.requireBot(c) {
		return
	}
	ctx := c.Request.Context()

	if s.deps.Bot.State() == bot.StateRunning {
		result, err := s.deps.Bot.RunOnce(ctx)
		if err != nil {
			failWith(c, err)
			return
		}
		successResponse(c, result)
		return
	}

	if !s.requireConn(c) {
		return
	}
	strat := s.deps.Bot.Strategy()
	if strat == nil {
		failWith(c, bot.ErrNoStrategy)
		return
	}
	log := logging.FromContext(ctx).SignalContext(strat.ID(), strat.Symbol(), strat.Timeframe())
	signal, err := strat.Analyze(ctx, s.deps.Conn)
	if err != nil {
		log.WithError(err).Warn("Preview analysis failed")
		failWith(c, err)
		return
	}

	result := &bot.TickResult{Signal: signal, Skipped: true, Reason: "bot stopped, preview only"}
	if signal == nil {
		result.Reason = "no signal"
	} else {
		log.Info("Preview signal", "type", signal.Type, "entry", signal.Entry, "reason", signal.Reason)
	}
	successResponse(c, result)
}
