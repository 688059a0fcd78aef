package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"forex-trading-bot/internal/backtest"
	"forex-trading-bot/internal/bot"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/catalog"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/scanner"
	"forex-trading-bot/internal/strategy"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, strategy.ErrUnknownStrategy):
		return http.StatusNotFound
	case errors.Is(err, bot.ErrAlreadyRunning),
		errors.Is(err, bot.ErrNotRunning),
		errors.Is(err, bot.ErrTickInProgress):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrInvalidStatus),
		errors.Is(err, strategy.ErrValidation),
		errors.Is(err, strategy.ErrInvalidSettings),
		errors.Is(err, backtest.ErrInvalidRequest),
		errors.Is(err, bot.ErrNoStrategy):
		return http.StatusBadRequest
	case errors.Is(err, backtest.ErrNoCandles),
		errors.Is(err, market.ErrInsufficientCandles):
		return http.StatusUnprocessableEntity
	case errors.Is(err, broker.ErrDataUnavailable),
		errors.Is(err, broker.ErrExecution):
		return http.StatusBadGateway
	case errors.Is(err, bot.ErrNoConnection),
		errors.Is(err, scanner.ErrNoSymbols):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func failWith(c *gin.Context, err error) {
	errorResponse(c, statusFor(err), err.Error())
}

// bindOptionalJSON binds a JSON body when one was sent.
func bindOptionalJSON(c *gin.Context, dest interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// marketQuery reads symbol and timeframe, falling back to the active
// strategy and then to the configured settings.
func (s *Server) marketQuery(c *gin.Context) (symbol, timeframe string) {
	symbol, timeframe = s.deps.Settings.Symbol, s.deps.Settings.Timeframe
	if s.deps.Bot != nil {
		if strat := s.deps.Bot.Strategy(); strat != nil {
			symbol, timeframe = strat.Symbol(), strat.Timeframe()
		}
	}
	if q := c.Query("symbol"); q != "" {
		symbol = q
	}
	if q := c.Query("timeframe"); q != "" {
		timeframe = q
	}
	if timeframe == "" {
		timeframe = broker.TF1h
	}
	return symbol, timeframe
}

func (s *Server) requireConn(c *gin.Context) bool {
	if s.deps.Conn == nil {
		errorResponse(c, http.StatusServiceUnavailable, bot.ErrNoConnection.Error())
		return false
	}
	return true
}
