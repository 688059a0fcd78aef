package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/strategy"
)

// Dashboard indicator settings.
const (
	indicatorBars  = 100
	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	bollingerBars  = 20
	bollingerWidth = 2.0
	atrPeriod      = 14
)

func (s *Server) observe(c *gin.Context) (market.Condition, bool) {
	if !s.requireConn(c) {
		return market.Condition{}, false
	}
	if s.deps.Classifier == nil {
		errorResponse(c, http.StatusServiceUnavailable, "market classifier is not configured")
		return market.Condition{}, false
	}
	symbol, timeframe := s.marketQuery(c)
	cond, err := s.deps.Classifier.Observe(c.Request.Context(), s.deps.Conn, symbol, timeframe)
	if err != nil {
		failWith(c, err)
		return market.Condition{}, false
	}
	return cond, true
}

// handleMarketCondition classifies the current market
// GET /api/market/condition?symbol=XAUUSD&timeframe=1h
func (s *Server) handleMarketCondition(c *gin.Context) {
	cond, ok := s.observe(c)
	if !ok {
		return
	}
	symbol, _ := s.marketQuery(c)
	successResponse(c, gin.H{
		"symbol":           symbol,
		"condition":        cond,
		"volatilityBucket": cond.VolatilityBucket(),
		"volumeBucket":     cond.VolumeBucket(),
	})
}

// handleMarketSelect classifies the market and ranks the catalog for it
// GET /api/market/select?symbol=XAUUSD&timeframe=1h
func (s *Server) handleMarketSelect(c *gin.Context) {
	if !s.requireCatalog(c) {
		return
	}
	cond, ok := s.observe(c)
	if !ok {
		return
	}
	ranked, err := s.deps.Catalog.Rank(c.Request.Context(), cond)
	if err != nil {
		failWith(c, err)
		return
	}

	var selected *market.TradingStrategy
	if len(ranked) > 0 {
		selected = &ranked[0]
	}
	successResponse(c, gin.H{
		"condition": cond,
		"selected":  selected,
		"ranked":    ranked,
	})
}

func (s *Server) requireScanner(c *gin.Context) bool {
	if s.deps.Scanner == nil {
		errorResponse(c, http.StatusServiceUnavailable, "market scanner is not configured")
		return false
	}
	return true
}

// handleMarketScan returns the latest scan across all watched symbols,
// scanning first when none has completed yet
// GET /api/market/scan
func (s *Server) handleMarketScan(c *gin.Context) {
	if !s.requireScanner(c) {
		return
	}
	if result := s.deps.Scanner.LastResult(); result != nil {
		successResponse(c, result)
		return
	}
	s.handleRunMarketScan(c)
}

// handleRunMarketScan scans all watched symbols now
// POST /api/market/scan
func (s *Server) handleRunMarketScan(c *gin.Context) {
	if !s.requireScanner(c) {
		return
	}
	result, err := s.deps.Scanner.Scan(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	successResponse(c, result)
}

// handleIndicators computes the dashboard indicator set for a symbol and,
// when the active strategy reports them, its own latest values
// GET /api/indicators?symbol=EURUSD&timeframe=1h
func (s *Server) handleIndicators(c *gin.Context) {
	if !s.requireConn(c) {
		return
	}
	ctx := c.Request.Context()
	symbol, timeframe := s.marketQuery(c)

	quote, err := s.deps.Conn.GetSymbolPrice(ctx, symbol)
	if err != nil {
		failWith(c, fmt.Errorf("%w: quote: %w", broker.ErrDataUnavailable, err))
		return
	}
	candles, err := s.deps.Conn.GetCandles(ctx, symbol, timeframe, indicatorBars)
	if err != nil {
		failWith(c, fmt.Errorf("%w: candles: %w", broker.ErrDataUnavailable, err))
		return
	}

	snap, err := computeIndicators(candles, quote.Mid(), time.Now())
	if err != nil {
		failWith(c, err)
		return
	}

	data := gin.H{
		"symbol":     symbol,
		"timeframe":  timeframe,
		"indicators": snap,
	}
	if s.deps.Bot != nil {
		if reporter, ok := s.deps.Bot.Strategy().(strategy.IndicatorReporter); ok {
			data["strategy"] = reporter.LastIndicators()
		}
	}
	successResponse(c, data)
}

// computeIndicators fills a snapshot with RSI(14), MACD(12,26,9),
// Bollinger(20,2) and ATR(14) over candles.
func computeIndicators(candles []broker.Candle, price float64, now time.Time) (strategy.IndicatorSnapshot, error) {
	closes := broker.Closes(candles)

	rsi, err := indicators.RSI(closes, rsiPeriod)
	if err != nil {
		return strategy.IndicatorSnapshot{}, fmt.Errorf("%w: rsi: %w", market.ErrInsufficientCandles, err)
	}
	macd, err := indicators.MACD(closes, macdFast, macdSlow, macdSignal)
	if err != nil {
		return strategy.IndicatorSnapshot{}, fmt.Errorf("%w: macd: %w", market.ErrInsufficientCandles, err)
	}
	bb, err := indicators.BollingerBands(closes, bollingerBars, bollingerWidth)
	if err != nil {
		return strategy.IndicatorSnapshot{}, fmt.Errorf("%w: bollinger: %w", market.ErrInsufficientCandles, err)
	}
	atr, err := indicators.ATR(broker.Highs(candles), broker.Lows(candles), closes, atrPeriod)
	if err != nil {
		return strategy.IndicatorSnapshot{}, fmt.Errorf("%w: atr: %w", market.ErrInsufficientCandles, err)
	}

	m, sig, hist := macd.Last()
	upper, middle, lower := bb.Last()
	return strategy.IndicatorSnapshot{
		RSI:             rsi[len(rsi)-1],
		MACD:            m,
		MACDSignal:      sig,
		MACDHistogram:   hist,
		BollingerUpper:  upper,
		BollingerMiddle: middle,
		BollingerLower:  lower,
		ATR:             atr[len(atr)-1],
		Price:           price,
		UpdatedAt:       now,
	}, nil
}
