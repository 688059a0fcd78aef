// Package api serves the dashboard: REST routes over the bot, the strategy
// catalog and the backtester, a websocket event stream and /metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"forex-trading-bot/internal/backtest"
	"forex-trading-bot/internal/bot"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/cache"
	"forex-trading-bot/internal/catalog"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/metrics"
	"forex-trading-bot/internal/scanner"
	"forex-trading-bot/internal/strategy"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
	// BacktestRateLimit caps backtest requests per minute per route.
	BacktestRateLimit int `json:"backtest_rate_limit"`
}

// DefaultServerConfig returns the dashboard defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:              8090,
		Host:              "0.0.0.0",
		AllowedOrigins:    []string{"http://localhost:5173", "http://localhost:8090"},
		BacktestRateLimit: 30,
	}
}

// Dependencies are the components the routes operate on. Backtest, Scanner
// and Metrics may be nil; their routes then answer 503. Cache is only
// reported by the health check.
type Dependencies struct {
	Bot        *bot.Supervisor
	Conn       broker.Connection
	Catalog    *catalog.Service
	Classifier *market.Classifier
	Backtest   *backtest.Service
	Scanner    *scanner.Scanner
	Metrics    *metrics.Collector
	Cache      *cache.CacheService
	// Settings are the base strategy settings used when the bot is started
	// with a different strategy.
	Settings strategy.Settings
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	deps        Dependencies
	config      ServerConfig
	hub         *WSHub
	logger      *logging.Logger
	rateLimiter *RateLimiter
	startedAt   time.Time
}

// NewServer creates the server and subscribes its websocket hub to the
// bot's event bus.
func NewServer(config ServerConfig, deps Dependencies, logger *logging.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.BacktestRateLimit <= 0 {
		config.BacktestRateLimit = DefaultServerConfig().BacktestRateLimit
	}
	logger = logging.OrDefault(logger, "api")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.AllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		deps:        deps,
		config:      config,
		hub:         NewWSHub(logger),
		logger:      logger,
		rateLimiter: NewRateLimiter(config.BacktestRateLimit, time.Minute),
		startedAt:   time.Now(),
	}
	if deps.Bot != nil {
		s.hub.Attach(deps.Bot.Events())
	}

	s.setupRoutes()
	return s
}

// requestLogger tags every request with a trace id and logs it once done.
func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, reqLog := logging.WithTraceContext(logging.NewContext(c.Request.Context(), logger))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", logging.TraceIDFromContext(ctx))

		c.Next()

		reqLog.WithDuration(time.Since(start)).Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}

// rateLimitMiddleware limits the expensive routes it is attached to.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			errorResponse(c, http.StatusTooManyRequests, "rate limit exceeded for "+path)
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)

	botGroup := api.Group("/bot")
	{
		botGroup.GET("/status", s.handleBotStatus)
		botGroup.POST("/start", s.handleBotStart)
		botGroup.POST("/stop", s.handleBotStop)
		botGroup.POST("/analyze", s.handleBotAnalyze)
	}

	strategies := api.Group("/strategies")
	{
		strategies.GET("", s.handleListStrategies)
		strategies.GET("/definitions", s.handleStrategyDefinitions)
		strategies.GET("/:id", s.handleGetStrategy)
		strategies.PUT("/:id/parameters", s.handleUpdateParameters)
		strategies.PUT("/:id/status", s.handleSetStatus)
	}

	marketGroup := api.Group("/market")
	{
		marketGroup.GET("/condition", s.handleMarketCondition)
		marketGroup.GET("/select", s.handleMarketSelect)
		marketGroup.GET("/scan", s.handleMarketScan)
		marketGroup.POST("/scan", s.handleRunMarketScan)
	}

	api.GET("/indicators", s.handleIndicators)

	bt := api.Group("/backtest", s.rateLimitMiddleware())
	{
		bt.POST("", s.handleBacktest)
		bt.POST("/compare", s.handleCompare)
		bt.POST("/optimize", s.handleOptimize)
	}

	s.router.GET("/ws", s.handleWebSocket)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start runs the websocket hub and serves HTTP until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()
	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.hub.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	data := gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Conn != nil {
		data["brokerSynchronized"] = s.deps.Conn.IsSynchronized()
	}
	if s.deps.Bot != nil {
		data["bot"] = s.deps.Bot.State()
	}
	if s.deps.Cache != nil {
		data["cache"] = s.deps.Cache.GetStats()
	}
	data["websocketClients"] = s.hub.GetClientCount()
	successResponse(c, data)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error":   message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
