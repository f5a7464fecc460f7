// Package api exposes the bot's state over HTTP: paper-trading stats,
// open positions, Kelly sizing, weekly bias, and the learning analyzer's
// bucket tables.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/analyzer"
	"ict-trading-bot/internal/kelly"
	"ict-trading-bot/internal/trading"
	"ict-trading-bot/internal/weekly"
)

// BotAPI is what the server needs from the running bot. The bot and the
// backtest runner both satisfy it.
type BotAPI interface {
	Stats() trading.Stats
	OpenPositions() []trading.Position
	TradeRecords() []trading.TradeRecord
	KellyByScale() map[string]kelly.Result
	WeeklyBias() *weekly.Bias
	LastPrice() float64
	RecentAdjustments(limit int) []analyzer.Adjustment
}

// RateLimiter provides simple in-memory rate limiting per endpoint.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
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

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	bot         BotAPI
	analyzer    *analyzer.TradeAnalyzer
	config      config.ServerConfig
	rateLimiter *RateLimiter
	startedAt   time.Time
	logger      zerolog.Logger
}

// NewServer builds the router and wires all routes.
func NewServer(cfg *config.Config, bot BotAPI, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())

	corsConfig := cors.DefaultConfig()
	origins := strings.Split(cfg.ServerConfig.AllowedOrigins, ",")
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		bot:         bot,
		analyzer:    analyzer.NewTradeAnalyzer(cfg.LearningConfig.MinSamplePerBucket),
		config:      cfg.ServerConfig,
		rateLimiter: NewRateLimiter(120, time.Minute),
		startedAt:   time.Now(),
		logger:      logger.With().Str("component", "API").Logger(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	if s.config.APITokenHash != "" {
		api.Use(s.authMiddleware())
	}
	{
		api.GET("/stats", s.handleStats)
		api.GET("/positions", s.handlePositions)
		api.GET("/kelly", s.handleKelly)
		api.GET("/weekly", s.handleWeekly)
		api.GET("/price", s.handlePrice)
		api.GET("/analysis", s.handleAnalysis)
		api.GET("/analysis/edges", s.handleEdges)
		api.GET("/adjustments", s.handleAdjustments)
	}
}

// requestIDMiddleware tags every response so log lines and client
// reports can be correlated.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"path":  path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
