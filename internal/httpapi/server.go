// Package httpapi implements the ambient HTTP surface (A3): the gin router,
// auth middleware, and per-protocol handlers that front the dispatch
// controller (C9).
//
// Grounded on the teacher's internal/interfaces/http/server.go (gin.New +
// Recovery + a logging middleware, grouped route registration, graceful
// Start/Stop) generalized from one chat endpoint into the full endpoint
// table of spec.md §6.
package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config configures the HTTP server.
type Config struct {
	Host     string
	Port     int
	Mode     string // debug | release
	AuthMode string // off | strict | all_except_health | auto
	APIKey   string
}

// Server wraps gin's router in an http.Server with graceful shutdown, per
// the teacher's server.go shape.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds the Server and registers every route from spec.md §6.
func New(cfg Config, h *Handlers, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(authMiddleware(cfg.AuthMode, cfg.APIKey))

	registerRoutes(router, h)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: router},
		logger:     logger,
	}
}

// Start begins serving in the background; it returns once the listener is
// scheduled, not once the server exits.
func (s *Server) Start() {
	s.logger.Info("starting http server", zap.String("address", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	return s.httpServer.Shutdown(ctx)
}

func registerRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", h.Health)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", h.ChatCompletions)
		v1.POST("/completions", h.LegacyCompletions)
		v1.POST("/responses", h.Responses)
		v1.POST("/messages", h.AnthropicMessages)
		v1.GET("/models", h.ListModels)
		v1.POST("/images/generations", h.ImageGenerations)
		v1.POST("/images/edits", h.ImageEdits)
	}

	router.POST("/cursor/chat/completions", h.CursorChatCompletions)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// authMiddleware enforces spec.md §6's auth modes with a constant-time key
// comparison so response timing cannot leak the configured key.
func authMiddleware(mode, apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresAuth(mode, c.Request.URL.Path) || apiKey == "" {
			c.Next()
			return
		}
		presented := extractPresentedKey(c.Request)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid api key", "type": "invalid_request_error"}})
			return
		}
		c.Next()
	}
}

func requiresAuth(mode, path string) bool {
	switch mode {
	case "off":
		return false
	case "strict":
		return true
	case "all_except_health":
		return path != "/health"
	default: // "auto": health is always open, everything else requires a key
		return path != "/health"
	}
}

func extractPresentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.Header.Get("x-api-key")
}
