// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jeranaias/palaver/internal/chat"
	"github.com/jeranaias/palaver/internal/credentials"
	"github.com/jeranaias/palaver/internal/metrics"
	"github.com/jeranaias/palaver/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8420"

	// MaxRequestBodySize caps request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxContentLength caps a single user message in runes.
	MaxContentLength = 100000
)

// ModelLister lists the models the active backend can serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]model.Model, error)
}

// ModelListerFunc adapts a function to ModelLister.
type ModelListerFunc func(ctx context.Context) ([]model.Model, error)

// ListModels implements ModelLister.
func (f ModelListerFunc) ListModels(ctx context.Context) ([]model.Model, error) {
	return f(ctx)
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes a chat engine over HTTP.
type Server struct {
	addr    string
	engine  *chat.Engine
	state   chat.State
	creds   credentials.Provider
	lister  ModelLister
	limiter *RateLimiter
	metrics *metrics.Metrics
	token   string
	version string
	log     zerolog.Logger

	router *gin.Engine

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a server for engine. creds is reported by /health and
// /v1/state; it may be nil.
func New(engine *chat.Engine, creds credentials.Provider) *Server {
	return &Server{
		addr:    DefaultAddr,
		engine:  engine,
		state:   engine.State(),
		creds:   creds,
		version: "dev",
		log:     zerolog.Nop(),
	}
}

// WithAddr sets the listen address.
func (s *Server) WithAddr(addr string) *Server {
	if addr != "" {
		s.addr = addr
	}
	return s
}

// WithToken requires "Authorization: Bearer <token>" on every route except
// /health. An empty token disables the check.
func (s *Server) WithToken(token string) *Server {
	s.token = token
	return s
}

// WithMetrics records request metrics and serves /metrics.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

// WithRateLimit limits each client IP to rps requests per second. Zero
// disables limiting.
func (s *Server) WithRateLimit(rps float64, burst int) *Server {
	if rps <= 0 {
		s.limiter = nil
		return s
	}
	s.limiter = NewRateLimiter(rps, burst)
	return s
}

// WithModelLister enables GET /v1/models?remote=true.
func (s *Server) WithModelLister(l ModelLister) *Server {
	s.lister = l
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(log zerolog.Logger) *Server {
	s.log = log
	return s
}

// WithVersion sets the version reported by /health.
func (s *Server) WithVersion(v string) *Server {
	s.version = v
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ============================================================================
// ROUTES
// ============================================================================

// Handler builds the gin router. It is built once and reused.
func (s *Server) Handler() http.Handler {
	if s.router != nil {
		return s.router
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		recovery(s.log),
		requestLogger(s.log),
		requestMetrics(s.metrics),
		securityHeaders(),
		bodyLimit(MaxRequestBodySize),
		rateLimit(s.limiter),
	)

	r.GET("/health", s.handleHealth)

	authed := r.Group("/")
	authed.Use(bearerAuth(s.token, s.log))
	{
		if s.metrics != nil {
			authed.GET("/metrics", gin.WrapH(s.metrics.Handler()))
		}

		v1 := authed.Group("/v1")
		v1.GET("/state", s.handleState)
		v1.DELETE("/state/error", s.handleClearError)

		v1.GET("/models", s.handleListModels)
		v1.PUT("/models/selected", s.handleSelectModel)

		convs := v1.Group("/conversations")
		convs.GET("", s.handleListConversations)
		convs.POST("", s.handleCreateConversation)
		convs.GET("/:id", s.handleGetConversation)
		convs.DELETE("/:id", s.handleDeleteConversation)
		convs.GET("/:id/export", s.handleExportConversation)
		convs.POST("/:id/select", s.handleSelectConversation)
		convs.POST("/:id/messages", s.handleSendMessage)
		convs.POST("/:id/regenerate", s.handleRegenerate)
	}

	s.router = r
	return r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: SSE turns can run for minutes.
		IdleTimeout: 120 * time.Second,
	}
	hs := s.server
	s.mu.Unlock()

	s.log.Info().Str("addr", s.addr).Str("version", s.version).Msg("server starting")
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
// A Start that has not begun listening yet returns at once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	hs := s.server
	s.mu.Unlock()
	if hs == nil {
		return nil
	}
	s.log.Info().Msg("server shutting down")
	return hs.Shutdown(ctx)
}
