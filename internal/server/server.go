// Package server provides the HTTP surface of the event distributor: the
// consumer-facing publish/subscribe API, the internal adapter callbacks, and
// the operational endpoints. Gin-based routing with recovery, logging, and
// metrics middleware, plus graceful shutdown handling.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/cache"
	"github.com/piwi3910/ied/internal/config"
	"github.com/piwi3910/ied/internal/engine"
	"github.com/piwi3910/ied/internal/observability"
	"github.com/piwi3910/ied/internal/registry"
	"github.com/piwi3910/ied/internal/subscription"
)

// Server is the HTTP server for the event distributor.
type Server struct {
	config        *config.Config
	logger        *zap.Logger
	router        *gin.Engine
	httpServer    *http.Server
	cache         cache.Cache
	adapters      *registry.Registry
	publisher     *engine.Publisher
	replicator    *engine.Replicator
	subscriptions *subscription.Registry

	// baseCtx outlives individual requests; the fire-and-forget callback
	// handlers process events on it after the HTTP response is written.
	baseCtx   context.Context
	baseStop  context.CancelFunc
	startTime time.Time

	shutdownOnce sync.Once
}

// New creates a Server wired to the given components. Panics on missing
// essential dependencies, matching the fail-fast construction used across
// the codebase.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	c cache.Cache,
	adapters *registry.Registry,
	publisher *engine.Publisher,
	replicator *engine.Replicator,
	subs *subscription.Registry,
) *Server {
	if cfg == nil {
		panic("config cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	if c == nil {
		panic("cache cannot be nil")
	}
	if adapters == nil {
		panic("adapter registry cannot be nil")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	baseCtx, baseStop := context.WithCancel(context.Background())

	srv := &Server{
		config:        cfg,
		logger:        logger.With(zap.String("component", "server")),
		router:        gin.New(),
		cache:         c,
		adapters:      adapters,
		publisher:     publisher,
		replicator:    replicator,
		subscriptions: subs,
		baseCtx:       baseCtx,
		baseStop:      baseStop,
		startTime:     time.Now(),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

// setupMiddleware configures middleware, executed in registration order.
func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())
}

// Start starts the HTTP server and blocks until shutdown. Graceful shutdown
// runs on SIGINT and SIGTERM.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			zap.String("address", addr),
			zap.String("env", s.config.Env),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the HTTP server, waiting for active
// requests up to the configured timeout. Safe to call multiple times.
func (s *Server) Shutdown() error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown",
			zap.Duration("timeout", s.config.ShutdownTimeout),
		)

		// Stop accepting new background work from callback handlers.
		s.baseStop()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("error during shutdown", zap.Error(err))
				shutdownErr = fmt.Errorf("server shutdown failed: %w", err)
				return
			}
		}

		s.logger.Info("server shutdown complete")
	})

	return shutdownErr
}

// Router returns the underlying Gin router. Useful for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// recoveryMiddleware recovers from panics and logs the error.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal_error", "Internal server error", nil))
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs HTTP requests and responses.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Info("HTTP request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)

		for _, e := range c.Errors {
			s.logger.Error("request error", zap.Error(e.Err))
		}
	}
}

// metricsMiddleware records request counts and durations.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		observability.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start).Seconds())
	}
}
