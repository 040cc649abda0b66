// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RequestRecorder receives one observation per handled request
type RequestRecorder interface {
	RecordAPIRequest(method, path string, status int, seconds float64)
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Services are the application services exposed over HTTP
type Services struct {
	Expenses  service.ExpenseService
	Rules     service.RuleService
	Directory service.DirectoryService
	Rates     service.RateService
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     Logger

	recorder       RequestRecorder
	metricsHandler http.Handler
	metricsPath    string
}

// ServerOption configures optional server features
type ServerOption func(*Server)

// WithMetrics records every request with recorder and serves handler at path
func WithMetrics(recorder RequestRecorder, handler http.Handler, path string) ServerOption {
	return func(s *Server) {
		s.recorder = recorder
		s.metricsHandler = handler
		s.metricsPath = path
	}
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger, opts ...ServerOption) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware logs each request and feeds the request recorder.
// Paths are recorded by route template to keep label cardinality bounded.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)

		if s.recorder != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			s.recorder.RecordAPIRequest(method, route, status, latency.Seconds())
		}
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.metricsHandler != nil {
		s.router.GET(s.metricsPath, gin.WrapH(s.metricsHandler))
	}

	api := s.router.Group("/api")
	{
		api.POST("/companies", h.CreateCompany)
		api.GET("/companies/:id", h.GetCompany)
		api.GET("/companies/:id/users", h.ListUsers)
		api.GET("/companies/:id/rules", h.ListRules)
		api.POST("/companies/:id/categories", h.CreateCategory)
		api.GET("/companies/:id/categories", h.ListCategories)

		api.POST("/users", h.CreateUser)
		api.GET("/users/:id", h.GetUser)
		api.GET("/users/:id/expenses", h.ListExpenses)

		api.POST("/rules", h.CreateRule)
		api.GET("/rules/:id", h.GetRule)
		api.PUT("/rules/:id", h.UpdateRule)
		api.PUT("/rules/:id/active", h.SetRuleActive)
		api.DELETE("/rules/:id", h.DeleteRule)

		api.PUT("/rates", h.SetRate)
		api.GET("/rates/:from/:to", h.GetRate)

		api.POST("/expenses", h.CreateExpense)
		api.GET("/expenses/:id", h.GetExpense)
		api.POST("/expenses/:id/submit", h.SubmitExpense)
		api.POST("/expenses/:id/cancel", h.CancelExpense)

		api.GET("/chains/:id", h.GetChain)
		api.GET("/chains/:id/status", h.GetChainStatus)
		api.POST("/chains/:id/decisions", h.RecordDecision)

		api.GET("/approvers/:id/pending", h.PendingApprovals)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
