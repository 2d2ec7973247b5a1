package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/audit"
	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/prior-auth-mcp-server/internal/middleware"
	"github.com/prior-auth-mcp-server/internal/service"
)

const (
	defaultMaxUploadBytes = 32 << 20
	healthCheckTimeout    = 2 * time.Second
)

// HealthFunc reports the state of each backing store; a nil error means healthy.
type HealthFunc func(ctx context.Context) map[string]error

// Server represents the HTTP server
type Server struct {
	config  *domain.Config
	service *service.PriorAuthService
	audit   audit.Store
	health  HealthFunc
	logger  *logrus.Logger
	router  *gin.Engine
	server  *http.Server
}

// ServerOption configures optional server behaviour.
type ServerOption func(*Server)

// WithHealth makes GET /health report the given component checks.
func WithHealth(fn HealthFunc) ServerOption {
	return func(s *Server) {
		s.health = fn
	}
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, svc *service.PriorAuthService, store audit.Store, logger *logrus.Logger, opts ...ServerOption) *Server {
	// Set Gin mode based on log level
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	maxUpload := cfg.Server.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(middleware.MaxBodySize(maxUpload))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	router.MaxMultipartMemory = maxUpload

	server := &Server{
		config:  cfg,
		service: svc,
		audit:   store,
		logger:  logger,
		router:  router,
	}
	for _, opt := range opts {
		opt(server)
	}

	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		pa := v1.Group("/prior-auth")
		pa.POST("/documents", s.handleDocument)
		pa.POST("/evaluate", s.handleEvaluate)
		pa.POST("/treatment", s.handleTreatment)
		pa.POST("/corroborate", s.handleCorroborate)
		pa.POST("/proof", s.handleProof)
		pa.POST("/finalize", s.handleFinalize)

		v1.GET("/audit", s.handleListAudit)
		v1.GET("/audit/export", s.handleExportAudit)
	}
}

// handleHealth pings the backing stores and answers 503 when any of them fails.
func (s *Server) handleHealth(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	checks := map[string]string{}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		for name, err := range s.health(ctx) {
			if err != nil {
				status, code = "unhealthy", http.StatusServiceUnavailable
				checks[name] = err.Error()
				s.logger.WithFields(logrus.Fields{
					"component": name,
					"error":     err,
				}).Warn("Health check failed")
				continue
			}
			checks[name] = "ok"
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
		"version":   s.config.MCP.ServerVersion,
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID, X-Final-Decision, X-Audit-Entry-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
