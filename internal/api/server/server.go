package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "kotoba-transcriber/internal/api/errors"
	"kotoba-transcriber/internal/api/middleware"
	v1routes "kotoba-transcriber/internal/api/v1/routes"
	"kotoba-transcriber/internal/app/metrics"
)

// Config represents API server configuration
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string
}

// Server represents the API server
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a new API server
func NewServer(config Config, handlers *v1routes.HandlerContainer, m *metrics.Metrics, logger *zap.Logger) *Server {
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger, m))
	router.Use(middleware.ErrorHandler(logger))

	router.GET("/metrics", gin.WrapH(m.Handler()))
	v1routes.RegisterRoutes(router, handlers)

	router.NoRoute(func(c *gin.Context) {
		middleware.HandleError(c, apierrors.NewNotFoundError("not found"))
	})

	// Inference can take minutes, so there is no write timeout by default.
	httpServer := &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{
		config:     config,
		router:     router,
		httpServer: httpServer,
		logger:     logger,
	}
}

// ListenAndServe blocks until the server stops. It returns nil after a
// graceful Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Starting API server",
		zap.String("address", s.config.Addr),
		zap.String("environment", s.config.Environment),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// transcriptions until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("API server shutdown complete")
	return nil
}

// Router returns the Gin router (useful for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
