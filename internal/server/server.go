package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"herald/internal/config"
	"herald/internal/logging"
	"herald/internal/middleware"
	"herald/internal/monitoring"
)

// Config represents server configuration
type Config struct {
	Host         string
	Port         string
	ServiceName  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns server configuration derived from the broker config
func DefaultConfig(serviceName string, cfg config.Config) Config {
	return Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		ServiceName: serviceName,
		ReadTimeout: 30 * time.Second,
		// WebSocket sessions outlive any sane write timeout; the WS
		// handler hijacks the connection so only plain HTTP responses
		// are bounded here.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// SetupServiceRouter creates a Gin router with the shared middleware
// chain plus health and metrics endpoints.
func SetupServiceRouter(logger logging.Logger, serviceName string, healthChecker *monitoring.HealthChecker, metricsCollector *monitoring.MetricsCollector) *gin.Engine {
	// Set Gin mode based on environment
	if config.GetEnv("GIN_MODE", "debug") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add common middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.CORSMiddleware())
	router.Use(metricsCollector.MetricsMiddleware())

	router.GET("/health", healthChecker.Handler())
	router.GET("/metrics", metricsCollector.Handler())

	return router
}

// Start starts the HTTP server and blocks until a shutdown signal
// arrives or the listener fails. On SIGINT/SIGTERM it runs the
// coordinator's cleanup steps and stops the server gracefully.
func Start(cfg Config, router *gin.Engine, logger logging.Logger, coordinator *Coordinator) error {
	srv := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logging.Fields{
			"host":    cfg.Host,
			"port":    cfg.Port,
			"service": cfg.ServiceName,
		}).Info("Starting HTTP server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case sig := <-quit:
		logger.WithFields(logging.Fields{
			"signal":  sig.String(),
			"service": cfg.ServiceName,
		}).Info("Shutting down server...")
	}

	coordinator.Run()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), coordinator.Timeout())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server forced to shutdown")
	}

	logger.WithField("service", cfg.ServiceName).Info("Server stopped, goodbye")
	return nil
}
