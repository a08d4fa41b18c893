package main

import (
	"context"

	"github.com/gorilla/websocket"

	"herald/internal/broadcast"
	"herald/internal/config"
	"herald/internal/handlers"
	"herald/internal/heartbeat"
	"herald/internal/logging"
	"herald/internal/metrics"
	"herald/internal/monitoring"
	"herald/internal/registry"
	"herald/internal/server"
	"herald/internal/version"
	ws "herald/internal/websocket"

	"herald/internal/auth"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("herald")

	// Load environment variables
	config.LoadEnv(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	logger.Info("Starting Herald (WebSocket Event Hub)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("herald", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("herald", version.Version, version.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	// Connection registry with pre-declared channels
	reg := registry.New(logger, cfg.Channels)

	// JWT verifier, when a secret is configured
	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier, err = auth.NewVerifier(cfg.JWTSecret, cfg.JWTAlgorithm)
		if err != nil {
			logger.WithError(err).Fatal("Invalid JWT configuration")
		}
	}

	// Broadcast engine and session handler
	engine := broadcast.NewEngine(reg, logger, serviceMetrics)
	sessions := ws.NewHandler(reg, verifier, cfg.RequireAuth, cfg.MaxClientsPerChannel, logger, serviceMetrics)
	heraldHandlers := handlers.NewHeraldHandlers(engine, reg, sessions, cfg, logger)

	// Health checks over the registry and configuration
	healthChecker.AddCheck("connection_capacity", monitoring.ConnectionCapacityHealthCheck(reg.Channels, cfg.MaxClientsPerChannel))
	healthChecker.AddCheck("connection_manager", monitoring.ConnectionManagerHealthCheck(reg.Channels))
	healthChecker.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"PORT":          cfg.Port,
		"JWT_ALGORITHM": cfg.JWTAlgorithm,
	}))

	// Heartbeat scheduler
	hbCtx, hbCancel := context.WithCancel(context.Background())
	defer hbCancel()
	scheduler := heartbeat.NewScheduler(reg, cfg.HeartbeatInterval, logger, serviceMetrics)
	go scheduler.Run(hbCtx)

	// Shutdown coordinator
	coordinator := server.NewCoordinator(cfg.ShutdownTimeout, logger)
	coordinator.Register("heartbeat", func(ctx context.Context) error {
		hbCancel()
		return nil
	})
	coordinator.Register("websockets", func(ctx context.Context) error {
		closed := reg.CloseAll(websocket.CloseGoingAway, "Server is shutting down")
		logger.WithField("closed", closed).Info("Closed WebSocket sessions")
		return nil
	})

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "herald", healthChecker, metricsCollector)

	router.POST("/publish", heraldHandlers.HandlePublish)
	router.POST("/publish/:channel", heraldHandlers.HandlePublishLegacy)
	router.GET("/ws/:channel", heraldHandlers.HandleWebSocket)
	router.GET("/stats", heraldHandlers.HandleStats)
	router.GET("/channels", heraldHandlers.HandleChannels)
	router.NoRoute(heraldHandlers.HandleNotFound)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("herald", cfg)
	if err := server.Start(serverConfig, router, logger, coordinator); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
