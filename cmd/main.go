package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulsestream/internal/handler"
	"pulsestream/internal/ingestion"
	mid "pulsestream/internal/middleware"
	"pulsestream/internal/query"
	"pulsestream/internal/queue"
	"pulsestream/internal/ratelimit"
	"pulsestream/internal/store"
	"pulsestream/internal/tenant"
	"pulsestream/pkg/config"
	"pulsestream/pkg/database"
	"pulsestream/pkg/jwtutil"
	"pulsestream/pkg/logger"
	"pulsestream/pkg/redisclient"
	"pulsestream/prometheus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration (reads .env when present)
	appConfig, err := config.Load()
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logger.InitLogger(appConfig)
	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting pulsestream",
		zap.String("environment", appConfig.Server.Env),
		zap.String("port", appConfig.Server.Port))

	// Initialize JWT utility
	jwtutil.Initialize(&appConfig.JWT)

	// Initialize Prometheus metrics
	prometheus.InitMetrics(appConfig)
	log.Info("Prometheus metrics initialized",
		zap.String("metrics_prefix", appConfig.Metrics.Prefix))

	// Initialize database
	err = database.Initialize(database.DBConfig{
		DSN:             appConfig.DB.GetDSN(),
		MaxIdleConns:    appConfig.DB.MaxIdleConns,
		MaxOpenConns:    appConfig.DB.MaxOpenConns,
		ConnMaxLifetime: appConfig.DB.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Connect to redis
	cache, err := redisclient.New(&appConfig.Redis)
	if err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer cache.Close()
	log.Info("Redis connection established")

	// Wire the service
	st := store.New(database.GetDB())
	registry := tenant.NewRegistry(st, cache, appConfig.Ingestion.TenantCacheTTL)
	limiter := ratelimit.New(cache, appConfig.Ingestion.RateLimitFailOpen)
	validator := ingestion.NewValidator(
		appConfig.Ingestion.ClockSkewTolerance,
		appConfig.Ingestion.RetentionHorizon,
		appConfig.Ingestion.MaxPayloadBytes,
	)
	publisher := queue.NewPublisher(cache)
	coordinator := ingestion.NewCoordinator(validator, limiter, st, publisher)
	queryService := query.New(st)

	ingestHandler := handler.NewIngestHandler(coordinator, limiter, appConfig.Ingestion.MaxBatchSize)
	queryHandler := handler.NewQueryHandler(queryService)
	authHandler := handler.NewAuthHandler(st)
	healthHandler := handler.NewHealthHandler(database.GetDB(), cache)

	// Initialize Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(mid.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(mid.MetricsMiddleware)
	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: appConfig.Server.RequestTimeout,
	}))

	// Routes
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", healthHandler.Health)

	api := e.Group("/api/v1")

	// Machine credential endpoints
	ingest := api.Group("/ingestion", mid.APIKeyAuth(registry))
	ingest.POST("/events", ingestHandler.IngestEvent)
	ingest.POST("/events/batch", ingestHandler.IngestBatch)
	ingest.GET("/rate-limit", ingestHandler.RateLimitStatus)
	ingest.GET("/events/types", ingestHandler.EventTypes)
	ingest.GET("/events/severities", ingestHandler.Severities)

	// Read endpoints also accept a human session token
	read := api.Group("/ingestion", mid.APIKeyOrSessionAuth(registry, st))
	read.GET("/events/search", queryHandler.SearchEvents)
	read.GET("/events/:id", queryHandler.GetEvent)
	read.GET("/stats", queryHandler.Stats)

	// Human session endpoints, tenant-bound via the machine credential
	auth := api.Group("/auth", mid.APIKeyAuth(registry))
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	// Start server
	go func() {
		if err := e.Start(":" + appConfig.Server.Port); err != nil {
			log.Info("Server stopped", zap.Error(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
}
