package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/di"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/handler"
	"github.com/Ebrudra/desk-access-hub/backend-console/internal/repository"
	"github.com/Ebrudra/desk-access-hub/pkg/config"
	"github.com/Ebrudra/desk-access-hub/pkg/database"
	"github.com/Ebrudra/desk-access-hub/pkg/kafka"
	"github.com/Ebrudra/desk-access-hub/pkg/logger"
	"github.com/Ebrudra/desk-access-hub/pkg/middleware"
	pkgredis "github.com/Ebrudra/desk-access-hub/pkg/redis"
	"github.com/Ebrudra/desk-access-hub/pkg/telemetry"
)

const serviceName = "backend-console"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Console Service...", zap.String("version", cfg.App.Version))

	ctx := context.Background()

	// Initialize tracing
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Tracing disabled", zap.Error(err))
	}

	// Initialize database connection
	if err := cfg.ValidateDatabase(); err != nil {
		appLog.Fatal("Invalid database configuration", zap.Error(err))
	}
	dbCfg := database.DefaultPostgresConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.DBName
	dbCfg.SSLMode = cfg.Database.SSLMode
	dbCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	dbCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	dbCfg.EnableTracing = cfg.OTel.Enabled

	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()
	appLog.Info(fmt.Sprintf("Database connected (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))

	if cfg.IsDevelopment() {
		if err := repository.EnsureSchema(ctx, db.Pool()); err != nil {
			appLog.Fatal("Schema setup failed", zap.Error(err))
		}
	}

	// Initialize Redis connection
	redisCfg := pkgredis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
	redisCfg.Tracing = cfg.OTel.Enabled

	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()
	appLog.Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))

	// Initialize Kafka. Without it the console runs single-instance.
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID,
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		appLog.Warn("Kafka producer unavailable, change events stay in process", zap.Error(err))
	} else {
		defer producer.Close()
		appLog.Info("Kafka producer connected")
	}

	var consumer *kafka.Consumer
	if producer != nil {
		consumer, err = kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
			Brokers:         cfg.Kafka.Brokers,
			GroupID:         fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, instanceID()),
			Topics:          []string{cfg.Kafka.ChangeTopic},
			ClientID:        cfg.Kafka.ClientID,
			MaxRetries:      3,
			RetryInterval:   time.Second,
			StartFromLatest: true,
		})
		if err != nil {
			appLog.Warn("Kafka consumer unavailable, change feed disabled", zap.Error(err))
			consumer = nil
		} else {
			defer consumer.Close()
		}
	}

	// Build dependency injection container
	container, err := di.NewContainer(&di.ContainerConfig{
		Config:   cfg,
		DB:       db,
		Redis:    redisClient,
		Producer: producer,
		Consumer: consumer,
		Logger:   appLog,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	if err := container.Start(bgCtx); err != nil {
		appLog.Fatal("Failed to start background workers", zap.Error(err))
	}

	// Setup Gin
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(appLog),
		telemetry.TracingMiddleware(serviceName, "/health", "/ready"),
		middleware.CORS(cfg.App.PublicURL),
		handler.Recovery(appLog),
	)

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":    "ok",
				"version":   cfg.App.Version,
				"service":   serviceName,
				"db_pool":   db.Stats(),
				"consoles":  container.Consoles.GetStats(),
				"scheduler": container.Scheduler.GetStats(),
			})
		})

		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/sign-in", container.AuthHandler.SignIn)
			auth.POST("/sign-up", container.AuthHandler.SignUp)
			auth.POST("/refresh", container.AuthHandler.Refresh)
			auth.POST("/password-reset", container.AuthHandler.RequestPasswordReset)
			auth.POST("/password-reset/complete", container.AuthHandler.CompletePasswordReset)
		}

		protected := v1.Group("")
		protected.Use(middleware.RequireSession(container.Sessions))
		{
			protected.GET("/auth/session", container.AuthHandler.Session)
			protected.POST("/auth/sign-out", container.AuthHandler.SignOut)

			protected.GET("/dashboard", container.DashboardHandler.Dashboard)
			protected.GET("/dashboard/stream", container.DashboardHandler.Stream)
			protected.GET("/dashboard/cache", container.DashboardHandler.CacheStats)
			protected.GET("/role", container.DashboardHandler.Role)
			protected.GET("/presence", container.DashboardHandler.Presence)
			protected.POST("/presence/navigate", container.DashboardHandler.Navigate)

			// Write operations with idempotency
			idempotent := middleware.Idempotency(redisClient, middleware.DefaultIdempotencyTTL)
			bookings := protected.Group("/bookings")
			bookings.GET("", container.BookingHandler.List)
			bookings.GET("/:id", container.BookingHandler.Get)
			bookings.POST("", idempotent, container.BookingHandler.Create)
			bookings.PATCH("/:id/status", idempotent, container.BookingHandler.UpdateStatus)
			bookings.DELETE("/:id", idempotent, container.BookingHandler.Delete)

			protected.POST("/functions/:name", idempotent, container.FunctionHandler.Invoke)
		}
	}

	// Create HTTP server. WriteTimeout stays at the configured value, 0 by
	// default, so dashboard streams are not cut off.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Console Service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Closing consoles first ends open dashboard streams so Shutdown can drain
	stopBackground()
	container.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("Tracer shutdown failed", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}

// instanceID names this replica's consumer group so every instance sees
// every change event
func instanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fmt.Sprintf("pid-%d", os.Getpid())
}
