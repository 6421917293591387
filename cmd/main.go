package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vhvplatform/go-notification-dispatch/internal/consumer"
	"github.com/vhvplatform/go-notification-dispatch/internal/engine"
	"github.com/vhvplatform/go-notification-dispatch/internal/handler"
	"github.com/vhvplatform/go-notification-dispatch/internal/matcher"
	"github.com/vhvplatform/go-notification-dispatch/internal/metrics"
	"github.com/vhvplatform/go-notification-dispatch/internal/middleware"
	"github.com/vhvplatform/go-notification-dispatch/internal/provider"
	"github.com/vhvplatform/go-notification-dispatch/internal/ratelimit"
	"github.com/vhvplatform/go-notification-dispatch/internal/recipient"
	"github.com/vhvplatform/go-notification-dispatch/internal/repository"
	"github.com/vhvplatform/go-notification-dispatch/internal/retrier"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/config"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/crypto"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/mongodb"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/rabbitmq"
	"github.com/vhvplatform/go-notification-dispatch/internal/template"
)

func main() {
	// Initialize logger
	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting Notification Dispatch Engine...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", "error", err)
	}

	// Initialize MongoDB
	mongoClient, err := mongodb.NewMongoClient(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", "error", err)
	}
	defer mongoClient.Disconnect(context.Background())

	// Initialize RabbitMQ
	rabbitMQClient, err := rabbitmq.NewRabbitMQClient(cfg.RabbitMQ.URL)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", "error", err)
	}
	defer rabbitMQClient.Close()

	// Initialize repositories
	ruleRepo := repository.NewRuleRepository(mongoClient)
	templateRepo := repository.NewTemplateRepository(mongoClient)
	deliveryRepo := repository.NewDeliveryRepository(mongoClient)
	settingsRepo := repository.NewSettingsRepository(mongoClient)
	userRepo := repository.NewUserRepository(mongoClient)
	preferencesRepo := repository.NewPreferencesRepository(mongoClient)
	rateLimitRepo := repository.NewRateLimitRepository(mongoClient)

	// Ensure indexes
	indexCtx, indexCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for name, ensure := range map[string]func(context.Context) error{
		"rules":       ruleRepo.EnsureIndexes,
		"templates":   templateRepo.EnsureIndexes,
		"deliveries":  deliveryRepo.EnsureIndexes,
		"settings":    settingsRepo.EnsureIndexes,
		"preferences": preferencesRepo.EnsureIndexes,
		"rate_limits": rateLimitRepo.EnsureIndexes,
	} {
		if err := ensure(indexCtx); err != nil {
			log.Error("Failed to ensure indexes", "error", err, "collection", name)
		}
	}
	indexCancel()

	// Initialize settings cipher
	cipher, err := crypto.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatal("Failed to initialize settings cipher", "error", err)
	}

	// Initialize engine components
	providerFactory := provider.NewFactory(cfg.Platform, cipher, cfg.Dispatch.ProviderTimeout, log)
	ruleMatcher := matcher.NewMatcher(ruleRepo, log)
	resolver := recipient.NewResolver(userRepo, log)
	renderer := template.NewRenderer(templateRepo, log)
	limiter := ratelimit.NewLimiter(rateLimitRepo, log)

	dispatchEngine := engine.NewEngine(
		settingsRepo,
		ruleMatcher,
		ruleRepo,
		resolver,
		templateRepo,
		renderer,
		preferencesRepo,
		limiter,
		deliveryRepo,
		providerFactory,
		log,
	)

	// Initialize dispatcher worker pool
	dispatcher := engine.NewDispatcher(dispatchEngine, cfg.Dispatch.Workers, cfg.Dispatch.QueueCapacity, log)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Initialize retry sweeper
	retrySweeper := retrier.NewRetrySweeper(dispatchEngine, deliveryRepo, cfg.Dispatch.RetrySchedule, log)
	if err := retrySweeper.Start(); err != nil {
		log.Error("Failed to start retry sweeper", "error", err)
	}
	defer retrySweeper.Stop()

	// Initialize HTTP handlers
	triggerHandler := handler.NewTriggerHandler(dispatcher, log)
	deliveryHandler := handler.NewDeliveryHandler(deliveryRepo, log)
	templateHandler := handler.NewTemplateHandler(log)
	settingsHandler := handler.NewSettingsHandler(settingsRepo, providerFactory, log)

	// Initialize rate limiter
	apiRateLimiter := middleware.NewOrgRateLimiter(cfg.Server.APIRatePerSecond, cfg.Server.APIRateBurst)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// Health check endpoints
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes with rate limiting
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(apiRateLimiter))
	{
		// Trigger invocations
		notifications := v1.Group("/notifications")
		{
			notifications.POST("/trigger", triggerHandler.Trigger)
		}

		// Delivery logs
		deliveries := v1.Group("/deliveries")
		{
			deliveries.GET("", deliveryHandler.GetDeliveries)
			deliveries.GET("/:id", deliveryHandler.GetDelivery)
		}

		// Template tooling
		templates := v1.Group("/templates")
		{
			templates.POST("/validate", templateHandler.Validate)
			templates.POST("/preview", templateHandler.Preview)
		}

		// Provider connection checks
		settings := v1.Group("/settings")
		{
			settings.POST("/test-connection", settingsHandler.TestConnection)
			settings.POST("/validate-connection", settingsHandler.ValidateConnection)
		}
	}

	// Start RabbitMQ consumer, restarting on broker hiccups
	eventConsumer := consumer.NewEventConsumer(rabbitMQClient, dispatcher, log)
	go func() {
		for {
			if err := eventConsumer.Start(); err != nil {
				log.Error("Event consumer stopped", "error", err)
			}
			metrics.ConsumerRestarts.Inc()
			time.Sleep(5 * time.Second)
		}
	}()

	// Start HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info("Notification Dispatch Engine started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Notification Dispatch Engine...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Notification Dispatch Engine stopped")
}
