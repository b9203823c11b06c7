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

	"village-store/config"
	"village-store/internal/api"
	"village-store/internal/assistant"
	"village-store/internal/broker"
	"village-store/internal/cart"
	"village-store/internal/gemini"
	"village-store/internal/redisclient"
	"village-store/internal/service"
	"village-store/internal/store"
	"village-store/internal/util"
	"village-store/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.ServiceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting village store", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		version, err := db.Migrate()
		if err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		logger.Info("Database migrated", zap.Uint("version", version))
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	eventPublisher := broker.NewEventPublisher(producer)

	cartService := service.NewCartService(db, redisClient)
	checkoutService := service.NewCheckoutService(db, cartService, redisClient, eventPublisher, cfg.Business.IdempotencyTTL)
	orderService := service.NewOrderService(db, eventPublisher)
	catalogService := service.NewCatalogService(db, redisClient)

	sessions := cart.NewRegistry(
		cart.WithIdleTimeout(cfg.Business.SessionIdleTimeout),
		cart.WithMaxSessions(cfg.Business.MaxSessions),
	)
	sessions.Subscribe(cartService)

	llm, err := gemini.NewClient(gemini.Config{
		BaseURL: cfg.Gemini.BaseURL,
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize Gemini client: %v", err)
	}
	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY is not set, free-form chat replies will fail")
	}

	gateway := assistant.NewGateway(orderService, catalogService, llm, assistant.Config{
		CommandProductLimit: cfg.Business.CommandProductLimit,
		PromptProductLimit:  cfg.Business.PromptProductLimit,
	}).WithProfiles(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go sessions.Run(workerCtx, time.Minute)

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	catalogWorker := worker.NewCatalogWorker(consumer, redisClient)
	go func() {
		if err := catalogWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Catalog worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Sessions:  sessions,
		Carts:     cartService,
		Checkout:  checkoutService,
		Orders:    orderService,
		Catalog:   catalogService,
		Assistant: gateway,
		Readiness: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := catalogWorker.Stop(); err != nil {
		logger.Error("Failed to stop catalog worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
