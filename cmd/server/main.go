package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-service/config"
	"shop-service/internal/api"
	"shop-service/internal/broker"
	"shop-service/internal/redisclient"
	"shop-service/internal/service"
	"shop-service/internal/store"
	"shop-service/internal/util"
	"shop-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shop service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint, cfg.Observ.TracingEnabled)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()
	checks := map[string]api.Pinger{}

	var repo store.Repository
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory store; data is lost on restart")
		repo = store.NewMemoryStore()
	case config.DriverPostgres:
		db, err := store.NewStore(cfg.Store.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Database connected")

		if cfg.Store.MigrationsAutorun {
			if err := store.Migrate(ctx, db.GetDB().DB, "up"); err != nil {
				logger.Fatal("Failed to run migrations", zap.Error(err))
			}
		}
		repo = db
		checks["database"] = db
	default:
		logger.Fatal("Unknown store driver", zap.String("driver", cfg.Store.Driver))
	}

	if cfg.Bootstrap.AdminOnStart {
		if _, _, err := service.EnsureAdmin(ctx, repo, cfg.Bootstrap); err != nil {
			logger.Fatal("Failed to bootstrap admin", zap.Error(err))
		}
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))
	}

	cartService := service.NewCartService(repo)
	orderService := service.NewOrderService(repo, events)
	adminService := service.NewAdminService(repo, events)

	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected")

		orderService.UseCheckoutGuard(
			redisClient,
			time.Duration(cfg.Business.IdempotencyTTLSeconds)*time.Second,
			time.Duration(cfg.Business.CheckoutLockSeconds)*time.Second,
		)
		checks["redis"] = redisClient
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var paymentWorker *worker.PaymentWorker
	if cfg.Kafka.Enabled {
		payments := service.NewPaymentEventHandler(repo, orderService, adminService)
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment, cfg.Kafka.ConsumerGroup)
		paymentWorker = worker.NewPaymentWorker(consumer, payments)
		go func() {
			if err := paymentWorker.Start(workerCtx); err != nil {
				logger.Error("Payment worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, orderService, adminService, cfg.Auth, cfg.Server.APIPrefix)
	for name, p := range checks {
		handler.AddReadinessCheck(name, p)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if paymentWorker != nil {
		if err := paymentWorker.Stop(); err != nil {
			logger.Warn("Error stopping payment worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
