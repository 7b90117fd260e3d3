package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swiftshop/internal/config"
	"swiftshop/internal/db"
	internalhttp "swiftshop/internal/http"
	"swiftshop/internal/notify"
	"swiftshop/internal/paystack"
	"swiftshop/internal/pricing"
	"swiftshop/internal/services"
	"swiftshop/internal/store"
	"swiftshop/internal/telemetry"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := telemetry.InitTracing("swiftshop-api", cfg.Telemetry.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	producer, err := notify.InitProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	st := services.PgOrderStore{Store: store.New(pool)}
	gateway := paystack.NewClient(
		cfg.Paystack.BaseURL,
		cfg.Paystack.SecretKey,
		time.Duration(cfg.Paystack.TimeoutSeconds)*time.Second,
	)
	dispatcher := notify.NewKafkaDispatcher(producer, cfg.Kafka.Topic, logger)

	deliveryFee, err := decimal.NewFromString(cfg.Delivery.Fee)
	if err != nil {
		logger.Fatal("Invalid delivery fee", zap.String("value", cfg.Delivery.Fee), zap.Error(err))
	}
	freeAbove, err := decimal.NewFromString(cfg.Delivery.FreeAbove)
	if err != nil {
		logger.Fatal("Invalid free-shipping threshold", zap.String("value", cfg.Delivery.FreeAbove), zap.Error(err))
	}

	engine := &services.ReconciliationEngine{
		Store:       st,
		Gateway:     gateway,
		Dispatcher:  dispatcher,
		Pricing:     pricing.Service{FlatFee: deliveryFee, FreeAbove: freeAbove},
		CallbackURL: cfg.Paystack.CallbackURL,
		Logger:      logger,
	}
	lifecycle := &services.LifecycleController{
		Store:            st,
		Dispatcher:       dispatcher,
		Logger:           logger,
		DeliveryEstimate: cfg.Delivery.Estimate,
	}

	h := internalhttp.NewHandler(engine, lifecycle, logger)
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logger.Info("API listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
