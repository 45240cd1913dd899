package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ordersaga/api"
	appshipping "ordersaga/application/shipping"
	"ordersaga/config"
	"ordersaga/infrastructure/messaging"
	"ordersaga/infrastructure/outbox"
	"ordersaga/infrastructure/postgres"
	"ordersaga/infrastructure/repository"
	"ordersaga/pkg/logging"
)

func main() {
	cfg, err := config.Load("shipping-service")
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logging.Sync(logger)

	db, err := postgres.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.Migrate(db, "shipping"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	bus := messaging.NewEventBus(cfg.RabbitMQURL, logger)
	if err := connectBus(bus, logger); err != nil {
		logger.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outboxStore := outbox.NewStore(db)
	repo := repository.NewShippingRepository(db, outboxStore)
	service := appshipping.NewService(repo, logger)

	relay := outbox.NewRelay(outboxStore, bus, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize, cfg.OutboxMaxRetries)
	go relay.Run(ctx)

	if err := bus.Subscribe(ctx, "order.confirmed", "shipping_service.order_confirmed", service.HandleEvent, cfg.ConsumerMaxRetries); err != nil {
		logger.Fatal("failed to subscribe", zap.Error(err))
	}

	handlers := api.NewShippingHandlers(service, logger)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handlers.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
}

func connectBus(bus *messaging.EventBus, logger *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= 10; attempt++ {
		if err = bus.Connect(); err == nil {
			return nil
		}
		logger.Warn("RabbitMQ not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(3 * time.Second)
	}
	return err
}
