package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ordersaga/api"
	"ordersaga/application/saga"
	"ordersaga/config"
	"ordersaga/infrastructure/messaging"
	"ordersaga/infrastructure/outbox"
	"ordersaga/infrastructure/postgres"
	"ordersaga/infrastructure/repository"
	"ordersaga/pkg/logging"
)

func main() {
	cfg, err := config.Load("order-service")
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

	if err := postgres.Migrate(db, "order"); err != nil {
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
	repo := repository.NewOrderRepository(db, outboxStore)
	orchestrator := saga.NewOrchestrator(repo, logger)

	relay := outbox.NewRelay(outboxStore, bus, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize, cfg.OutboxMaxRetries)
	go relay.Run(ctx)

	subscriptions := []struct {
		pattern string
		queue   string
	}{
		{"inventory.reserved", "order_service.inventory_reserved"},
		{"inventory.reserve.failed", "order_service.inventory_reserve_failed"},
		{"payment.processed", "order_service.payment_processed"},
		{"payment.failed", "order_service.payment_failed"},
	}
	for _, sub := range subscriptions {
		if err := bus.Subscribe(ctx, sub.pattern, sub.queue, orchestrator.HandleEvent, cfg.ConsumerMaxRetries); err != nil {
			logger.Fatal("failed to subscribe", zap.String("pattern", sub.pattern), zap.Error(err))
		}
	}

	handlers := api.NewOrderHandlers(orchestrator, bus, outboxStore, logger)
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
