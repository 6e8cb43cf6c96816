package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appFulfillment "github.com/Zhima-Mochi/minishop-saga/internal/application/fulfillment"
	appInventory "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	appOrder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/config"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	dompay "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/httpclient"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/idempotency"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	obsinfra "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/telemetry"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/outbox"
	paymentinfra "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/rabbitmq"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	httppresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("minishop-saga: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseLogger, err := zaplogger.New(
		zaplogger.Options{Level: cfg.LogLevel, File: cfg.LogFile},
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	if err != nil {
		return err
	}
	defer func() { _ = baseLogger.Sync() }()
	systemLogger := baseLogger.System()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := prometrics.New(registry, "", observability.Specs)
	if err != nil {
		return err
	}
	tel := obsinfra.New(oteltrace.New(cfg.ServiceName), baseLogger, metrics)

	// Inventory ledger, served locally and used by the saga unless a remote service is configured.
	ledger := memory.NewInventoryLedger()
	if err := appInventory.Seed(ledger, appInventory.DefaultStock()); err != nil {
		return err
	}
	inventoryService := appInventory.NewService(ledger, tel)
	var inventoryPort dominv.Ledger = inventoryService
	if cfg.InventoryMode == config.ModeRemote {
		inventoryPort = httpclient.NewInventoryClient(cfg.InventoryURL, nil)
	}

	// Idempotency cache in front of payment authorization.
	var store idempotency.Store = idempotency.NewMemoryStore()
	var redisClient *redis.Client
	if cfg.IdempotencyStore == config.StoreRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		store = idempotency.NewRedisStore(redisClient)
	}
	cache := idempotency.NewCache(store, cfg.IdempotencyTTL, tel)

	paymentUseCase := appPayment.NewAuthorizePaymentUseCase(appPayment.DefaultAccounts(), id.NewPrefixedGenerator("pay-"), tel)
	var paymentPort dompay.Gateway = paymentinfra.NewIdempotentGateway(paymentUseCase, cache)
	if cfg.PaymentMode == config.ModeRemote {
		paymentPort = httpclient.NewPaymentClient(cfg.PaymentURL, nil)
	}

	// Fulfillment events: the in-memory bus feeds the warehouse stub; brokers hand off to a real WMS.
	bus := outbox.NewBus(tel)
	warehouse := appFulfillment.NewWorker(inventoryPort, tel)
	bus.Subscribe(warehouse.EventName(), workerpresentation.Handler(baseLogger, warehouse.Handle))
	bus.Start(ctx)

	var publisher appOrder.FulfillmentPublisher = bus
	var closers []func() error
	switch cfg.FulfillmentBroker {
	case config.BrokerAMQP:
		conn, ch, err := rabbitmq.SetupConn(ctx, cfg.AMQPURL, cfg.AMQPExchange, systemLogger)
		if err != nil {
			return err
		}
		closers = append(closers, ch.Close, conn.Close)
		publisher = rabbitmq.NewPublisher(ch, cfg.AMQPExchange)
	case config.BrokerKafka:
		kp := kafka.NewPublisher(kafka.NewWriter(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopic))
		closers = append(closers, kp.Close)
		publisher = kp
	}

	orderRepo := memory.NewOrderRepository()
	placeOrder := appOrder.NewPlaceOrderUseCase(orderRepo, id.NewUUIDGenerator(), inventoryPort, paymentPort, publisher,
		appOrder.SagaConfig{
			InventoryTimeout: cfg.InventoryTimeout,
			PaymentTimeout:   cfg.PaymentTimeout,
			PublishTimeout:   cfg.PublishTimeout,
			ReleaseTimeout:   cfg.ReleaseTimeout,
			PublishAttempts:  cfg.PublishAttempts,
			PublishBackoff:   100 * time.Millisecond,
		}, tel)

	handler := httppresentation.NewHandler(httppresentation.Deps{
		PlaceOrder:  placeOrder,
		GetOrder:    appOrder.NewGetOrderUseCase(orderRepo, tel),
		ListOrders:  appOrder.NewListOrdersUseCase(orderRepo, tel),
		Inventory:   inventoryService,
		Payments:    paymentUseCase,
		Idempotency: cache,
	}, tel)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("inventory_mode", cfg.InventoryMode),
			observability.F("payment_mode", cfg.PaymentMode),
			observability.F("fulfillment_broker", cfg.FulfillmentBroker),
			observability.F("idempotency_store", cfg.IdempotencyStore),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", observability.F("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", observability.F("error", err))
	} else {
		systemLogger.Info("http_server_stopped")
	}

	bus.Stop(shutdownCtx)
	for _, c := range closers {
		if err := c(); err != nil {
			systemLogger.Warn("broker_close_failed", observability.F("error", err))
		}
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		systemLogger.Warn("tracing_shutdown_failed", observability.F("error", err))
	}
	return nil
}
