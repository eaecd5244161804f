package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/mahmoodamara/barber-bang-sub001/internal/config"
	"github.com/mahmoodamara/barber-bang-sub001/internal/database"
	idempostgres "github.com/mahmoodamara/barber-bang-sub001/internal/idempotency/postgres"
	"github.com/mahmoodamara/barber-bang-sub001/internal/kafka"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters"
	httpadapter "github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/http"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/memory"
	paymentspostgres "github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/postgres"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/rabbitmq"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/redis"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/adapters/stripe"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/effects"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/integrity"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/app/orderlock"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/metrics"
	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
	"github.com/mahmoodamara/barber-bang-sub001/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.Telemetry.LogLevel))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("payments api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		Insecure:       cfg.Telemetry.OTelInsecure,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	meter := otel.Meter(cfg.Service.Name)
	paymentMetrics, err := metrics.NewMetrics(meter)
	if err != nil {
		return err
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return err
	}
	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return err
	}
	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return err
	}

	pool, err := database.NewPool(ctx, cfg.Database.URL, database.WithQueryMetrics(dbMetrics))
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		logger.Info("running database migrations", "path", cfg.Database.MigrationsPath)
		version, err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations completed successfully", "version", version)
	}

	orders := adapters.NewObservableOrderRepository(paymentspostgres.NewOrderRepository(pool))

	eventBus, closeBus, err := newEventBus(cfg.Kafka, kafkaMetrics, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	ranking, closeRanking, err := newRanking(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeRanking()

	runner := effects.NewRunner(
		orders,
		paymentspostgres.NewCarts(pool),
		ranking,
		effects.NewInvoiceIssuer(paymentspostgres.NewInvoiceStore(pool), cfg.Payments.InvoiceLockStaleAfter, logger),
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	queue, shutdownQueue, err := newSideEffectQueue(gctx, g, cfg, runner, logger, paymentMetrics)
	if err != nil {
		return err
	}

	service := app.NewService(app.Dependencies{
		Orders:      orders,
		EventLedger: paymentspostgres.NewEventLedger(pool),
		Stock:       paymentspostgres.NewStockReservations(pool),
		Discounts:   paymentspostgres.NewDiscountReservations(pool),
		Ledger:      paymentspostgres.NewPaymentLedger(pool),
		Provider: stripe.NewClient(stripe.Config{
			BaseURL:    cfg.Payments.ProviderBaseURL,
			SecretKey:  cfg.Payments.ProviderAPIKey,
			Timeout:    cfg.Payments.ProviderTimeout,
			MaxRetries: cfg.Payments.ProviderMaxRetries,
		}, logger),
		SideEffects: queue,
		Events:      adapters.NewObservableEventBus(eventBus),
		Idempotency: idempostgres.NewStore(pool, cfg.Payments.IdempotencyRetention),
		Verifier:    integrity.NewVerifier(cfg.Payments.WebhookSecret, cfg.Payments.WebhookTolerance),
		Locker:      orderlock.NewLocker(orders, cfg.Payments.OrderLockStaleAfter, logger),
		AutoRefund:  cfg.Payments.AutoRefund,
		Logger:      logger,
		Metrics:     paymentMetrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           newRouter(service, pool, httpMetrics, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownGrace)*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		} else {
			logger.Info("http server stopped")
		}
		if err := shutdownQueue(shutdownCtx); err != nil {
			logger.Error("side effect queue shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newRouter(service *app.Service, pool *pgxpool.Pool, m *httpadapter.Metrics, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(httpadapter.WithMetrics(m))
	router.Use(httpadapter.WithLogging(logger))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.CheckHealth(r.Context(), pool); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.CheckReady(r.Context(), pool); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	httpadapter.NewHandler(service).Register(router)
	return router
}

func newEventBus(cfg config.KafkaConfig, m *kafka.Metrics, logger *slog.Logger) (ports.EventBus, func(), error) {
	if len(cfg.Brokers) == 0 {
		logger.Info("no kafka brokers configured, lifecycle events are logged only")
		return kafka.NewNoopEventBus(logger), func() {}, nil
	}

	producer, err := kafka.NewSyncProducer(cfg.Brokers, cfg.ClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	bus := kafka.NewEventBus(producer, m, logger)
	return bus, func() {
		if err := bus.Close(); err != nil {
			logger.Error("kafka producer close failed", "error", err)
		}
	}, nil
}

func newRanking(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (ports.RankingService, func(), error) {
	if cfg.Addr == "" {
		logger.Info("no redis configured, product ranking is kept in memory")
		return memory.NewRanking(), func() {}, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return redis.NewRanking(rdb, redis.DefaultGuardTTL), func() { _ = rdb.Close() }, nil
}

// newSideEffectQueue returns the queue the reconciler enqueues into and a shutdown hook.
// With RabbitMQ the consumer runs inside g and stops with its context.
func newSideEffectQueue(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	runner effects.TaskRunner,
	logger *slog.Logger,
	m *metrics.Metrics,
) (ports.SideEffectQueue, func(context.Context) error, error) {
	if cfg.Payments.SideEffectQueue != config.QueueRabbitMQ {
		pool := effects.NewWorkerPool(runner, cfg.Payments.SideEffectWorkers, 0, effects.DefaultRetryPolicy, logger, m)
		return pool, pool.Shutdown, nil
	}

	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := rabbitmq.DeclareTopology(pubCh); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	publisher, err := rabbitmq.NewPublisher(pubCh)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	consumeCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open consume channel: %w", err)
	}

	consumer := rabbitmq.NewConsumer(consumeCh, runner, effects.DefaultRetryPolicy, cfg.RabbitMQ.Prefetch, logger, m)
	g.Go(func() error {
		err := consumer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return publisher, func(context.Context) error { return conn.Close() }, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
