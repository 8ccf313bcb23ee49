package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/pharmacy-fulfillment/internal/adapter/handler"
	"github.com/rl1809/pharmacy-fulfillment/internal/adapter/messaging"
	"github.com/rl1809/pharmacy-fulfillment/internal/adapter/storage"
	"github.com/rl1809/pharmacy-fulfillment/internal/config"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/core/service"
	"github.com/rl1809/pharmacy-fulfillment/internal/platform/observability"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

const (
	shutdownTimeout = 5 * time.Second
	retryMaxBackoff = 200 * time.Millisecond

	seedPriceTTC = "5.00"
	seedTaxRate  = "2.1"
)

type store interface {
	port.InventoryRepository
	port.CatalogWriter
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize OpenTelemetry before the logger so the zap bridge sees the provider
	var (
		shutdowns []func(context.Context) error
		setupErrs error
		tp        trace.TracerProvider = otel.GetTracerProvider()
	)
	if cfg.OtelEnabled() {
		logShutdown, err := observability.SetupLoggingSDK(ctx, cfg)
		setupErrs = errors.Join(setupErrs, err)
		shutdowns = append(shutdowns, logShutdown)

		sdkTP, traceShutdown, err := observability.SetupTracingSDK(ctx, cfg)
		setupErrs = errors.Join(setupErrs, err)
		shutdowns = append(shutdowns, traceShutdown)
		if sdkTP != nil {
			tp = sdkTP
		}
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.OtelEnabled())
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	if setupErrs != nil {
		logger.Error("OpenTelemetry setup incomplete", zap.Error(setupErrs))
	}

	// Initialize storage
	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize cache
	cache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	// Initialize event delivery
	publisher, closePublisher, err := openPublisher(cfg, tp, logger)
	if err != nil {
		return err
	}
	sink := messaging.NewQueueSink(publisher, cfg.EventQueue, cfg.EventWorkers, logger)
	logger.Info("started event workers", zap.Int("workers", cfg.EventWorkers), zap.String("broker", cfg.EventBroker))

	// Initialize service
	svc := service.NewFulfillmentService(repo,
		service.WithStockCache(cache),
		service.WithEventSink(sink),
		service.WithLogger(logger),
		service.WithTracer(tp.Tracer(config.ServiceName)),
		service.WithRetryPolicy(service.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     retryMaxBackoff,
		}),
	)

	if err := seedProducts(ctx, repo, svc, cfg.SeedProducts, logger); err != nil {
		return err
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	health := handler.NewGRPCHandler(svc, logger).Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(svc, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	health.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Drain queued events before closing the broker connection
	sink.Close()
	if dropped := sink.Dropped(); dropped > 0 {
		logger.Warn("events dropped during run", zap.Int64("count", dropped))
	}
	closePublisher()
	logger.Info("event workers stopped")

	for _, shutdown := range shutdowns {
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("OpenTelemetry shutdown failed", zap.Error(err))
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		mem, err := storage.NewMemoryAdapter()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create memory store: %w", err)
		}
		logger.Info("using in-memory store")
		return mem, func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	logger.Info("connected to mysql")

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate mysql schema: %w", err)
	}
	return adapter, func() { db.Close() }, nil
}

func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.StockCache, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, using in-process cache")
		return storage.NewMemoryCache(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	return storage.NewRedisAdapter(rdb), func() { rdb.Close() }, nil
}

func openPublisher(cfg *config.Config, tp trace.TracerProvider, logger *zap.Logger) (port.EventPublisher, func(), error) {
	switch cfg.EventBroker {
	case config.BrokerKafka:
		writer, err := messaging.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaTopic, tp)
		if err != nil {
			return nil, nil, err
		}
		pub := messaging.NewKafkaPublisher(writer)
		return pub, func() {
			if err := pub.Close(); err != nil {
				logger.Error("failed to close kafka writer", zap.Error(err))
			}
		}, nil

	case config.BrokerRabbitMQ:
		conn, ch, err := messaging.SetupConn(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewRabbitMQPublisher(ch), func() {
			ch.Close()
			conn.Close()
		}, nil

	default:
		return messaging.NewLogPublisher(logger), func() {}, nil
	}
}

// seedProducts creates missing catalog entries and books their opening stock
// through the ledger so replay starts from zero.
func seedProducts(ctx context.Context, repo store, svc *service.FulfillmentService, seeds []config.SeedProduct, logger *zap.Logger) error {
	for _, seed := range seeds {
		existing, err := repo.GetProduct(ctx, seed.ID)
		if err != nil {
			return fmt.Errorf("failed to load product %s: %w", seed.ID, err)
		}
		if existing != nil {
			logger.Info("product already present, skipping seed", zap.String("product_id", seed.ID))
			continue
		}

		err = repo.UpsertProduct(ctx, domain.Product{
			ID:       seed.ID,
			Name:     seed.ID,
			Active:   true,
			PriceTTC: decimal.RequireFromString(seedPriceTTC),
			TaxRate:  decimal.RequireFromString(seedTaxRate),
			Stock:    domain.Stock{ThresholdAlert: seed.ThresholdAlert},
		})
		if err != nil {
			return fmt.Errorf("failed to create product %s: %w", seed.ID, err)
		}

		if seed.OnHand > 0 {
			_, err = svc.ReceiveStock(ctx, service.StockChange{
				ProductID: seed.ID,
				Quantity:  seed.OnHand,
				Reason:    domain.ReasonInitialStock,
				Actor:     "seed",
			})
			if err != nil {
				return fmt.Errorf("failed to seed stock for %s: %w", seed.ID, err)
			}
		}
		logger.Info("seeded product", zap.String("product_id", seed.ID), zap.Int("on_hand", seed.OnHand))
	}
	return nil
}
