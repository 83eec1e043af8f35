package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/rl1809/crop-exchange/internal/adapter/anchor"
	"github.com/rl1809/crop-exchange/internal/adapter/handler"
	"github.com/rl1809/crop-exchange/internal/adapter/messaging"
	"github.com/rl1809/crop-exchange/internal/adapter/storage"
	"github.com/rl1809/crop-exchange/internal/config"
	"github.com/rl1809/crop-exchange/internal/core/service"
	"github.com/rl1809/crop-exchange/internal/platform/observability"
	"github.com/rl1809/crop-exchange/internal/port"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownLogging, err := observability.SetupLoggingSDK(ctx, cfg.Otel)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	tracerProvider, shutdownTracing, err := observability.SetupTracingSDK(ctx, cfg.Otel)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	shutdownOtel := observability.Combine(shutdownTracing, shutdownLogging)

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logger := observability.NewLogger(level, cfg.Otel.Endpoint != "")
	defer logger.Sync()

	var closers []func() error

	db, err := openStorage(ctx, cfg.Storage, logger, &closers)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithTracer(tracerProvider.Tracer(config.ServiceName)),
		service.WithAnchorTimeout(cfg.Anchor.Timeout),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		logger.Info("Connected to redis", zap.String("addr", cfg.Redis.Addr))
		closers = append(closers, rdb.Close)
		opts = append(opts, service.WithCache(storage.NewRedisAdapter(rdb)))
	}

	if cfg.Kafka.Broker != "" {
		producer, err := messaging.NewProducer(cfg.Kafka.Broker, messaging.OrderEventsTopic, tracerProvider)
		if err != nil {
			logger.Fatal("Failed to create kafka producer", zap.Error(err))
		}
		publisher := messaging.NewEventPublisher(producer, logger)
		closers = append(closers, publisher.Close)
		opts = append(opts, service.WithEvents(publisher))
		logger.Info("Publishing order events", zap.String("broker", cfg.Kafka.Broker), zap.String("topic", messaging.OrderEventsTopic))
	}

	var ledgerAnchor port.Anchor = anchor.Simulated{}
	if cfg.Anchor.Endpoint != "" {
		ledgerAnchor = anchor.NewHTTPAnchor(cfg.Anchor.Endpoint, &http.Client{Timeout: cfg.Anchor.Timeout})
		logger.Info("Anchoring to ledger gateway", zap.String("endpoint", cfg.Anchor.Endpoint))
	} else {
		logger.Warn("No anchor endpoint configured, using simulated proofs")
	}

	orders := service.NewOrderService(db, ledgerAnchor, opts...)
	svc := handler.Services{
		Orders:    orders,
		Shipments: service.NewShipmentService(db, orders, opts...),
		Payments:  service.NewPaymentService(db, opts...),
		Batches:   service.NewBatchService(db, ledgerAnchor, opts...),
		Parties:   service.NewPartyService(db, opts...),
	}

	var wg sync.WaitGroup

	reconciler := service.NewAnchorReconciler(db, ledgerAnchor, cfg.Anchor.ReconcileWorkers, opts...)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx, cfg.Anchor.ReconcileInterval)
	}()

	if cfg.Kafka.Broker != "" {
		consumer, err := messaging.NewConsumer(cfg.Kafka.Broker, messaging.TelemetryTopic, messaging.TelemetryGroupID)
		if err != nil {
			logger.Fatal("Failed to create kafka consumer", zap.Error(err))
		}
		closers = append(closers, consumer.Close)
		telemetry := messaging.NewTelemetryConsumer(consumer, svc.Shipments, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			telemetry.Start(ctx)
		}()
	}

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(handler.LoggingInterceptor(logger)))
		handler.RegisterExchangeServer(grpcServer, handler.NewGRPCHandler(svc))

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("Failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
		}
		go func() {
			logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", zap.Error(err))
			}
		}()
	}

	httpHandler := handler.NewHTTPHandler(svc, logger)
	app := httpHandler.NewApp(true)
	if cfg.HTTPAddr != "" {
		go func() {
			logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := app.Listen(cfg.HTTPAddr); err != nil {
				logger.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	if grpcServer != nil {
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
	}

	cancel()
	wg.Wait()
	logger.Info("Background workers stopped")

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
	}

	otelCtx, otelCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer otelCancel()
	if err := shutdownOtel(otelCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("otel shutdown: %v", err)
	}

	logger.Info("Shutdown complete")
}

// mysqlDSN forces parseTime so DATETIME columns scan into time.Time.
func mysqlDSN(raw string) (string, error) {
	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger, closers *[]func() error) (port.DatabaseRepository, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		dsn, err := mysqlDSN(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		*closers = append(*closers, db.Close)
		logger.Info("Connected to mysql")

		adapter := storage.NewMySQLAdapter(db)
		if cfg.Migrate {
			if err := adapter.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return adapter, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		*closers = append(*closers, func() error { pool.Close(); return nil })
		logger.Info("Connected to postgres")

		adapter := storage.NewPostgresAdapter(pool)
		if cfg.Migrate {
			if err := adapter.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return adapter, nil

	default:
		logger.Warn("Using in-memory storage, state is lost on restart")
		return storage.NewMemoryAdapter(), nil
	}
}
