package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AfshinJalili/apiwallet/libs/address"
	"github.com/AfshinJalili/apiwallet/libs/health"
	"github.com/AfshinJalili/apiwallet/libs/httpmiddleware"
	"github.com/AfshinJalili/apiwallet/libs/kafka"
	"github.com/AfshinJalili/apiwallet/libs/logging"
	"github.com/AfshinJalili/apiwallet/libs/metrics"
	"github.com/AfshinJalili/apiwallet/libs/trace"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/config"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/consumer"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/handlers"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/lifecycle"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/prefs"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/service"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

type walletStore interface {
	service.WalletStore
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	walletMetrics := service.NewMetrics(registry)
	ready := health.NewManager(false)

	store, storeClose, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer storeClose()
	ready.AddCheck("storage", store.Ping)

	prefStore, prefsClose, prefsPing, err := buildPrefs(cfg, logger)
	if err != nil {
		logger.Error("preferences store init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = prefsClose()
	}()
	if prefsPing != nil {
		ready.AddCheck("redis", prefsPing)
	}

	var publisher kafka.Publisher
	var subaccountConsumer *kafka.Consumer
	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.App.ServiceName, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		publisher = producer
		if cfg.Kafka.Topics.DeadLetter != "" {
			publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
		}
		defer publisher.Close()

		subaccountConsumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger,
			kafka.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter, cfg.Kafka.MaxAttempts, 10*time.Minute))
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		defer subaccountConsumer.Close()
	} else {
		logger.Warn("kafka brokers not configured, wallet events disabled")
	}

	walletService := service.NewWalletService(store, publisher, logger, walletMetrics,
		service.Topics{
			WalletsAuthorized: cfg.Kafka.Topics.WalletsAuthorized,
			WalletsRevoked:    cfg.Kafka.Topics.WalletsRevoked,
		},
		service.Config{
			Limits: lifecycle.Limits{
				Unnamed:       cfg.Wallet.UnnamedLimit,
				Named:         cfg.Wallet.NamedLimit,
				PerSubaccount: cfg.Wallet.PerSubaccountLimit,
			},
			DefaultValidity: cfg.Wallet.DefaultValidity,
			Source:          addressSource(cfg.Wallet.AddressSource),
		},
	)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()
	if subaccountConsumer != nil {
		handler := consumer.NewSubaccountConsumer(walletService, walletMetrics, logger)
		go func() {
			logger.Info("subaccount consumer starting", "topic", cfg.Kafka.Topics.Subaccounts)
			if err := subaccountConsumer.Consume(consumerCtx, []string{cfg.Kafka.Topics.Subaccounts}, handler); err != nil && consumerCtx.Err() == nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handlers.New(walletService, prefStore, logger).Register(router, []byte(cfg.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("api wallet service starting", "addr", addr, "storage", cfg.Storage, "kafka", cfg.Kafka.Enabled())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()
	ready.SetReady(true)

	waitForShutdown(server, ready, consumerCancel, logger)
}

func addressSource(kind string) address.Source {
	if kind == config.SourceRandom {
		return address.RandomSource{}
	}
	return address.KeySource{}
}

func buildStore(cfg *config.Config, logger *slog.Logger) (walletStore, func(), error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory wallet storage, wallets are lost on restart")
		return storage.NewMemory(), func() {}, nil
	}

	pool, err := connectDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("db connection failed: %w", err)
	}
	return storage.New(pool), pool.Close, nil
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func buildPrefs(cfg *config.Config, logger *slog.Logger) (prefs.Store, func() error, health.Check, error) {
	noop := func() error { return nil }
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.App.IsLocal() {
				logger.Warn("redis preferences unavailable, falling back to memory", "error", err)
				return prefs.NewMemoryStore(), noop, nil, nil
			}
			return nil, nil, nil, err
		}

		ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return prefs.NewRedisStore(client, cfg.Redis.Prefix), client.Close, ping, nil
	}

	if cfg.App.IsLocal() {
		return prefs.NewMemoryStore(), noop, nil, nil
	}

	return nil, nil, nil, fmt.Errorf("preferences redis not configured")
}

func waitForShutdown(server *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
