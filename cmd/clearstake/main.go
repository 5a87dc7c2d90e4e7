package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clearstake/clearstake/internal/application/liquidity"
	"github.com/clearstake/clearstake/internal/application/orchestrator"
	"github.com/clearstake/clearstake/internal/application/workers"
	"github.com/clearstake/clearstake/internal/config"
	"github.com/clearstake/clearstake/internal/game"
	"github.com/clearstake/clearstake/internal/ports"
	"github.com/clearstake/clearstake/pkg/adapters/anchor"
	anchormem "github.com/clearstake/clearstake/pkg/adapters/anchor/memory"
	anchorrpc "github.com/clearstake/clearstake/pkg/adapters/anchor/rpc"
	"github.com/clearstake/clearstake/pkg/adapters/clearing"
	"github.com/clearstake/clearstake/pkg/adapters/events/redis"
	"github.com/clearstake/clearstake/pkg/adapters/metrics/prometheus"
	redisstorage "github.com/clearstake/clearstake/pkg/adapters/storage/redis"
	"github.com/clearstake/clearstake/pkg/api/http"
	"github.com/clearstake/clearstake/pkg/api/websocket"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting clearstake",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	eventBus, err := redis.NewStreamsEventBus(
		redisClient,
		"clearstake-workers",
		fmt.Sprintf("clearstake-%d", os.Getpid()),
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create event bus", zap.Error(err))
	}

	sessionStore := redisstorage.NewSessionStore(
		redisClient,
		cfg.Redis.SessionTTL,
		logger,
	)

	// The execution ledger backs both channel top-ups and anchoring. An
	// unset RPC endpoint falls back to the in-memory ledger for
	// development.
	var ledger ports.ExecutionLedger
	if cfg.Anchor.RPCEndpoint != "" {
		ledger = anchorrpc.NewClient(cfg.Anchor.RPCEndpoint, cfg.Anchor.Timeout, logger)
		logger.Info("using on-chain execution ledger",
			zap.String("endpoint", cfg.Anchor.RPCEndpoint))
	} else {
		ledger = anchormem.NewLedger()
		logger.Warn("no anchor RPC endpoint configured, using in-memory ledger")
	}
	anchorService := anchor.NewService(ledger, logger)

	identity, err := clearing.NewSignerFromHex(cfg.Clearing.IdentityKey)
	if err != nil {
		logger.Fatal("invalid clearing identity key", zap.Error(err))
	}

	clearingClient, err := clearing.NewClient(clearing.Config{
		URL:                 cfg.Clearing.URL,
		AppName:             cfg.Clearing.AppName,
		Scope:               cfg.Clearing.Scope,
		Asset:               cfg.Clearing.Asset,
		SessionTTL:          cfg.Clearing.SessionTTL,
		AuthTimeout:         cfg.Clearing.AuthTimeout,
		OpenTimeout:         cfg.Clearing.OpenTimeout,
		CoSignOpenTimeout:   cfg.Clearing.CoSignOpenTimeout,
		BalancePollInterval: cfg.Clearing.BalancePollInterval,
		BalancePollAttempts: cfg.Clearing.BalancePollAttempts,
	}, identity, ledger, logger)
	if err != nil {
		logger.Fatal("failed to create clearing client", zap.Error(err))
	}

	if err := clearingClient.Connect(ctx); err != nil {
		logger.Fatal("failed to connect to clearing network", zap.Error(err))
	}
	logger.Info("connected to clearing network", zap.String("url", cfg.Clearing.URL))

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	pool, err := liquidity.NewPool(liquidity.Config{
		Owner:                cfg.Liquidity.Owner,
		Operator:             cfg.Liquidity.Operator,
		MaxAllocationPercent: cfg.Liquidity.MaxAllocationPercent,
		MaxPerChannel:        cfg.Liquidity.MaxPerChannel,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create liquidity pool", zap.Error(err))
	}

	manager := orchestrator.NewManager(
		sessionStore,
		eventBus,
		clearingClient,
		pool,
		game.Default(),
		metricsCollector,
		cfg.Liquidity.Operator,
		cfg.Clearing.Asset,
		logger,
	)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		eventBus,
		manager,
		anchorService,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	// Initialize API server
	httpServer := http.NewServer(&http.Config{
		Port:    cfg.HTTPPort,
		Manager: manager,
		Pool:    pool,
		Store:   sessionStore,
		Logger:  logger,
	})

	wsHandler := websocket.NewHandler(manager, logger)
	httpServer.SetupWebSocket(wsHandler)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("clearstake started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := clearingClient.Close(); err != nil {
		logger.Error("clearing client close error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("clearstake shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
