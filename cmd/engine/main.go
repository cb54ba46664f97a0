// Package main runs the campaign execution engine: deposit detection,
// the per-minute buy scheduler and the daily dust sweep, with Prometheus
// metrics on the side.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"solana-dca-engine/internal/config"
	"solana-dca-engine/internal/engine"
	"solana-dca-engine/internal/notify"
	"solana-dca-engine/internal/observability"
	"solana-dca-engine/internal/pricing"
	"solana-dca-engine/internal/solana"
	"solana-dca-engine/internal/storage"
	chstore "solana-dca-engine/internal/storage/clickhouse"
	"solana-dca-engine/internal/storage/migrations"
	pgstore "solana-dca-engine/internal/storage/postgres"
	"solana-dca-engine/internal/swap"
	"solana-dca-engine/internal/transfer"
	"solana-dca-engine/internal/wallet"
)

func main() {
	cfg, err := config.LoadEngine()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}

	logger := newLogger(cfg.LogFormat)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	// Postgres: campaigns and buys.
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatal("postgres migrations", zap.Error(err))
	}
	campaigns := pgstore.NewCampaignStore(pool)
	buys := pgstore.NewBuyStore(pool)

	// ClickHouse: execution event log, optional.
	var events storage.ExecutionEventStore
	if cfg.ClickHouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			logger.Fatal("clickhouse connect", zap.Error(err))
		}
		defer conn.Close()
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			logger.Fatal("clickhouse migrations", zap.Error(err))
		}
		events = chstore.NewExecutionEventStore(conn)
	}

	// Chain access.
	rpc := solana.NewHTTPClient(cfg.RPCEndpoint)
	mover := transfer.NewService(rpc, logger)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	oracle := pricing.NewOracle(logger,
		pricing.NewJupiterProvider(cfg.JupiterPriceURL, httpClient),
		pricing.NewCoinGeckoProvider(cfg.CoinGeckoURL, httpClient),
	)
	gateway := swap.NewGateway(cfg.JupiterSwapURL, cfg.SlippageBPS, rpc, logger)

	// Shared operator wallet, legacy fallback.
	var shared *wallet.Keypair
	sharedAddress := ""
	if cfg.SharedWalletKey != "" {
		shared, err = wallet.DecodeBase58(cfg.SharedWalletKey)
		if err != nil {
			logger.Fatal("shared wallet key", zap.Error(err))
		}
		sharedAddress = shared.Address()
	}

	var notifier notify.Notifier
	if cfg.TelegramBotToken != "" {
		notifier = notify.NewTelegram(cfg.TelegramBotToken, logger)
	} else {
		notifier = notify.NewLog(logger)
	}

	metrics := observability.NewMetrics("")

	engineCfg := engine.DefaultConfig()
	engineCfg.GasBufferLamports = cfg.GasBufferLamports
	engineCfg.ProtocolFeeLamports = cfg.ProtocolFeeLamports
	engineCfg.MinTradeLamports = cfg.MinTradeLamports
	engineCfg.MatchToleranceLamports = cfg.MatchToleranceLamports
	engineCfg.ActivationRatio = cfg.ActivationRatio
	engineCfg.FailureBackoff = time.Duration(cfg.FailureBackoffMinutes) * time.Minute
	engineCfg.FeeWallet = cfg.FeeWallet

	matcher := engine.NewMatcher(engineCfg, rpc, campaigns, events, notifier, sharedAddress, metrics, logger)
	executor := engine.NewExecutor(engineCfg, rpc, gateway, mover, oracle, campaigns, buys, events, notifier, shared, logger)
	sweeper := engine.NewSweeper(engineCfg, rpc, mover, campaigns, events, metrics, logger)

	// WebSocket fast path for deposits, optional.
	var deposits <-chan solana.AccountNotification
	if cfg.WSEndpoint != "" {
		watcher, err := solana.NewAccountWatcher(ctx, cfg.WSEndpoint, nil)
		if err != nil {
			logger.Warn("account watcher unavailable, polling only", zap.Error(err))
		} else {
			defer watcher.Close()
			matcher.UseWatcher(watcher)
			deposits = watcher.Notifications()
		}
	}

	scheduler := engine.NewScheduler(engineCfg, matcher, executor, sweeper, campaigns, deposits, metrics, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("scheduler start", zap.Error(err))
	}
	defer scheduler.Stop()

	// Metrics endpoint.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		addr := ":" + cfg.MetricsPort
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	logger.Info("engine started",
		zap.String("rpc", cfg.RPCEndpoint),
		zap.Bool("shared_wallet", shared != nil),
		zap.Bool("event_log", events != nil))

	<-ctx.Done()
}

func newLogger(format string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if format == "console" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
