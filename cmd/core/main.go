package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"coinledger/internal/channel"
	"coinledger/internal/config"
	"coinledger/internal/db"
	"coinledger/internal/logger"
	"coinledger/internal/metrics"
	"coinledger/internal/random"
	"coinledger/internal/services"
	"coinledger/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	ledger := services.NewLedgerService(
		db.NewTxRunner(database),
		store.NewAccountStore(database),
		store.NewLedgerStore(database),
		store.NewTransactionStore(database),
		random.New(nil),
		services.LedgerConfig{TotalSupply: cfg.TotalSupply},
		log.Named("ledger"),
	)
	if err := ledger.Bootstrap(ctx); err != nil {
		log.Fatal("failed to bootstrap ledger", zap.Error(err))
	}
	report, err := ledger.Reconcile(ctx)
	if err != nil {
		log.Fatal("failed to reconcile ledger", zap.Error(err))
	}
	if !report.Balanced || len(report.MismatchedAccounts) > 0 {
		log.Error("ledger out of balance at startup",
			zap.Int64("total_supply", report.TotalSupply),
			zap.Int64("total_balance", report.TotalBalance),
			zap.Int("mismatched_accounts", len(report.MismatchedAccounts)),
		)
	}

	collector := metrics.NewCollector("coinledger_core")
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	ln, err := channel.Listen(cfg.CoreSocketPath)
	if err != nil {
		log.Fatal("failed to open command socket", zap.Error(err))
	}
	log.Info("ledger core listening",
		zap.String("socket", cfg.CoreSocketPath),
		zap.String("metrics", cfg.MetricsAddr),
	)
	server := channel.NewServer(ledger, cfg.ChannelTimeout, collector, log.Named("channel"))
	if err := server.Serve(ctx, ln); err != nil {
		log.Error("command channel stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics shutdown error", zap.Error(err))
	}
	log.Info("ledger core stopped")
}
