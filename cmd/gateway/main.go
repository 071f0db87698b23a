package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"coinledger/internal/auth"
	"coinledger/internal/channel"
	"coinledger/internal/config"
	"coinledger/internal/db"
	"coinledger/internal/handlers"
	"coinledger/internal/logger"
	"coinledger/internal/metrics"
	"coinledger/internal/middleware"
	"coinledger/internal/random"
	"coinledger/internal/store"
	"coinledger/internal/websocket"

	"github.com/go-redis/redis/v8"
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

	collector := metrics.NewCollector("coinledger_gateway")
	pool := auth.NewHashPool(cfg.TokenWorkers, cfg.TokenQueueSize, collector)
	defer pool.Close()

	var cache auth.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, token cache disabled", zap.Error(err))
		} else {
			cache = auth.NewRedisCache(client)
		}
	}

	tokens, err := auth.NewTokenService(
		store.NewTokenStore(database),
		pool,
		auth.BcryptHasher{Cost: cfg.TokenHashCost},
		random.New(nil),
		cache,
		auth.TokenConfig{TTL: cfg.TokenTTL, CacheTTL: cfg.TokenCacheTTL},
		collector,
		log.Named("tokens"),
	)
	if err != nil {
		log.Fatal("failed to start token service", zap.Error(err))
	}

	ledger := channel.NewClient(cfg.CoreSocketPath, cfg.ChannelTimeout)
	hub := websocket.NewHub(handlers.AllowedOrigins(cfg.AllowedOrigins), log.Named("ws"))
	limiter := middleware.NewRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst, log.Named("ratelimit"))
	handler := handlers.New(cfg, ledger, tokens, hub, limiter, collector, log.Named("http"))

	go housekeeping(ctx, tokens, limiter, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info("gateway listening", zap.String("addr", server.Addr), zap.String("core", cfg.CoreSocketPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}

// housekeeping purges expired tokens and idle rate limiter entries.
func housekeeping(ctx context.Context, tokens *auth.TokenService, limiter *middleware.RateLimiter, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := tokens.PurgeExpired(ctx)
			if err != nil {
				log.Warn("token purge failed", zap.Error(err))
			} else if purged > 0 {
				log.Info("purged expired tokens", zap.Int64("count", purged))
			}
			limiter.Cleanup(time.Hour)
		}
	}
}
