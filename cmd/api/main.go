package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BimaPangestu28/Syntra-sub003/internal/agent"
	"github.com/BimaPangestu28/Syntra-sub003/internal/app/migrate"
	"github.com/BimaPangestu28/Syntra-sub003/internal/httpx"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository/postgres"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/strategy"
	"github.com/BimaPangestu28/Syntra-sub003/pkg/config"
	"github.com/BimaPangestu28/Syntra-sub003/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	jobQueue, err := queue.NewRedisQueue(cfg.QueueRedisAddr, cfg.QueueRedisPass, cfg.QueueRedisDB, log)
	if err != nil {
		log.Error("failed to connect to queue redis", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	registry := agent.NewRegistry(log)
	agentWS := agent.NewHandler(registry, repo, repo, cfg.AgentJWTSecret, cfg.AgentPingInterval, cfg.AgentWriteTimeout, log)

	engine := strategy.NewEngine(repo, repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, engine, repo, repo, jobQueue, agentWS, registry, cfg.InternalToken, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
