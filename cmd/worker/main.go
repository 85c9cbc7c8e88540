package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BimaPangestu28/Syntra-sub003/internal/agent"
	"github.com/BimaPangestu28/Syntra-sub003/internal/docker"
	"github.com/BimaPangestu28/Syntra-sub003/internal/queue"
	"github.com/BimaPangestu28/Syntra-sub003/internal/repository/postgres"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/build"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/deploy"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/notify"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/strategy"
	"github.com/BimaPangestu28/Syntra-sub003/internal/workspace"
	"github.com/BimaPangestu28/Syntra-sub003/pkg/config"
	"github.com/BimaPangestu28/Syntra-sub003/pkg/logger"
)

func main() {
	cfg := config.LoadWorkerConfig()
	log := logger.New("worker", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	repo := postgres.New(pool)

	jobQueue, err := queue.NewRedisQueue(cfg.QueueRedisAddr, cfg.QueueRedisPass, cfg.QueueRedisDB, log)
	if err != nil {
		log.Error("failed to connect to queue redis", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Error("docker daemon unreachable", "error", err)
		os.Exit(1)
	}

	ws, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err)
		os.Exit(1)
	}

	// Agent sockets terminate on the API process, so deploy commands are
	// relayed through its internal dispatch endpoints.
	dispatcher := agent.NewHTTPDispatcher(cfg.APIBaseURL, cfg.InternalToken, log)

	engine := strategy.NewEngine(repo, repo, log)
	buildWorker := build.NewWorker(repo, repo, jobQueue, ws, dockerClient, cfg, log)
	deployExecutor := deploy.NewExecutor(repo, repo, engine, dispatcher, jobQueue, log)
	notifyWorker := notify.NewWorker(repo, repo, cfg.NotifyHTTPTimeout, cfg.SMTPAddr, cfg.SMTPFrom, log)

	worker := queue.NewWorker(jobQueue, log, cfg.Concurrency, cfg.JobsPerMinute)
	worker.Register(queue.JobBuild, buildWorker.Handle)
	worker.Register(queue.JobDeploy, deployExecutor.Handle)
	worker.Register(queue.JobNotify, notifyWorker.Handle)

	evaluator := strategy.NewEvaluator(engine, repo, repo, jobQueue, cfg.CanaryEvaluate, log)
	if evaluator != nil {
		go evaluator.Run(ctx)
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics shutdown failed", "error", err)
	}
	log.Info("worker stopped")
}
