package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/donasdosas/ledger/internal/app"
	jobmetrics "github.com/donasdosas/ledger/internal/jobs"
	"github.com/donasdosas/ledger/internal/observability"
	"github.com/donasdosas/ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.StorageDriver == app.StorageMemory {
		slog.Default().Error("the worker needs shared storage; STORAGE_DRIVER=memory is not supported")
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))
	metrics := observability.NewMetrics()

	services, err := app.BuildServices(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close()

	redisOpt, err := cfg.AsynqRedis()
	if err != nil {
		logger.Error("parse redis address", slog.Any("error", err))
		os.Exit(1)
	}

	ledgerJobs := jobs.NewLedgerJobs(services.Ledger, services.Businesses, logger, jobmetrics.NewMetrics(metrics.Registerer()))

	closeTask, err := jobs.NewClosePriorTask(jobs.ClosePriorPayload{BusinessIDs: cfg.CloseBusinessIDs})
	if err != nil {
		logger.Error("build close task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpt,
		Logger:    logger,
		Handlers:  ledgerJobs.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CloseSchedule, Task: closeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("close_schedule", cfg.CloseSchedule))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
