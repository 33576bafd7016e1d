package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/donasdosas/ledger/internal/app"
	costinghttp "github.com/donasdosas/ledger/internal/costing/http"
	ledgerhttp "github.com/donasdosas/ledger/internal/ledger/http"
	"github.com/donasdosas/ledger/internal/observability"
	saleshttp "github.com/donasdosas/ledger/internal/sales/http"
	scenariohttp "github.com/donasdosas/ledger/internal/scenario/http"
	"github.com/donasdosas/ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	services, err := app.BuildServices(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close()

	if err := services.Reports.ListenForInvalidation(ctx, func(businessID, version int64) {
		logger.Debug("report cache invalidated",
			slog.Int64("business_id", businessID),
			slog.Int64("version", version))
	}); err != nil {
		logger.Warn("subscribe cache invalidation", slog.Any("error", err))
	}

	jobHandler := jobs.NewHandler(nil, logger)
	if redisOpt, err := cfg.AsynqRedis(); err != nil {
		logger.Warn("queue inspector disabled", slog.Any("error", err))
	} else if services.Redis != nil {
		inspector := asynq.NewInspector(redisOpt)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		LedgerHandler:   ledgerhttp.NewHandler(logger, services.Ledger),
		CostingHandler:  costinghttp.NewHandler(logger, services.Costing),
		SalesHandler:    saleshttp.NewHandler(logger, services.Sales),
		ScenarioHandler: scenariohttp.NewHandler(logger, services.Scenario),
		JobHandler:      jobHandler,
		Checks:          services.Checks(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
