package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"article-finder/internal/app"
	"article-finder/internal/config"
	"article-finder/internal/infra/worker"
	"article-finder/internal/observability/logging"
)

func main() {
	once := flag.Bool("once", false, "run a single ingestion pass and exit")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("Failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *once); err != nil {
		logger.Error("Worker failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, once bool) error {
	metrics := worker.NewMetrics(prometheus.DefaultRegisterer)
	workerCfg := worker.LoadConfigFromEnv(logger, metrics)
	logger.Info("Worker configuration loaded",
		slog.String("cron_schedule", workerCfg.CronSchedule),
		slog.String("timezone", workerCfg.Timezone),
		slog.String("source_dir", workerCfg.SourceDir),
		slog.Any("include", workerCfg.Include),
		slog.Duration("run_timeout", workerCfg.RunTimeout),
		slog.Int("health_port", workerCfg.HealthPort))

	application, err := app.New(ctx, cfg, app.Options{Process: "worker"})
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("Failed to close application", slog.Any("error", err))
		}
	}()

	job := worker.NewJob(workerCfg, application.Ingest, metrics, logger)
	if once {
		_, err := job.Run(ctx)
		return err
	}

	health := worker.NewHealthServer(fmt.Sprintf(":%d", workerCfg.HealthPort), logger, prometheus.DefaultGatherer)
	healthErr := make(chan error, 1)
	go func() {
		if err := health.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			healthErr <- err
		}
	}()

	scheduler, err := worker.NewScheduler(ctx, workerCfg, job, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	health.SetReady(true)
	logger.Info("Worker started")

	select {
	case <-ctx.Done():
	case err := <-healthErr:
		return fmt.Errorf("health server: %w", err)
	}

	health.SetReady(false)
	logger.Info("Shutdown signal received, stopping scheduler")
	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+time.Minute)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	logger.Info("Worker stopped")
	return nil
}
