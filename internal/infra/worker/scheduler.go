package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/source"
	"article-finder/internal/usecase/ingest"
)

// Run statuses recorded in worker_ingest_runs_total.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Ingester is the part of the ingestion service the worker drives.
type Ingester interface {
	Ingest(ctx context.Context, batch []*entity.ArticleRecord, opts ingest.Options) (*entity.IngestionReport, error)
}

// Job ingests every article file found in Config.SourceDir. Unchanged
// articles are skipped by the ingestion service, so rescanning the same
// directory on every run only embeds what is new or edited.
type Job struct {
	cfg      *Config
	ingester Ingester
	metrics  *Metrics
	logger   *slog.Logger

	mu sync.Mutex
}

// NewJob creates a job over cfg.SourceDir.
func NewJob(cfg *Config, ingester Ingester, metrics *Metrics, logger *slog.Logger) *Job {
	return &Job{cfg: cfg, ingester: ingester, metrics: metrics, logger: logger}
}

// ErrRunInProgress is returned by Run while another run holds the job.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// Run performs one ingestion pass bounded by Config.RunTimeout. Per-file and
// per-record failures are part of the report; only a failure to read the
// directory or an aborted ingestion is returned as an error.
func (j *Job) Run(ctx context.Context) (*entity.IngestionReport, error) {
	if !j.mu.TryLock() {
		j.metrics.RecordRun(StatusSkipped, 0)
		j.logger.Warn("Ingestion run skipped, previous run still active")
		return nil, ErrRunInProgress
	}
	defer j.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, j.cfg.RunTimeout)
	defer cancel()

	j.logger.Info("Ingestion run started", slog.String("source_dir", j.cfg.SourceDir))

	report, err := j.run(ctx)
	duration := time.Since(start)
	if report != nil {
		j.metrics.RecordReport(report)
	}
	if err != nil {
		j.metrics.RecordRun(StatusFailure, duration)
		j.logger.Error("Ingestion run failed",
			slog.Any("error", err),
			slog.Duration("duration", duration))
		return report, err
	}

	j.metrics.RecordRun(StatusSuccess, duration)
	j.logger.Info("Ingestion run completed",
		slog.Int("inserted", report.Inserted),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", duration))
	for _, f := range report.Failures {
		j.logger.Warn("Article rejected", slog.String("article", f.ID), slog.String("reason", f.Reason))
	}
	return report, nil
}

func (j *Job) run(ctx context.Context) (*entity.IngestionReport, error) {
	batch, err := source.ReadDir(ctx, j.cfg.SourceDir, source.Options{
		DeriveIDs: j.cfg.DeriveIDs,
		Include:   j.cfg.Include,
	})
	if err != nil {
		return nil, err
	}

	report, err := j.ingester.Ingest(ctx, batch.Records, ingest.Options{})
	if report != nil {
		report.Failed += len(batch.Failures)
		report.Failures = append(batch.Failures, report.Failures...)
	}
	if err != nil {
		return report, fmt.Errorf("ingest %s: %w", j.cfg.SourceDir, err)
	}
	return report, nil
}

// Scheduler runs a Job on the configured cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers job under cfg.CronSchedule in cfg's time zone.
// Scheduled runs derive from ctx, so cancelling it aborts a run in flight.
func NewScheduler(ctx context.Context, cfg *Config, job *Job, logger *slog.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	if _, err := c.AddFunc(cfg.CronSchedule, func() {
		_, _ = job.Run(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cfg.CronSchedule, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("Next ingestion run scheduled", slog.Time("at", e.Next))
	}
}

// Stop prevents new runs and waits for a running one to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
