package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the scheduled ingestion worker.
//
// Values come from the environment through LoadConfigFromEnv, which never fails:
// an invalid value is logged, counted and replaced by its default.
type Config struct {
	// CronSchedule is a standard five-field cron expression.
	// Default: "0 */6 * * *" (every six hours)
	CronSchedule string

	// Timezone is the IANA zone the schedule is evaluated in.
	// Default: "UTC"
	Timezone string

	// SourceDir is scanned for article JSON files on every run.
	// Default: "data/inbox"
	SourceDir string

	// Include lists doublestar patterns selecting files under SourceDir.
	// Empty means every *.json file.
	Include []string

	// DeriveIDs assigns ids derived from url and content to articles without one.
	DeriveIDs bool

	// RunTimeout bounds a single run. Range: 1m-4h. Default: 30m
	RunTimeout time.Duration

	// HealthPort serves /health, /health/ready and /metrics. Range: 1024-65535. Default: 9091
	HealthPort int
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		CronSchedule: "0 */6 * * *",
		Timezone:     "UTC",
		SourceDir:    "data/inbox",
		RunTimeout:   30 * time.Minute,
		HealthPort:   9091,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if err := validateCronSchedule(c.CronSchedule); err != nil {
		errs = append(errs, fmt.Errorf("cron schedule: %w", err))
	}
	if err := validateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if strings.TrimSpace(c.SourceDir) == "" {
		errs = append(errs, errors.New("source dir: must not be empty"))
	}
	if err := validateRunTimeout(c.RunTimeout); err != nil {
		errs = append(errs, fmt.Errorf("run timeout: %w", err))
	}
	if err := validatePort(c.HealthPort); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the schedule's time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validateCronSchedule(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("must not be empty")
	}
	_, err := cron.ParseStandard(s)
	return err
}

func validateTimezone(tz string) error {
	if tz == "" {
		return errors.New("must not be empty")
	}
	_, err := time.LoadLocation(tz)
	return err
}

func validateRunTimeout(d time.Duration) error {
	if d < time.Minute || d > 4*time.Hour {
		return fmt.Errorf("must be between 1m and 4h, got %v", d)
	}
	return nil
}

func validatePort(p int) error {
	if p < 1024 || p > 65535 {
		return fmt.Errorf("must be between 1024 and 65535, got %d", p)
	}
	return nil
}

// LoadConfigFromEnv reads the worker configuration with fail-open semantics.
//
// Environment variables:
//   - CRON_SCHEDULE: cron expression (default: "0 */6 * * *")
//   - WORKER_TIMEZONE: IANA time zone (default: "UTC")
//   - WORKER_SOURCE_DIR: directory scanned on each run (default: "data/inbox")
//   - WORKER_INCLUDE: comma-separated glob patterns (default: **/*.json)
//   - WORKER_DERIVE_IDS: true to derive missing ids (default: false)
//   - WORKER_RUN_TIMEOUT: duration, 1m-4h (default: 30m)
//   - WORKER_HEALTH_PORT: integer, 1024-65535 (default: 9091)
//
// Every fallback is logged as "Configuration fallback applied" and counted in
// worker_config_fallbacks_total.
func LoadConfigFromEnv(logger *slog.Logger, metrics *Metrics) *Config {
	cfg := DefaultConfig()
	l := &loader{logger: logger, metrics: metrics}

	cfg.CronSchedule = load(l, "CRON_SCHEDULE", cfg.CronSchedule, parseString, validateCronSchedule)
	cfg.Timezone = load(l, "WORKER_TIMEZONE", cfg.Timezone, parseString, validateTimezone)
	cfg.SourceDir = load(l, "WORKER_SOURCE_DIR", cfg.SourceDir, parseString, func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("must not be empty")
		}
		return nil
	})
	cfg.Include = load(l, "WORKER_INCLUDE", cfg.Include, parseList, func([]string) error { return nil })
	cfg.DeriveIDs = load(l, "WORKER_DERIVE_IDS", cfg.DeriveIDs, strconv.ParseBool, func(bool) error { return nil })
	cfg.RunTimeout = load(l, "WORKER_RUN_TIMEOUT", cfg.RunTimeout, time.ParseDuration, validateRunTimeout)
	cfg.HealthPort = load(l, "WORKER_HEALTH_PORT", cfg.HealthPort, strconv.Atoi, validatePort)

	metrics.SetFallbackActive(l.fallbacks > 0)
	return &cfg
}

type loader struct {
	logger    *slog.Logger
	metrics   *Metrics
	fallbacks int
}

func load[T any](l *loader, key string, def T, parse func(string) (T, error), validate func(T) error) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err == nil {
		err = validate(v)
	}
	if err != nil {
		l.fallbacks++
		l.metrics.RecordFallback(key)
		l.logger.Warn("Configuration fallback applied",
			slog.String("env_key", key),
			slog.String("invalid_value", raw),
			slog.Any("default_value", def),
			slog.String("error", err.Error()))
		return def
	}
	return v
}

func parseString(s string) (string, error) { return s, nil }

func parseList(s string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
