package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"article-finder/internal/app"
	"article-finder/internal/config"
	"article-finder/internal/common/pagination"
	hhttp "article-finder/internal/handler/http"
	"article-finder/internal/handler/http/articles"
	"article-finder/internal/handler/http/requestid"
	"article-finder/internal/handler/http/search"
	"article-finder/internal/observability/logging"
	"article-finder/internal/observability/tracing"
)

func main() {
	cfg := loadConfig()
	logger := initLogger(cfg)
	version := getVersion()

	shutdownTracing := initTracing(cfg, version)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Failed to stop tracer provider", slog.Any("error", err))
		}
	}()

	application, err := app.New(context.Background(), cfg, app.Options{Process: "api"})
	if err != nil {
		logger.Error("Failed to initialize application", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("Failed to close application", slog.Any("error", err))
		}
	}()

	// the worker and indexctl write the index from other processes
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go application.WatchIndex(watchCtx)

	handler := setupServer(logger, cfg, application, version)
	runServer(logger, cfg.Server, handler, version)
}

// loadConfig reads .env and the environment, exiting on invalid configuration.
func loadConfig() *config.Config {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("Failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}

// initLogger installs the configured logger as the slog default.
func initLogger(cfg *config.Config) *slog.Logger {
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	return logger
}

// initTracing installs a tracer provider when tracing is enabled.
func initTracing(cfg *config.Config, version string) func(context.Context) error {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }
	}
	slog.Info("Tracing enabled", slog.Float64("sample_ratio", cfg.Tracing.SampleRatio))
	return tracing.InitProvider("article-finder-api", version, cfg.Tracing.SampleRatio)
}

// getVersion returns the application version from environment or default.
func getVersion() string {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	return version
}

// setupServer builds the routed handler wrapped in the middleware chain.
func setupServer(logger *slog.Logger, cfg *config.Config, application *app.App, version string) http.Handler {
	mux := setupRoutes(cfg, application, version)
	return applyMiddleware(logger, cfg.Server, mux)
}

// setupRoutes registers the query, stats, article and probe endpoints.
func setupRoutes(cfg *config.Config, application *app.App, version string) *http.ServeMux {
	mux := http.NewServeMux()
	search.Register(mux, search.Handler{
		Svc:         application.Query,
		DefaultTopK: cfg.Query.DefaultTopK,
		MaxTopK:     cfg.Query.MaxTopK,
	})
	articles.Register(mux, application.Articles, pagination.DefaultConfig())

	checks := application.Checks()
	mux.Handle("GET /health", &hhttp.HealthHandler{Checks: checks, Version: version})
	mux.Handle("GET /ready", &hhttp.ReadyHandler{Checks: checks})
	mux.Handle("GET /metrics", hhttp.MetricsHandler())
	return mux
}

// applyMiddleware wraps the handler with the middleware chain.
// Order, outermost first: Request ID → Tracing → Recovery → Logging → Timeout →
// Body Limit → Rate Limit → Metrics. Metrics stays innermost so that it sees the
// route pattern the mux records on the request.
func applyMiddleware(logger *slog.Logger, cfg config.ServerConfig, handler http.Handler) http.Handler {
	chain := []hhttp.Middleware{
		requestid.Middleware,
		tracing.Middleware,
		hhttp.Recover(logger),
		hhttp.Logging(logger),
		hhttp.Timeout(cfg.RequestTimeout),
		hhttp.LimitRequestBody(cfg.MaxBodyBytes),
	}

	if cfg.RateLimitRPS > 0 {
		limiter := hhttp.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		chain = append(chain, limiter.Limit)
		logger.Info("Rate limiting enabled",
			slog.Float64("rps", cfg.RateLimitRPS),
			slog.Int("burst", cfg.RateLimitBurst))
	} else {
		logger.Warn("Rate limiting is disabled")
	}
	chain = append(chain, hhttp.Metrics)

	return hhttp.Chain(handler, chain...)
}

// runServer starts the HTTP server and handles graceful shutdown.
func runServer(logger *slog.Logger, cfg config.ServerConfig, handler http.Handler, version string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("Server starting",
			slog.String("addr", cfg.Addr),
			slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", slog.Any("error", err))
	}
	cancel()
	logger.Info("Server stopped")
}
