// Package config assembles the application configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML file
// named by APP_CONFIG_FILE, then environment variables. Validate runs last.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	env "article-finder/pkg/config"
)

// Supported backends and policies.
const (
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"

	CacheBackendBolt   = "bolt"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	StoreBackendPostgres = "postgres"
	StoreBackendSQLite   = "sqlite"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"

	OverlengthTruncate = "truncate"
	OverlengthReject   = "reject"
)

// MaxTopKCeiling is the largest top_k any deployment may accept.
const MaxTopKCeiling = 20

// Config is the complete application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Index     IndexConfig     `yaml:"index"`
	Store     StoreConfig     `yaml:"store"`
	Query     QueryConfig     `yaml:"query"`
	Server    ServerConfig    `yaml:"server"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level: debug, info, warn, error. Default: info
	Level string `yaml:"level"`
	// Format: json or text. Default: json
	Format string `yaml:"format"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// SampleRatio is the fraction of root traces recorded. Default: 1
	SampleRatio float64 `yaml:"sample_ratio"`
}

// EmbeddingConfig configures the embedding client and its upstream.
type EmbeddingConfig struct {
	// Provider selects the upstream: "openai" (any OpenAI-compatible endpoint) or
	// "hash" (deterministic in-process embedder for tests and offline use).
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"-"`
	Model    string `yaml:"model"`
	// Dimension every vector must have. Default: 1024 (BAAI/bge-m3)
	Dimension int `yaml:"dimension"`
	// Timeout per upstream attempt. Default: 30s
	Timeout time.Duration `yaml:"timeout"`
	// MaxAttempts per text, including the first. Default: 3
	MaxAttempts int `yaml:"max_attempts"`
	// RetryDelay between attempts. Default: 5s
	RetryDelay time.Duration `yaml:"retry_delay"`
	// RateLimitRPS caps upstream requests per second. 0 disables. Default: 10
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// MaxInputRunes is the longest accepted input. Default: 8000
	MaxInputRunes int `yaml:"max_input_runes"`
	// OverlengthPolicy: "truncate" or "reject". Default: truncate
	OverlengthPolicy string `yaml:"overlength_policy"`
	// BatchParallelism bounds concurrent cache lookups in a batch. Default: 4
	BatchParallelism int `yaml:"batch_parallelism"`
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	// Backend is bolt (one file per process), memory, or redis (shared by all
	// processes through the REDIS_* settings of the store).
	Backend string `yaml:"backend"`
	// Path of the bolt file. Each binary inserts its name before the extension,
	// so data/embed_cache.db becomes data/embed_cache.api.db for the API.
	Path string `yaml:"path"`
	// TTL after which an entry is recomputed. Default: 30 days
	TTL time.Duration `yaml:"ttl"`
	// MaxStale is how long past its TTL an entry is kept for stale-while-error. Default: 90 days
	MaxStale time.Duration `yaml:"max_stale"`
	// MaxEntries caps the cache size; the oldest entries are evicted first. Default: 100000
	MaxEntries int `yaml:"max_entries"`
}

// IndexConfig configures vector index persistence.
type IndexConfig struct {
	// Path of the index file holding vectors and the position binding.
	Path string `yaml:"path"`
	// ReloadInterval is the longest a reader process goes without noticing an
	// index file replaced by a writer. Default: 30s
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// StoreConfig configures the metadata store.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	DatabaseURL   string `yaml:"-"`
	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
}

// QueryConfig configures the query pipeline.
type QueryConfig struct {
	// MaxTopK is the largest accepted top_k. Default: 20
	MaxTopK int `yaml:"max_top_k"`
	// DefaultTopK is used when the caller does not pass one. Default: 5
	DefaultTopK int `yaml:"default_top_k"`
	// OverfetchFactor multiplies top_k for the index search. Default: 2
	OverfetchFactor int `yaml:"overfetch_factor"`
	// MaxSearchK caps the overfetched search size. Default: 30
	MaxSearchK int `yaml:"max_search_k"`
	// StoreTimeout bounds each metadata lookup. Default: 5s
	StoreTimeout time.Duration `yaml:"store_timeout"`
	// CacheSize is the number of cached query results. 0 disables. Default: 256
	CacheSize int `yaml:"cache_size"`
	// CacheTTL bounds the age of a cached result. Default: 10m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxBodyBytes caps POST bodies. Default: 64 KiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// RateLimitRPS is the per-client request rate. 0 disables. Default: 0
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// RateLimitBurst is the per-client burst. Default: 20
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{SampleRatio: 1},
		Embedding: EmbeddingConfig{
			Provider:         ProviderOpenAI,
			BaseURL:          "https://api.siliconflow.cn/v1",
			Model:            "BAAI/bge-m3",
			Dimension:        1024,
			Timeout:          30 * time.Second,
			MaxAttempts:      3,
			RetryDelay:       5 * time.Second,
			RateLimitRPS:     10,
			MaxInputRunes:    8000,
			OverlengthPolicy: OverlengthTruncate,
			BatchParallelism: 4,
		},
		Cache: CacheConfig{
			Backend:    CacheBackendBolt,
			Path:       "data/embed_cache.db",
			TTL:        30 * 24 * time.Hour,
			MaxStale:   90 * 24 * time.Hour,
			MaxEntries: 100000,
		},
		Index: IndexConfig{Path: "data/index.db", ReloadInterval: 30 * time.Second},
		Store: StoreConfig{
			Backend:    StoreBackendSQLite,
			SQLitePath: "data/articles.db",
			RedisAddr:  "localhost:6379",
		},
		Query: QueryConfig{
			MaxTopK:         20,
			DefaultTopK:     5,
			OverfetchFactor: 2,
			MaxSearchK:      30,
			StoreTimeout:    5 * time.Second,
			CacheSize:       256,
			CacheTTL:        10 * time.Minute,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    64 << 10,
			RateLimitBurst:  20,
		},
	}
}

// LoadDotEnv loads variables from .env files without overriding the real environment.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load resolves the configuration from defaults, APP_CONFIG_FILE and the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := env.GetEnvString("APP_CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Log.Level = env.GetEnvString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env.GetEnvEnum("LOG_FORMAT", c.Log.Format, "json", "text")

	c.Tracing.Enabled = env.GetEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.SampleRatio = env.GetEnvFloat("TRACE_SAMPLE_RATIO", c.Tracing.SampleRatio)

	e := &c.Embedding
	e.Provider = env.GetEnvEnum("EMBED_PROVIDER", e.Provider, ProviderOpenAI, ProviderHash)
	e.BaseURL = env.GetEnvString("EMBED_BASE_URL", e.BaseURL)
	e.APIKey = env.GetEnvString("EMBED_API_KEY", env.GetEnvString("SILICONFLOW_API_KEY", e.APIKey))
	e.Model = env.GetEnvString("EMBED_MODEL", e.Model)
	e.Dimension = env.GetEnvInt("EMBED_DIMENSION", e.Dimension)
	e.Timeout = env.GetEnvDuration("EMBED_TIMEOUT", e.Timeout)
	e.MaxAttempts = env.GetEnvInt("EMBED_MAX_ATTEMPTS", e.MaxAttempts)
	e.RetryDelay = env.GetEnvDuration("EMBED_RETRY_DELAY", e.RetryDelay)
	e.RateLimitRPS = env.GetEnvFloat("EMBED_RATE_LIMIT_RPS", e.RateLimitRPS)
	e.MaxInputRunes = env.GetEnvInt("EMBED_MAX_INPUT_RUNES", e.MaxInputRunes)
	e.OverlengthPolicy = env.GetEnvEnum("EMBED_OVERLENGTH_POLICY", e.OverlengthPolicy, OverlengthTruncate, OverlengthReject)
	e.BatchParallelism = env.GetEnvInt("EMBED_BATCH_PARALLELISM", e.BatchParallelism)

	ca := &c.Cache
	ca.Backend = env.GetEnvEnum("EMBED_CACHE_BACKEND", ca.Backend,
		CacheBackendBolt, CacheBackendMemory, CacheBackendRedis)
	ca.Path = env.GetEnvString("EMBED_CACHE_PATH", ca.Path)
	ca.TTL = env.GetEnvDuration("EMBED_CACHE_TTL", ca.TTL)
	ca.MaxStale = env.GetEnvDuration("EMBED_CACHE_MAX_STALE", ca.MaxStale)
	ca.MaxEntries = env.GetEnvInt("EMBED_CACHE_MAX_ENTRIES", ca.MaxEntries)

	c.Index.Path = env.GetEnvString("INDEX_PATH", c.Index.Path)
	c.Index.ReloadInterval = env.GetEnvDuration("INDEX_RELOAD_INTERVAL", c.Index.ReloadInterval)

	s := &c.Store
	s.Backend = env.GetEnvEnum("STORE_BACKEND", s.Backend,
		StoreBackendPostgres, StoreBackendSQLite, StoreBackendRedis, StoreBackendMemory)
	s.DatabaseURL = env.GetEnvString("DATABASE_URL", s.DatabaseURL)
	s.SQLitePath = env.GetEnvString("SQLITE_PATH", s.SQLitePath)
	s.RedisAddr = env.GetEnvString("REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = env.GetEnvString("REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = env.GetEnvInt("REDIS_DB", s.RedisDB)

	q := &c.Query
	q.MaxTopK = env.GetEnvInt("QUERY_MAX_TOP_K", q.MaxTopK)
	q.DefaultTopK = env.GetEnvInt("QUERY_DEFAULT_TOP_K", q.DefaultTopK)
	q.OverfetchFactor = env.GetEnvInt("QUERY_OVERFETCH_FACTOR", q.OverfetchFactor)
	q.MaxSearchK = env.GetEnvInt("SEARCH_MAX_K", q.MaxSearchK)
	q.StoreTimeout = env.GetEnvDuration("QUERY_STORE_TIMEOUT", q.StoreTimeout)
	q.CacheSize = env.GetEnvInt("QUERY_CACHE_SIZE", q.CacheSize)
	q.CacheTTL = env.GetEnvDuration("QUERY_CACHE_TTL", q.CacheTTL)

	sv := &c.Server
	sv.Addr = env.GetEnvString("HTTP_ADDR", sv.Addr)
	sv.RequestTimeout = env.GetEnvDuration("HTTP_REQUEST_TIMEOUT", sv.RequestTimeout)
	sv.ShutdownTimeout = env.GetEnvDuration("HTTP_SHUTDOWN_TIMEOUT", sv.ShutdownTimeout)
	sv.MaxBodyBytes = int64(env.GetEnvInt("HTTP_MAX_BODY_BYTES", int(sv.MaxBodyBytes)))
	sv.RateLimitRPS = env.GetEnvFloat("HTTP_RATE_LIMIT_RPS", sv.RateLimitRPS)
	sv.RateLimitBurst = env.GetEnvInt("HTTP_RATE_LIMIT_BURST", sv.RateLimitBurst)
}

// Validate checks configuration correctness.
func (c *Config) Validate() error {
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}

	e := c.Embedding
	switch e.Provider {
	case ProviderOpenAI:
		if e.APIKey == "" {
			return fmt.Errorf("EMBED_API_KEY is required for provider %q", e.Provider)
		}
		if e.BaseURL == "" || e.Model == "" {
			return fmt.Errorf("EMBED_BASE_URL and EMBED_MODEL cannot be empty")
		}
	case ProviderHash:
	default:
		return fmt.Errorf("unknown embedding provider %q", e.Provider)
	}
	if e.Dimension <= 0 {
		return fmt.Errorf("EMBED_DIMENSION must be positive")
	}
	if err := env.ValidatePositiveDuration(e.Timeout); err != nil {
		return fmt.Errorf("EMBED_TIMEOUT: %w", err)
	}
	if err := env.ValidateIntRange("EMBED_MAX_ATTEMPTS", e.MaxAttempts, 1, 10); err != nil {
		return err
	}
	if err := env.ValidateNonNegativeDuration(e.RetryDelay); err != nil {
		return fmt.Errorf("EMBED_RETRY_DELAY: %w", err)
	}
	if e.RateLimitRPS < 0 {
		return fmt.Errorf("EMBED_RATE_LIMIT_RPS must not be negative")
	}
	if e.MaxInputRunes <= 0 {
		return fmt.Errorf("EMBED_MAX_INPUT_RUNES must be positive")
	}
	if e.OverlengthPolicy != OverlengthTruncate && e.OverlengthPolicy != OverlengthReject {
		return fmt.Errorf("unknown overlength policy %q", e.OverlengthPolicy)
	}
	if e.BatchParallelism <= 0 {
		return fmt.Errorf("EMBED_BATCH_PARALLELISM must be positive")
	}

	ca := c.Cache
	if ca.Backend == CacheBackendBolt && ca.Path == "" {
		return fmt.Errorf("EMBED_CACHE_PATH cannot be empty")
	}
	if ca.Backend == CacheBackendRedis && c.Store.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required for the redis embedding cache")
	}
	if err := env.ValidatePositiveDuration(ca.TTL); err != nil {
		return fmt.Errorf("EMBED_CACHE_TTL: %w", err)
	}
	if err := env.ValidateNonNegativeDuration(ca.MaxStale); err != nil {
		return fmt.Errorf("EMBED_CACHE_MAX_STALE: %w", err)
	}
	if ca.MaxEntries < 0 {
		return fmt.Errorf("EMBED_CACHE_MAX_ENTRIES must not be negative")
	}

	if c.Index.Path == "" {
		return fmt.Errorf("INDEX_PATH cannot be empty")
	}
	if err := env.ValidatePositiveDuration(c.Index.ReloadInterval); err != nil {
		return fmt.Errorf("INDEX_RELOAD_INTERVAL: %w", err)
	}

	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreBackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	case StoreBackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	q := c.Query
	if err := env.ValidateIntRange("QUERY_MAX_TOP_K", q.MaxTopK, 1, MaxTopKCeiling); err != nil {
		return err
	}
	if err := env.ValidateIntRange("QUERY_DEFAULT_TOP_K", q.DefaultTopK, 1, q.MaxTopK); err != nil {
		return err
	}
	if q.OverfetchFactor < 1 {
		return fmt.Errorf("QUERY_OVERFETCH_FACTOR must be at least 1")
	}
	if q.MaxSearchK < q.MaxTopK {
		return fmt.Errorf("SEARCH_MAX_K (%d) must be at least QUERY_MAX_TOP_K (%d)", q.MaxSearchK, q.MaxTopK)
	}
	if err := env.ValidatePositiveDuration(q.StoreTimeout); err != nil {
		return fmt.Errorf("QUERY_STORE_TIMEOUT: %w", err)
	}
	if q.CacheSize < 0 {
		return fmt.Errorf("QUERY_CACHE_SIZE must not be negative")
	}
	if err := env.ValidateNonNegativeDuration(q.CacheTTL); err != nil {
		return fmt.Errorf("QUERY_CACHE_TTL: %w", err)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("HTTP_ADDR cannot be empty")
	}
	if err := env.ValidatePositiveDuration(c.Server.RequestTimeout); err != nil {
		return fmt.Errorf("HTTP_REQUEST_TIMEOUT: %w", err)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("HTTP_MAX_BODY_BYTES must be positive")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("HTTP_RATE_LIMIT_RPS must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("HTTP_RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
	}
	return nil
}
