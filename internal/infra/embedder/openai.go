package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"article-finder/internal/observability/metrics"
	"article-finder/internal/resilience/circuitbreaker"
	"article-finder/internal/resilience/retry"
)

// DefaultBaseURL is the OpenAI-compatible endpoint serving BAAI/bge-m3.
const DefaultBaseURL = "https://api.siliconflow.cn/v1"

// OpenAIConfig configures OpenAIUpstream.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// Retry is the attempt policy; the zero value uses retry.EmbeddingAPIConfig.
	Retry retry.Config

	// RateLimitRPS caps outgoing requests per second. 0 disables the limiter.
	RateLimitRPS float64
}

// OpenAIUpstream calls an OpenAI-compatible /embeddings endpoint.
// Calls are rate limited, retried with backoff and guarded by a circuit breaker.
type OpenAIUpstream struct {
	client         *openai.Client
	model          string
	timeout        time.Duration
	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
	limiter        *rate.Limiter
}

// NewOpenAIUpstream creates the production upstream.
func NewOpenAIUpstream(cfg OpenAIConfig) *OpenAIUpstream {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.EmbeddingAPIConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	slog.Info("Initialized embedding upstream",
		slog.String("base_url", clientCfg.BaseURL),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout),
		slog.Int("max_attempts", cfg.Retry.MaxAttempts))

	return &OpenAIUpstream{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		timeout:        cfg.Timeout,
		retryConfig:    cfg.Retry,
		circuitBreaker: circuitbreaker.New(circuitbreaker.EmbeddingAPIConfig(), retry.IsRetryable),
		limiter:        limiter,
	}
}

// Model returns the model name sent with every request.
func (o *OpenAIUpstream) Model() string { return o.model }

// Embed returns the embedding of text.
func (o *OpenAIUpstream) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := retry.Do(ctx, o.retryConfig, func() ([]float32, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		vec, err := circuitbreaker.Execute(o.circuitBreaker, func() ([]float32, error) {
			return o.doEmbed(ctx, text)
		})
		if circuitbreaker.IsRejection(err) {
			slog.Warn("Embedding API circuit breaker open, request rejected",
				slog.String("service", o.circuitBreaker.Name()),
				slog.String("state", o.circuitBreaker.State().String()))
		}
		return vec, err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	return vec, nil
}

// Check reports an error while the circuit breaker is open. It never calls the API.
func (o *OpenAIUpstream) Check(context.Context) error {
	if o.circuitBreaker.IsOpen() {
		return fmt.Errorf("%s circuit breaker is open", o.circuitBreaker.Name())
	}
	return nil
}

// doEmbed performs one attempt without retry or circuit breaker.
func (o *OpenAIUpstream) doEmbed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(o.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.RecordUpstreamRequest(false, duration)
		slog.WarnContext(ctx, "Embedding request failed",
			slog.String("model", o.model),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, classify(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		metrics.RecordUpstreamRequest(false, duration)
		return nil, errors.New("embedding api returned empty response")
	}

	metrics.RecordUpstreamRequest(true, duration)
	slog.DebugContext(ctx, "Embedding request completed",
		slog.String("model", o.model),
		slog.Int("dimension", len(resp.Data[0].Embedding)),
		slog.Duration("duration", duration))
	return resp.Data[0].Embedding, nil
}

// classify maps client errors onto retry.HTTPError so the retry policy can
// tell transient failures from permanent ones.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.HTTPError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &retry.HTTPError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return err
}
