// Package circuitbreaker guards calls to the embedding upstream with
// github.com/sony/gobreaker so a failing service is not hammered by retries.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"article-finder/internal/observability/metrics"
)

// Config holds the trip and recovery settings of a breaker.
type Config struct {
	// Name labels logs and the circuit_breaker_state gauge.
	Name string

	// MaxRequests is the number of trial calls let through while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts periodically.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the breaker, e.g. 0.6.
	FailureThreshold float64

	// MinRequests is the sample size below which the breaker never trips.
	MinRequests uint32
}

// EmbeddingAPIConfig returns the settings for the embedding upstream.
// While it is open, queries are answered from stale cache entries where possible.
func EmbeddingAPIConfig() Config {
	return Config{
		Name:             "embedding-api",
		MaxRequests:      2,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// CircuitBreaker is a named gobreaker whose state is exported as a metric.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// New creates a closed breaker. isFailure selects the errors that count
// against it; nil counts every error.
func New(cfg Config, isFailure func(error) bool) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			slog.Warn("Circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	if isFailure != nil {
		settings.IsSuccessful = func(err error) bool { return err == nil || !isFailure(err) }
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		name:    cfg.Name,
	}
}

// Execute runs fn through cb. While cb is open it returns gobreaker.ErrOpenState
// without calling fn.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		v, err := fn()
		out = v
		return nil, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// State returns the current state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen reports whether calls are currently being rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

// IsRejection reports whether err means the breaker refused to run the call.
func IsRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
