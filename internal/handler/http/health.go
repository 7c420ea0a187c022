// Package http provides the query-serving HTTP interface: health and readiness
// probes, Prometheus metrics and the middleware shared by every route. The
// search and stats endpoints live in the search subpackage.
package http

import (
	"context"
	"net/http"
	"time"

	"article-finder/internal/handler/http/respond"
)

// Check statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check probes one dependency. A failing Optional check degrades the service
// instead of failing it: queries can still be answered from the embedding
// cache while the upstream circuit is open, for example.
type Check struct {
	Name     string
	Optional bool
	Probe    func(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
	Version   string                 `json:"version"`
}

// CheckStatus is the outcome of one check.
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler runs every check and reports the aggregate status.
// It answers 200 when healthy or degraded and 503 when a required check fails.
type HealthHandler struct {
	Checks  []Check
	Version string
	// Timeout bounds all checks together. Default: 5s
	Timeout time.Duration
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	status, checks := run(ctx, h.Checks)

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.JSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	})
}

// ReadyHandler answers 200 "ready" once every required check passes.
type ReadyHandler struct {
	Checks []Check
}

func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	for _, c := range h.Checks {
		if c.Optional {
			continue
		}
		if err := c.Probe(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(c.Name + " not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func run(ctx context.Context, checks []Check) (string, map[string]CheckStatus) {
	overall := StatusHealthy
	results := make(map[string]CheckStatus, len(checks))
	for _, c := range checks {
		err := c.Probe(ctx)
		switch {
		case err == nil:
			results[c.Name] = CheckStatus{Status: StatusHealthy}
		case c.Optional:
			results[c.Name] = CheckStatus{Status: StatusDegraded, Message: respond.SanitizeError(err)}
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		default:
			results[c.Name] = CheckStatus{Status: StatusUnhealthy, Message: respond.SanitizeError(err)}
			overall = StatusUnhealthy
		}
	}
	return overall, results
}
