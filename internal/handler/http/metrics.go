package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"article-finder/internal/handler/http/responsewriter"
	"article-finder/internal/observability/metrics"
)

// Metrics records request count, latency and in-flight requests.
//
// The path label is the ServeMux pattern that matched, never the raw URL, so
// query strings and unknown paths cannot grow the label set. Metrics must be
// the innermost middleware: ServeMux stores the pattern on the request it
// receives, and any middleware in between would hand it a copy.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := metrics.TrackInFlight()
		defer done()

		start := time.Now()
		wrapped := responsewriter.Wrap(w)
		next.ServeHTTP(wrapped, r)

		metrics.RecordHTTPRequest(r.Method, routeLabel(r.Pattern),
			strconv.Itoa(wrapped.StatusCode()), time.Since(start))
	})
}

// routeLabel strips the method and host from a ServeMux pattern.
func routeLabel(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	if i := strings.Index(pattern, "/"); i > 0 {
		pattern = pattern[i:]
	}
	return pattern
}

// MetricsHandler serves the Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
