package http

import (
	"context"
	"net/http"
	"time"
)

// Timeout bounds the request context by d. Handlers observe the deadline
// through the context: an embedding call that runs out of time surfaces as an
// upstream error, a metadata lookup as a store error, and the handler renders
// them like any other failure. A non-positive d leaves the request unbounded.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
