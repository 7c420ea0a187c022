// Package respond writes JSON responses for the query-serving interface and maps
// domain errors to HTTP status codes without leaking internal details.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"article-finder/internal/domain/entity"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already sent; nothing left but to log
			slog.Error("Failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// Error writes {"error": msg} with the given status code.
func Error(w http.ResponseWriter, code int, err error) {
	JSON(w, code, map[string]string{"error": err.Error()})
}

// StatusCode maps an error kind to its HTTP status.
//
//	invalid_input  -> 400
//	not_found      -> 404
//	upstream_error -> 503
//	anything else  -> 500
func StatusCode(err error) int {
	switch entity.Kind(err) {
	case entity.KindOK:
		return http.StatusOK
	case entity.KindInvalidInput:
		return http.StatusBadRequest
	case entity.KindNotFound:
		return http.StatusNotFound
	case entity.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text shown to the caller for err. Input errors are
// returned as is so that callers can correct the request; everything else is
// replaced by a generic message and logged with sensitive values masked.
func Message(err error) string {
	kind := entity.Kind(err)
	switch kind {
	case entity.KindOK:
		return ""
	case entity.KindInvalidInput, entity.KindNotFound:
		return err.Error()
	}

	slog.Error("Request failed",
		slog.String("kind", kind),
		slog.String("error", SanitizeError(err)))

	if kind == entity.KindUpstream {
		return "embedding service unavailable"
	}
	return "internal server error"
}

// SafeError writes {"error": msg} using StatusCode and Message.
func SafeError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	JSON(w, StatusCode(err), map[string]string{"error": Message(err)})
}
