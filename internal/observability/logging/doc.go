// Package logging provides structured logging utilities with context propagation.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout the application.
//
// Example usage:
//
//	import "article-finder/internal/observability/logging"
//
//	func main() {
//	    logger := logging.NewLogger()
//	    slog.SetDefault(logger)
//	    logger.Info("query server started", slog.String("addr", ":8080"))
//	}
//
//	func handleSearch(ctx context.Context) {
//	    logger := logging.WithRequestID(ctx, slog.Default())
//	    logger.Info("search request received")
//	}
package logging
