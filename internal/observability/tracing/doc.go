// Package tracing provides OpenTelemetry tracing integration.
//
// Spans are created for HTTP requests (Middleware), queries and ingestion batches
// (StartSpan/EndSpan). No exporter is configured here: the binaries install a
// tracer provider when one is wanted, otherwise the global no-op provider is used.
//
//	func search(ctx context.Context) (err error) {
//	    ctx, span := tracing.StartSpan(ctx, "query.Search")
//	    defer func() { tracing.EndSpan(span, err) }()
//	    // ...
//	}
package tracing
