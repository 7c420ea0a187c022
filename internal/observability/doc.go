// Package observability groups the logging, metrics and tracing infrastructure
// shared by the query server, the ingestion worker and the admin CLI.
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - tracing: OpenTelemetry spans for HTTP, query and ingestion
package observability
