// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown for the tenancy
// service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithOrg(orgID).WithUser(userID).Info("member joined")
//
// Loggers travel through contexts; FromContext adds the request id and the
// active trace and span ids:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("cache unavailable")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveOperation("assign_role", "ok", time.Since(start))
//
// A nil *Metrics is valid and records nothing, so libraries can accept
// metrics optionally.
//
// # Tracing
//
// InitOTel installs OTLP gRPC trace and metric exporters as the global
// providers. Services start spans through otel.Tracer; with OTel disabled
// the global no-op provider is used.
//
// # Health
//
// HealthChecker exposes /healthz (liveness) and /readyz (database and
// Redis) handlers. A Redis outage degrades readiness without failing it,
// since the authorization cache can fall back to the database.
package observability
