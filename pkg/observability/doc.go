// Package observability carries the service's logging, metrics, tracing,
// health checks and shutdown orchestration.
//
// # Logging
//
// Logger is a thin wrapper over slog's JSON handler. Request-scoped loggers
// travel in the context:
//
//	logger := observability.FromContext(r.Context())
//	logger.WithField("role", role.RoleName).Info("Role resolved")
//
// # Metrics
//
// Metrics registers Prometheus collectors for token verification, role
// resolution, gate decisions, the role cache and login activity. Every
// Observe* helper is nil-safe. OTelMetrics mirrors the gate and resolver
// counters to the OTLP pipeline set up by InitOTel.
//
// # Health
//
// HealthChecker reports the role database as required and Redis as optional.
package observability
