// Package observability provides logging, Prometheus metrics, health checks,
// graceful shutdown and OpenTelemetry setup for bodystore.
//
// # Logging
//
// Loggers are plain logrus loggers; components receive a logrus.FieldLogger
// and tag it with their own fields:
//
//	logger := observability.NewLogger("info", observability.FormatJSON, os.Stdout)
//	logger.WithField("component", "body-writer").Info("started")
//
// # Metrics
//
// NewMetrics registers the bodystore collectors on a registry. The helper
// methods (ObserveFlush, SetBacklog, ...) are safe on a nil *Metrics so that
// components can run without a registry in tests.
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	observability.RegisterMetricsEndpoint(router, registry)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.Register("postgres", true, observability.DatabaseCheck(db))
//	checker.Register("redis", false, observability.RedisCheck(client))
//	observability.RegisterHealthRoutes(router, checker)
//
// # Shutdown
//
// ShutdownManager stops the HTTP server first and then runs the registered
// functions in order, so the body writer drains before its store is closed.
package observability
