// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and distributed tracing integration.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Infof("Server started on port %d", 8080)
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).Error("Request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.HTTPRequestsTotal.WithLabelValues("POST", "/authz/check", "200").Inc()
//
// Engine metrics:
//
//	metrics.ObserveCheck("direct_grant", true, false, 0.0012)
//	metrics.ObserveInvalidation("user")
//
// The Metrics type satisfies the engine's Observer interface, so it can be
// handed to the resolver directly.
//
// # Health Checks
//
// The checker aggregates named probes; a failing required probe makes the
// service unhealthy, a failing optional probe only degrades it:
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddProbe("database", true, observability.DatabaseProbe(db))
//	checker.AddProbe("redis", false, observability.RedisProbe(redisClient))
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
// Initialize tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "palisade",
//		Endpoint:    "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/authz: The permission resolution engine these metrics observe
package observability
