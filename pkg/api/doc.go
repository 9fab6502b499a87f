// Package api assembles the engine's HTTP surface.
//
// # Overview
//
// The Server mounts the permission check and administrative routes from
// pkg/authz on a gorilla/mux router behind a shared middleware chain:
// prometheus instrumentation, optional rate limiting and debug request
// logging. Operational endpoints (liveness, readiness, metrics scrape)
// are built separately by NewOpsHandler and served on a dedicated port so
// load balancer probes never compete with check traffic.
//
// # Usage Example
//
//	server := api.NewServer(resolver, store, api.Options{
//		Metrics: metrics,
//		Log:     logger,
//	})
//
//	ops := api.NewOpsHandler(healthChecker, registry)
//
//	go http.ListenAndServe(":9090", ops)
//	http.ListenAndServe(":8080", server)
//
// # Related Packages
//
//   - pkg/authz: Route handlers and the resolution engine
//   - pkg/observability: Metrics, health checks and logging
package api
