// Package middleware provides HTTP rate limiting for the check API.
//
// # Overview
//
// This package implements per-caller request throttling. Callers are keyed
// by the identity header the engine already requires; anonymous traffic is
// keyed by client IP. Two backends are available: an in-memory token bucket
// for single-instance deployments and a Redis fixed window shared across
// replicas.
//
// # Middleware Components
//
// RateLimiter: In-memory token bucket
//
//	limiter := middleware.NewRateLimiter(nil) // default 300/min, 50 burst
//	limiter.StartCleanup(ctx)
//	server := api.NewServer(resolver, store, api.Options{RateLimit: limiter.Handler})
//
// DistributedRateLimiter: Redis-backed fixed window
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, nil, "")
//	server := api.NewServer(resolver, store, api.Options{RateLimit: limiter.Handler})
//
// The distributed limiter fails open on Redis errors so a cache outage
// never blocks permission checks; SetFailOpen(false) inverts that.
//
// # Related Packages
//
//   - pkg/api: Server wiring
//   - pkg/authz: Identity headers
package middleware
