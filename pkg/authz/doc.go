// Package authz implements the Palisade permission resolution engine: a
// multi-tenant, flat-RBAC authorization core with a declarative permission
// dependency graph and a multi-level decision cache.
//
// # Overview
//
// The engine answers one question: may this user perform this action on
// this resource type (optionally on one specific instance) within this
// tenant. Every answer is a Decision carrying a granted flag, a stable
// machine-readable reason, the resolution latency and whether a cache
// served it. The engine fails closed: a store outage or timeout produces
// a denial with a distinguishing reason, never a grant and never an
// HTTP-level error.
//
// # Model
//
// Four concepts compose the model:
//
//  1. Permissions: resource + action pairs, rendered "resource:action"
//     (e.g. "report:view"). Resource types are open strings; actions are
//     the fixed vocabulary view, view_any, create, update, update_any,
//     delete, delete_any and manage.
//  2. Roles: named permission sets. There is no role hierarchy; a user's
//     effective permissions are the union over their assigned roles.
//  3. Assignments: bindings of a role to a user within a tenant, either
//     tenant-wide (entity_id null) or scoped to a single entity.
//  4. Dependency rules: data-driven implications between permissions.
//     Holding "report:manage" implies the full report action set;
//     holding "report:delete" implies "report:update" which implies
//     "report:view". Rules may require a conjunction (all_of) and carry
//     a priority for deterministic ordering.
//
// # Dependency Rules
//
// Rules live in the database or a YAML file, not in code. Rulesets are
// validated at load time; a cyclic ruleset is rejected with ErrCyclicRules
// before it can ever serve a check. Resolution treats the ruleset as a
// graph and asks whether the requested permission is reachable from the
// closure of the user's directly held set:
//
//	graph, err := authz.NewRuleGraph(authz.StandardRules())
//	if err != nil { ... }
//	granted := graph.Implies(held, authz.Permission{
//		Resource: "report",
//		Action:   authz.ActionView,
//	})
//
// A wildcard resource "*" in a rule binds to whatever concrete resource
// triggered it, so the standard action hierarchy is written once.
//
// # Resolution
//
// The Resolver composes the pieces:
//
//	resolver, err := authz.NewResolver(authz.ResolverConfig{
//		Store:   store,
//		Cache:   authz.NewCache(authz.DefaultCacheConfig()),
//		Rules:   graph,
//		Emitter: emitter,
//	})
//
//	decision, err := resolver.Check(ctx, authz.CheckRequest{
//		UserID:   "u-17",
//		TenantID: "t-1",
//		Resource: "report",
//		Action:   authz.ActionView,
//	})
//
// A check proceeds: superadmin fast path, decision cache, assignment
// fetch, entity boundary filtering, direct grant lookup, dependency
// expansion. Instance-scoped actions (view, update, delete) without a
// target resource instance are satisfied only by the corresponding
// "any" grant.
//
// # Caching and Invalidation
//
// Three in-process layers back the hot path: per-check decisions,
// per-user-scope permission sets and per-role dependency closures, plus
// a longer-lived superadmin flag cache. Store writes invalidate
// synchronously through the InvalidationSink before the write returns,
// so a caller that revokes a role and immediately re-checks observes the
// revocation. Role-level changes cascade to every holder in one batched
// pass rather than flushing everything.
//
// An optional Redis-backed SharedDecisionCache (pkg/authz/rediscache)
// lets a fleet of replicas serve each other's decisions.
//
// # HTTP Surface
//
// Handlers expose check, batch check, effective permissions and the
// administrative role and assignment operations. RequirePermission wraps
// arbitrary routes behind a check, reading identity from the gateway
// headers X-Palisade-User and X-Palisade-Tenant.
//
// # Related Packages
//
//   - pkg/audit: asynchronous decision and invalidation event emission
//   - pkg/authz/rediscache: cross-replica decision cache
//   - pkg/observability: logging, metrics and health checks
//   - pkg/config: environment-driven engine configuration
package authz
