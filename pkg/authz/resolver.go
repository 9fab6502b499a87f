package authz

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/palisade-io/palisade/pkg/audit"
)

// Observer receives engine telemetry. The prometheus implementation lives
// in pkg/observability; the interface is stringly typed so the metrics
// package needs no knowledge of engine types.
type Observer interface {
	ObserveCheck(reason string, granted, cacheHit bool, seconds float64)
	ObserveInvalidation(scope string)
}

// SharedDecisionCache is an optional cross-replica decision cache,
// consulted after the in-process layer misses. Implementations must treat
// backend failures as misses; the engine never fails a check on a cache
// error. Generation and the gen argument to PutDecision carry the same
// invalidation fence as the in-process cache: a put whose generation is
// no longer current must be dropped.
type SharedDecisionCache interface {
	GetDecision(ctx context.Context, key string) (Decision, bool)
	Generation(ctx context.Context, userID string) uint64
	PutDecision(ctx context.Context, userID, key string, gen uint64, d Decision)
	InvalidateUser(ctx context.Context, userID string)
}

// NopObserver discards telemetry
type NopObserver struct{}

func (NopObserver) ObserveCheck(reason string, granted, cacheHit bool, seconds float64) {}
func (NopObserver) ObserveInvalidation(scope string)                                    {}

// ResolverConfig wires a Resolver
type ResolverConfig struct {
	Store   Store
	Cache   *Cache
	Rules   *RuleGraph
	Emitter audit.Emitter

	// Shared is optional; when set, decisions are also served from and
	// written to a cache shared across replicas.
	Shared SharedDecisionCache

	// Observer is optional; nil means no telemetry
	Observer Observer

	// BatchConcurrency bounds parallel resolution inside CheckBatch;
	// 0 picks a default of 8.
	BatchConcurrency int
}

// Resolver is the engine's public entry point. It composes the store
// adapter, boundary validator, dependency rule graph, cache layers and
// audit emitter to answer permission checks. A Resolver is safe for
// concurrent use; the rule graph is swapped atomically on reload.
type Resolver struct {
	store    Store
	cache    *Cache
	shared   SharedDecisionCache
	boundary *BoundaryValidator
	emitter  audit.Emitter
	observer Observer
	tracer   trace.Tracer
	graph    atomic.Pointer[RuleGraph]
	batchN   int
}

// NewResolver builds a Resolver. The rule graph must already be validated
// (NewRuleGraph rejects cyclic rulesets before this point).
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: resolver requires a store", ErrInvalidArgument)
	}
	if cfg.Rules == nil {
		return nil, fmt.Errorf("%w: resolver requires a rule graph", ErrInvalidArgument)
	}
	if cfg.Cache == nil {
		cfg.Cache = NewCache(DefaultCacheConfig())
	}
	if cfg.Emitter == nil {
		cfg.Emitter = audit.NopEmitter{}
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 8
	}

	r := &Resolver{
		store:    cfg.Store,
		cache:    cfg.Cache,
		shared:   cfg.Shared,
		boundary: NewBoundaryValidator(),
		emitter:  cfg.Emitter,
		observer: cfg.Observer,
		tracer:   otel.Tracer("palisade/authz"),
		batchN:   cfg.BatchConcurrency,
	}
	r.graph.Store(cfg.Rules)
	return r, nil
}

// SetRuleGraph swaps in a new dependency rule graph. The swap is atomic,
// so in-flight checks keep the graph they started with, and the closure
// caches are flushed because they were computed against the old rules.
func (r *Resolver) SetRuleGraph(g *RuleGraph) {
	r.graph.Store(g)
	r.cache.InvalidateAll()
	r.observer.ObserveInvalidation("all")
	r.emitter.EmitInvalidation(context.Background(), audit.NewInvalidationEvent("all"))
}

// RuleGraph returns the graph currently in service
func (r *Resolver) RuleGraph() *RuleGraph {
	return r.graph.Load()
}

// Check answers whether the user may perform the action on the resource
// type (optionally a specific instance) within the tenant.
//
// Malformed input returns ErrInvalidArgument; it is a programming error,
// not a denial. Every other failure mode resolves to a denial with a
// distinguishing reason: the engine fails closed, never open.
func (r *Resolver) Check(ctx context.Context, req CheckRequest) (Decision, error) {
	start := time.Now()

	if req.UserID == "" || req.TenantID == "" || req.Resource == "" || req.Action == "" {
		return Decision{}, fmt.Errorf("%w: user_id, tenant_id, resource and action are required", ErrInvalidArgument)
	}

	ctx, span := r.tracer.Start(ctx, "authz.Check",
		trace.WithAttributes(
			attribute.String("authz.user_id", req.UserID),
			attribute.String("authz.tenant_id", req.TenantID),
			attribute.String("authz.permission", Permission{Resource: req.Resource, Action: req.Action}.String()),
		))
	defer span.End()

	decision := r.resolve(ctx, req)
	decision.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)
	decision.CheckedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.Bool("authz.granted", decision.Granted),
		attribute.String("authz.reason", string(decision.Reason)),
		attribute.Bool("authz.cache_hit", decision.CacheHit),
	)

	r.observer.ObserveCheck(string(decision.Reason), decision.Granted, decision.CacheHit, time.Since(start).Seconds())
	r.audit(ctx, req, decision)
	return decision, nil
}

// CheckBatch resolves several checks, reusing the shared cache layers so
// checks for the same user resolve the permission set once. Results are
// returned in request order.
func (r *Resolver) CheckBatch(ctx context.Context, reqs []CheckRequest) ([]Decision, error) {
	decisions := make([]Decision, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.batchN)
	for i, req := range reqs {
		g.Go(func() error {
			d, err := r.Check(ctx, req)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// EffectivePermissions returns the user's expanded permission set within a
// tenant (optionally narrowed to one entity), for bulk UI gating.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID, tenantID string, entityID *string) ([]Permission, error) {
	if userID == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: user_id and tenant_id are required", ErrInvalidArgument)
	}

	ps, err := r.loadPermissionSet(ctx, userID, tenantID, entityID)
	if err != nil {
		return nil, err
	}

	out := make([]Permission, 0, len(ps.Expanded))
	for key := range ps.Expanded {
		out = append(out, parsePermissionKey(key))
	}
	return out, nil
}

// InvalidateUser drops the user's cache entries and audits the event. The
// store calls this synchronously as part of assignment writes.
func (r *Resolver) InvalidateUser(userID string) {
	r.cache.InvalidateUser(userID)
	if r.shared != nil {
		r.shared.InvalidateUser(context.Background(), userID)
	}
	r.observer.ObserveInvalidation("user")

	ev := audit.NewInvalidationEvent("user")
	ev.UserID = userID
	r.emitter.EmitInvalidation(context.Background(), ev)
}

// InvalidateRole drops the role's closure and cascades to its holders
func (r *Resolver) InvalidateRole(roleID int64, holders []string) {
	r.cache.InvalidateRole(roleID, holders)
	if r.shared != nil {
		for _, userID := range holders {
			r.shared.InvalidateUser(context.Background(), userID)
		}
	}
	r.observer.ObserveInvalidation("role")

	ev := audit.NewInvalidationEvent("role")
	ev.RoleID = roleID
	ev.Holders = len(holders)
	r.emitter.EmitInvalidation(context.Background(), ev)
}

// resolve runs the check state machine: superadmin fast path, decision
// cache, boundary filtering, direct lookup, dependency expansion, resource
// boundary confirmation.
func (r *Resolver) resolve(ctx context.Context, req CheckRequest) Decision {
	// Generations are captured before the first store read. A revocation
	// that commits while this check is in flight bumps them, so the cache
	// writes below cannot resurrect the pre-revocation state.
	gen := r.cache.Generation(req.UserID)
	var sharedGen uint64
	if r.shared != nil {
		sharedGen = r.shared.Generation(ctx, req.UserID)
	}

	// Superadmin short-circuits everything, including tenant scoping.
	isAdmin, err := r.isSuperAdmin(ctx, req.UserID, gen)
	if err != nil {
		return r.failedDecision(ctx, err)
	}
	if isAdmin {
		return Decision{Granted: true, Reason: ReasonSuperAdmin}
	}

	key := DecisionKey(req)
	if d, ok := r.cache.GetDecision(key); ok {
		d.CacheHit = true
		return d
	}
	if r.shared != nil {
		if d, ok := r.shared.GetDecision(ctx, key); ok {
			d.CacheHit = true
			r.cache.PutDecision(req.UserID, key, gen, d)
			return d
		}
	}

	d, err := r.resolveUncached(ctx, req, gen)
	if err != nil {
		return r.failedDecision(ctx, err)
	}

	r.cache.PutDecision(req.UserID, key, gen, d)
	if r.shared != nil {
		r.shared.PutDecision(ctx, req.UserID, key, sharedGen, d)
	}
	return d
}

// resolveUncached performs full resolution against the store
func (r *Resolver) resolveUncached(ctx context.Context, req CheckRequest, gen uint64) (Decision, error) {
	// The check's entity scope derives from the target resource. Fetch
	// the owning entity and the raw assignment list concurrently; both
	// are independent store reads.
	var owningEntity string
	var assignments []UserRoleAssignment

	g, gctx := errgroup.WithContext(ctx)
	if req.ResourceID != nil {
		g.Go(func() error {
			var err error
			owningEntity, err = r.store.GetResourceOwningEntity(gctx, req.Resource, *req.ResourceID)
			return err
		})
	}
	g.Go(func() error {
		var err error
		assignments, err = r.store.GetAssignmentsForUser(gctx, req.UserID, req.TenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Decision{}, err
	}

	if len(assignments) == 0 {
		return Decision{Reason: ReasonNoAssignmentInScope}, nil
	}

	var targetEntity *string
	if req.ResourceID != nil && owningEntity != "" {
		targetEntity = &owningEntity
	}

	// First boundary consult filters the eligible assignments; when a
	// resource instance is named, the second confirms its owning entity
	// is reachable from each of them.
	eligible := make([]UserRoleAssignment, 0, len(assignments))
	for _, a := range assignments {
		if !r.boundary.InScope(a, req.TenantID, targetEntity) {
			continue
		}
		if req.ResourceID != nil && !r.boundary.ResourceInScope(a, req.TenantID, owningEntity) {
			continue
		}
		eligible = append(eligible, a)
	}
	if len(eligible) == 0 {
		// Assignments exist in the tenant but none cover the target
		// entity; this is scenario four, not a missing assignment.
		return Decision{Reason: ReasonEntityBoundary}, nil
	}

	ps, err := r.buildPermissionSet(ctx, req.UserID, req.TenantID, targetEntity, gen, eligible)
	if err != nil {
		return Decision{}, err
	}

	requested := Permission{Resource: req.Resource, Action: req.Action}
	if req.ResourceID == nil && req.Action.IsInstanceScoped() {
		// Without a target instance only an "any"-style grant can
		// satisfy an instance-scoped action.
		return r.decideTypeLevel(ps, requested), nil
	}

	return r.decide(ps, requested), nil
}

// decide checks direct grants first and expands dependencies only when
// the direct lookup did not satisfy the request.
func (r *Resolver) decide(ps *permissionSet, requested Permission) Decision {
	if _, ok := ps.Direct[requested.String()]; ok {
		return Decision{Granted: true, Reason: ReasonDirectGrant}
	}
	if _, ok := ps.Expanded[requested.String()]; ok {
		return Decision{Granted: true, Reason: ReasonDependencyImplied}
	}
	return Decision{Reason: ReasonNoMatchingPermission}
}

// decideTypeLevel resolves an instance-scoped action with no target: the
// request is lifted to its "any" variant, so a plain instance grant never
// passes a targetless check.
func (r *Resolver) decideTypeLevel(ps *permissionSet, requested Permission) Decision {
	lifted := Permission{Resource: requested.Resource, Action: anyVariant(requested.Action)}
	d := r.decide(ps, lifted)
	if d.Granted {
		return d
	}
	if _, ok := ps.Expanded[requested.String()]; ok {
		// The instance permission itself would have matched; the caller
		// just failed to name a resource instance.
		return Decision{Reason: ReasonInstanceActionNoTarget}
	}
	return d
}

// loadPermissionSet fetches assignments, filters them to the requested
// scope and builds the expanded permission set.
func (r *Resolver) loadPermissionSet(ctx context.Context, userID, tenantID string, entityID *string) (*permissionSet, error) {
	gen := r.cache.Generation(userID)
	assignments, err := r.store.GetAssignmentsForUser(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	eligible := make([]UserRoleAssignment, 0, len(assignments))
	for _, a := range assignments {
		if r.boundary.InScope(a, tenantID, entityID) {
			eligible = append(eligible, a)
		}
	}
	return r.buildPermissionSet(ctx, userID, tenantID, entityID, gen, eligible)
}

// buildPermissionSet unions the closures of every eligible role, serving
// from the layer-2 cache when the scope was resolved before.
func (r *Resolver) buildPermissionSet(ctx context.Context, userID, tenantID string, entityID *string, gen uint64, eligible []UserRoleAssignment) (*permissionSet, error) {
	if ps, ok := r.cache.GetUserPermissions(userID, tenantID, entityID); ok {
		return ps, nil
	}

	graph := r.graph.Load()
	ps := &permissionSet{
		Direct:      make(map[string]struct{}),
		Expanded:    make(map[string]struct{}),
		Assignments: eligible,
		ComputedAt:  time.Now().UTC(),
	}

	for _, a := range eligible {
		direct, closure, err := r.rolePermissions(ctx, graph, a.RoleID)
		if err != nil {
			return nil, err
		}
		for _, p := range direct {
			ps.Direct[p.String()] = struct{}{}
		}
		for _, p := range closure {
			ps.Expanded[p.String()] = struct{}{}
		}
	}

	r.cache.PutUserPermissions(userID, tenantID, entityID, gen, ps)
	return ps, nil
}

// rolePermissions loads a role's direct grants and dependency closure,
// caching the closure per role (layer 3).
func (r *Resolver) rolePermissions(ctx context.Context, graph *RuleGraph, roleID int64) (direct, closure []Permission, err error) {
	roleGen := r.cache.RoleGeneration(roleID)
	direct, err = r.store.GetPermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}

	if cached, ok := r.cache.GetRoleClosure(roleID); ok {
		return direct, cached, nil
	}

	closure = graph.Closure(direct)
	r.cache.PutRoleClosure(roleID, roleGen, closure)
	return direct, closure, nil
}

// isSuperAdmin checks the long-TTL superadmin cache before the store
func (r *Resolver) isSuperAdmin(ctx context.Context, userID string, gen uint64) (bool, error) {
	if v, ok := r.cache.GetSuperAdmin(userID); ok {
		return v, nil
	}
	v, err := r.store.IsSuperAdmin(ctx, userID)
	if err != nil {
		return false, err
	}
	r.cache.PutSuperAdmin(userID, gen, v)
	return v, nil
}

// failedDecision maps an evaluation failure to a fail-closed denial.
// Deadline expiry becomes Timeout; everything else is StoreUnavailable.
// Failed decisions are never cached.
func (r *Resolver) failedDecision(ctx context.Context, err error) Decision {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Decision{Reason: ReasonTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return Decision{Reason: ReasonTimeout}
	}
	return Decision{Reason: ReasonStoreUnavailable}
}

// audit emits the decision event; emission is fire-and-forget
func (r *Resolver) audit(ctx context.Context, req CheckRequest, d Decision) {
	ev := audit.NewDecisionEvent()
	ev.UserID = req.UserID
	ev.TenantID = req.TenantID
	ev.Resource = string(req.Resource)
	ev.Action = string(req.Action)
	ev.ResourceID = req.ResourceID
	ev.Granted = d.Granted
	ev.Reason = string(d.Reason)
	ev.LatencyMs = d.LatencyMs
	ev.CacheHit = d.CacheHit
	r.emitter.EmitDecision(ctx, ev)
}

// anyVariant maps an instance-scoped action to its type-level form
func anyVariant(a Action) Action {
	switch a {
	case ActionView:
		return ActionViewAny
	case ActionUpdate:
		return ActionUpdateAny
	case ActionDelete:
		return ActionDeleteAny
	}
	return a
}

var _ InvalidationSink = (*Resolver)(nil)
