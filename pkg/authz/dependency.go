package authz

import (
	"fmt"
	"sort"
)

// WildcardResource in a rule matches any resource type. A wildcard rule is
// instantiated against the concrete resource of the permission that
// triggered it, so "manage implies update" written once covers every
// resource type.
const WildcardResource Resource = "*"

// DependencyRule declares that holding its trigger also satisfies each of
// the implied permissions. A rule either has a single Trigger (multiple
// rules targeting the same permission OR together) or an AllOf group, in
// which case every member must be held before the rule fires.
type DependencyRule struct {
	Trigger  Permission   `json:"trigger,omitempty"`
	AllOf    []Permission `json:"all_of,omitempty"`
	Implies  []Permission `json:"implies"`
	Priority int          `json:"priority,omitempty"`
}

// triggers returns the permissions that participate in firing the rule
func (r DependencyRule) triggers() []Permission {
	if len(r.AllOf) > 0 {
		return r.AllOf
	}
	return []Permission{r.Trigger}
}

// StandardRules returns the shipped action hierarchy:
//
//	manage  implies create, update, delete, view
//	delete  implies update
//	update  implies view
//	*_any   implies the instance-scoped action
//
// All standard rules are wildcard rules and apply to every resource type.
func StandardRules() []DependencyRule {
	wp := func(a Action) Permission { return Permission{Resource: WildcardResource, Action: a} }
	return []DependencyRule{
		{Trigger: wp(ActionManage), Implies: []Permission{wp(ActionCreate), wp(ActionUpdate), wp(ActionDelete), wp(ActionView)}, Priority: 100},
		{Trigger: wp(ActionDelete), Implies: []Permission{wp(ActionUpdate)}, Priority: 50},
		{Trigger: wp(ActionUpdate), Implies: []Permission{wp(ActionView)}, Priority: 50},
		{Trigger: wp(ActionDeleteAny), Implies: []Permission{wp(ActionDelete)}, Priority: 50},
		{Trigger: wp(ActionUpdateAny), Implies: []Permission{wp(ActionUpdate)}, Priority: 50},
		{Trigger: wp(ActionViewAny), Implies: []Permission{wp(ActionView)}, Priority: 50},
	}
}

// RuleGraph is an immutable, validated dependency rule graph. It is built
// once from a ruleset and never mutated; when rules change the holder swaps
// in a freshly built graph so readers never observe a partial update.
type RuleGraph struct {
	rules []DependencyRule

	// byTrigger indexes rules by each participating trigger permission so
	// expansion touches only rules reachable from the held set.
	byTrigger map[string][]int
}

// NewRuleGraph validates the ruleset and builds the lookup indexes. A
// cyclic ruleset is rejected with ErrCyclicRules; the engine must never
// attempt cycle resolution at check time.
func NewRuleGraph(rules []DependencyRule) (*RuleGraph, error) {
	for i, r := range rules {
		if len(r.AllOf) == 0 && (r.Trigger.Action == "" || r.Trigger.Resource == "") {
			return nil, fmt.Errorf("%w: rule %d has no trigger", ErrInvalidArgument, i)
		}
		if len(r.Implies) == 0 {
			return nil, fmt.Errorf("%w: rule %d implies nothing", ErrInvalidArgument, i)
		}
	}

	sorted := make([]DependencyRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	g := &RuleGraph{
		rules:     sorted,
		byTrigger: make(map[string][]int),
	}
	for i, r := range sorted {
		for _, t := range r.triggers() {
			key := t.String()
			g.byTrigger[key] = append(g.byTrigger[key], i)
		}
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycle runs Kahn's topological sort over the trigger->implied edges.
// Wildcard permissions are treated as their own nodes, which is sound
// because instantiation preserves the edge structure per resource type.
func (g *RuleGraph) detectCycle() error {
	edges := make(map[string][]string)
	indegree := make(map[string]int)
	node := func(p Permission) string {
		key := p.String()
		if _, ok := indegree[key]; !ok {
			indegree[key] = 0
		}
		return key
	}

	for _, r := range g.rules {
		for _, t := range r.triggers() {
			from := node(t)
			for _, imp := range r.Implies {
				to := node(imp)
				edges[from] = append(edges[from], to)
				indegree[to]++
			}
		}
	}

	queue := make([]string, 0, len(indegree))
	for n, d := range indegree {
		if d == 0 {
			queue = append(queue, n)
		}
	}

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range edges[n] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if visited != len(indegree) {
		remaining := make([]string, 0)
		for n, d := range indegree {
			if d > 0 {
				remaining = append(remaining, n)
			}
		}
		sort.Strings(remaining)
		return fmt.Errorf("%w: involving %v", ErrCyclicRules, remaining)
	}
	return nil
}

// Len returns the number of rules in the graph
func (g *RuleGraph) Len() int {
	return len(g.rules)
}

// Rules returns the rules in evaluation order (highest priority first)
func (g *RuleGraph) Rules() []DependencyRule {
	out := make([]DependencyRule, len(g.rules))
	copy(out, g.rules)
	return out
}

// Implies reports whether the held permission set satisfies the requested
// permission through the rule graph. Resolution is a reachability query
// over the closure of the held set; only rules reachable from held
// permissions are visited.
func (g *RuleGraph) Implies(held map[string]struct{}, requested Permission) bool {
	if _, ok := held[requested.String()]; ok {
		return true
	}
	closure := g.expand(held)
	_, ok := closure[requested.String()]
	return ok
}

// Closure expands a permission list to its full dependency closure,
// including the input permissions. Used to precompute per-role effective
// sets.
func (g *RuleGraph) Closure(perms []Permission) []Permission {
	held := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		held[p.String()] = struct{}{}
	}
	closure := g.expand(held)

	keys := make([]string, 0, len(closure))
	for k := range closure {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Permission, 0, len(keys))
	for _, k := range keys {
		out = append(out, parsePermissionKey(k))
	}
	return out
}

// expand computes the fixpoint of the held set under the rules. The
// worklist carries newly satisfied permissions; each pops its indexed
// rules, so cost is proportional to the rules reachable from the held set.
func (g *RuleGraph) expand(held map[string]struct{}) map[string]struct{} {
	closure := make(map[string]struct{}, len(held)*2)
	worklist := make([]Permission, 0, len(held))
	add := func(p Permission) {
		key := p.String()
		if _, ok := closure[key]; ok {
			return
		}
		closure[key] = struct{}{}
		worklist = append(worklist, p)
	}

	for key := range held {
		add(parsePermissionKey(key))
	}

	for len(worklist) > 0 {
		p := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		g.fireRules(p, p, closure, add)
		// Wildcard rules match on action regardless of resource; the
		// concrete resource binds the wildcard on the implied side.
		g.fireRules(Permission{Resource: WildcardResource, Action: p.Action}, p, closure, add)
	}
	return closure
}

// fireRules applies every rule triggered by the lookup permission. For
// AllOf rules the remaining members must already be in the closure; a
// wildcard member is checked against the bound resource.
func (g *RuleGraph) fireRules(lookup, bound Permission, closure map[string]struct{}, add func(Permission)) {
	for _, idx := range g.byTrigger[lookup.String()] {
		r := g.rules[idx]
		if !g.groupSatisfied(r, bound, closure) {
			continue
		}
		for _, imp := range r.Implies {
			add(instantiate(imp, bound.Resource))
		}
	}
}

// groupSatisfied checks that every AllOf member is held. Single-trigger
// rules are satisfied by construction (the trigger just fired).
func (g *RuleGraph) groupSatisfied(r DependencyRule, bound Permission, closure map[string]struct{}) bool {
	if len(r.AllOf) == 0 {
		return true
	}
	for _, m := range r.AllOf {
		inst := instantiate(m, bound.Resource)
		if _, ok := closure[inst.String()]; !ok {
			return false
		}
	}
	return true
}

// instantiate binds a wildcard resource to the concrete resource that
// triggered the rule
func instantiate(p Permission, resource Resource) Permission {
	if p.Resource == WildcardResource {
		return Permission{Resource: resource, Action: p.Action}
	}
	return p
}

// parsePermissionString validates and parses the external "resource:action"
// form used in ruleset files and API payloads.
func parsePermissionString(s string) (Permission, error) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			if i == 0 || i == len(s)-1 {
				return Permission{}, fmt.Errorf("%w: malformed permission %q", ErrInvalidArgument, s)
			}
			return Permission{Resource: Resource(s[:i]), Action: Action(s[i+1:])}, nil
		}
	}
	return Permission{}, fmt.Errorf("%w: malformed permission %q, want resource:action", ErrInvalidArgument, s)
}

// parsePermissionKey reverses Permission.String. Resource names never
// contain ':' but actions never do either, so the last separator wins.
func parsePermissionKey(key string) Permission {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return Permission{Resource: Resource(key[:i]), Action: Action(key[i+1:])}
		}
	}
	return Permission{Resource: Resource(key)}
}
