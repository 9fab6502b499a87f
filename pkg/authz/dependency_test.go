package authz

import (
	"errors"
	"testing"
)

func perm(resource, action string) Permission {
	return Permission{Resource: Resource(resource), Action: Action(action)}
}

func TestNewRuleGraph(t *testing.T) {
	t.Run("valid ruleset", func(t *testing.T) {
		graph, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("report", "manage"), Implies: []Permission{perm("report", "view")}},
		})
		if err != nil {
			t.Fatalf("NewRuleGraph failed: %v", err)
		}
		if graph.Len() != 1 {
			t.Errorf("Expected 1 rule, got %d", graph.Len())
		}
	})

	t.Run("missing trigger rejected", func(t *testing.T) {
		_, err := NewRuleGraph([]DependencyRule{
			{Implies: []Permission{perm("report", "view")}},
		})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("empty implies rejected", func(t *testing.T) {
		_, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("report", "manage")},
		})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("direct cycle rejected", func(t *testing.T) {
		_, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("a", "x"), Implies: []Permission{perm("b", "y")}},
			{Trigger: perm("b", "y"), Implies: []Permission{perm("a", "x")}},
		})
		if !errors.Is(err, ErrCyclicRules) {
			t.Errorf("Expected ErrCyclicRules, got %v", err)
		}
	})

	t.Run("self cycle rejected", func(t *testing.T) {
		_, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("a", "x"), Implies: []Permission{perm("a", "x")}},
		})
		if !errors.Is(err, ErrCyclicRules) {
			t.Errorf("Expected ErrCyclicRules, got %v", err)
		}
	})

	t.Run("long cycle rejected", func(t *testing.T) {
		_, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("a", "x"), Implies: []Permission{perm("b", "x")}},
			{Trigger: perm("b", "x"), Implies: []Permission{perm("c", "x")}},
			{Trigger: perm("c", "x"), Implies: []Permission{perm("a", "x")}},
		})
		if !errors.Is(err, ErrCyclicRules) {
			t.Errorf("Expected ErrCyclicRules, got %v", err)
		}
	})

	t.Run("diamond is not a cycle", func(t *testing.T) {
		_, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("a", "x"), Implies: []Permission{perm("b", "x"), perm("c", "x")}},
			{Trigger: perm("b", "x"), Implies: []Permission{perm("d", "x")}},
			{Trigger: perm("c", "x"), Implies: []Permission{perm("d", "x")}},
		})
		if err != nil {
			t.Errorf("Diamond ruleset should be valid, got %v", err)
		}
	})

	t.Run("standard rules are acyclic", func(t *testing.T) {
		if _, err := NewRuleGraph(StandardRules()); err != nil {
			t.Errorf("StandardRules should build, got %v", err)
		}
	})
}

func TestRuleGraph_Closure(t *testing.T) {
	contains := func(t *testing.T, perms []Permission, want Permission) {
		t.Helper()
		for _, p := range perms {
			if p == want {
				return
			}
		}
		t.Errorf("Closure missing %s: %v", want, perms)
	}
	excludes := func(t *testing.T, perms []Permission, not Permission) {
		t.Helper()
		for _, p := range perms {
			if p == not {
				t.Errorf("Closure should not contain %s", not)
			}
		}
	}

	t.Run("transitive expansion", func(t *testing.T) {
		graph, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("report", "delete"), Implies: []Permission{perm("report", "update")}},
			{Trigger: perm("report", "update"), Implies: []Permission{perm("report", "view")}},
		})
		if err != nil {
			t.Fatalf("NewRuleGraph failed: %v", err)
		}

		closure := graph.Closure([]Permission{perm("report", "delete")})
		contains(t, closure, perm("report", "delete"))
		contains(t, closure, perm("report", "update"))
		contains(t, closure, perm("report", "view"))
		if len(closure) != 3 {
			t.Errorf("Expected 3 permissions, got %v", closure)
		}
	})

	t.Run("wildcard instantiates against the trigger resource", func(t *testing.T) {
		graph, err := NewRuleGraph(StandardRules())
		if err != nil {
			t.Fatalf("NewRuleGraph failed: %v", err)
		}

		closure := graph.Closure([]Permission{perm("invoice", "manage")})
		contains(t, closure, perm("invoice", "create"))
		contains(t, closure, perm("invoice", "update"))
		contains(t, closure, perm("invoice", "delete"))
		contains(t, closure, perm("invoice", "view"))
		excludes(t, closure, perm("report", "view"))
		excludes(t, closure, Permission{Resource: WildcardResource, Action: ActionView})
	})

	t.Run("any variant implies instance action", func(t *testing.T) {
		graph, _ := NewRuleGraph(StandardRules())

		closure := graph.Closure([]Permission{perm("report", "update_any")})
		contains(t, closure, perm("report", "update"))
		contains(t, closure, perm("report", "view"))
		excludes(t, closure, perm("report", "delete"))
	})

	t.Run("cross resource rule", func(t *testing.T) {
		graph, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("order", "approve"), Implies: []Permission{perm("invoice", "view"), perm("customer", "view")}},
		})
		if err != nil {
			t.Fatalf("NewRuleGraph failed: %v", err)
		}

		closure := graph.Closure([]Permission{perm("order", "approve")})
		contains(t, closure, perm("invoice", "view"))
		contains(t, closure, perm("customer", "view"))
	})

	t.Run("all_of fires only when every member is held", func(t *testing.T) {
		graph, err := NewRuleGraph([]DependencyRule{
			{AllOf: []Permission{perm("report", "view"), perm("export", "create")}, Implies: []Permission{perm("report", "export")}},
		})
		if err != nil {
			t.Fatalf("NewRuleGraph failed: %v", err)
		}

		partial := graph.Closure([]Permission{perm("report", "view")})
		excludes(t, partial, perm("report", "export"))

		full := graph.Closure([]Permission{perm("report", "view"), perm("export", "create")})
		contains(t, full, perm("report", "export"))
	})

	t.Run("all_of satisfied through another rule", func(t *testing.T) {
		graph, err := NewRuleGraph([]DependencyRule{
			{Trigger: perm("report", "manage"), Implies: []Permission{perm("report", "view")}},
			{AllOf: []Permission{perm("report", "view"), perm("export", "create")}, Implies: []Permission{perm("report", "export")}},
		})
		if err != nil {
			t.Fatalf("NewRuleGraph failed: %v", err)
		}

		closure := graph.Closure([]Permission{perm("report", "manage"), perm("export", "create")})
		contains(t, closure, perm("report", "export"))
	})

	t.Run("empty input yields empty closure", func(t *testing.T) {
		graph, _ := NewRuleGraph(StandardRules())
		if closure := graph.Closure(nil); len(closure) != 0 {
			t.Errorf("Expected empty closure, got %v", closure)
		}
	})
}

func TestRuleGraph_Implies(t *testing.T) {
	graph, err := NewRuleGraph(StandardRules())
	if err != nil {
		t.Fatalf("NewRuleGraph failed: %v", err)
	}

	held := map[string]struct{}{
		perm("report", "manage").String(): {},
	}

	if !graph.Implies(held, perm("report", "manage")) {
		t.Error("Held permission should imply itself")
	}
	if !graph.Implies(held, perm("report", "view")) {
		t.Error("manage should imply view")
	}
	if graph.Implies(held, perm("invoice", "view")) {
		t.Error("manage on report should not reach invoice")
	}
	if graph.Implies(held, perm("report", "view_any")) {
		t.Error("manage should not imply view_any")
	}
}

func TestRuleGraph_PriorityOrder(t *testing.T) {
	graph, err := NewRuleGraph([]DependencyRule{
		{Trigger: perm("a", "x"), Implies: []Permission{perm("b", "x")}, Priority: 10},
		{Trigger: perm("c", "x"), Implies: []Permission{perm("d", "x")}, Priority: 100},
	})
	if err != nil {
		t.Fatalf("NewRuleGraph failed: %v", err)
	}

	rules := graph.Rules()
	if rules[0].Priority != 100 {
		t.Errorf("Expected highest priority first, got %d", rules[0].Priority)
	}
}

func TestParsePermissionString(t *testing.T) {
	tests := []struct {
		input   string
		want    Permission
		wantErr bool
	}{
		{"report:view", perm("report", "view"), false},
		{"*:manage", perm("*", "manage"), false},
		{"a:b:c", perm("a:b", "c"), false},
		{"noaction", Permission{}, true},
		{":view", Permission{}, true},
		{"report:", Permission{}, true},
		{"", Permission{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parsePermissionString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("Expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePermissionString(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parsePermissionString(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestActionHelpers(t *testing.T) {
	instanceScoped := map[Action]bool{
		ActionView: true, ActionUpdate: true, ActionDelete: true,
		ActionViewAny: false, ActionUpdateAny: false, ActionDeleteAny: false,
		ActionCreate: false, ActionManage: false,
	}
	for action, want := range instanceScoped {
		if got := action.IsInstanceScoped(); got != want {
			t.Errorf("%s.IsInstanceScoped() = %v, want %v", action, got, want)
		}
	}

	if got := anyVariant(ActionView); got != ActionViewAny {
		t.Errorf("anyVariant(view) = %s", got)
	}
	if got := anyVariant(ActionUpdate); got != ActionUpdateAny {
		t.Errorf("anyVariant(update) = %s", got)
	}
	if got := anyVariant(ActionDelete); got != ActionDeleteAny {
		t.Errorf("anyVariant(delete) = %s", got)
	}
	if got := anyVariant(ActionCreate); got != ActionCreate {
		t.Errorf("anyVariant(create) = %s, want create", got)
	}
}
