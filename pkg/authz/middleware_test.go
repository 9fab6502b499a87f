package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequirePermission(t *testing.T) {
	resolver, store := newTestResolver(t)

	role := mustCreateRole(t, store, "viewer", perm("report", "view_any"))
	mustAssign(t, store, "u1", role.ID, "acme", nil)

	var sawDecision bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawDecision = DecisionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	guard := RequirePermission(resolver, "report", ActionViewAny, nil, quietLogger())
	handler := guard(next)

	t.Run("granted request passes through", func(t *testing.T) {
		sawDecision = false
		req := httptest.NewRequest("GET", "/reports", nil)
		req.Header.Set(HeaderUserID, "u1")
		req.Header.Set(HeaderTenantID, "acme")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
		if !sawDecision {
			t.Error("Expected decision in request context")
		}
	})

	t.Run("missing headers yield 401", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/reports", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", w.Code)
		}
	})

	t.Run("denied request yields 403", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/reports", nil)
		req.Header.Set(HeaderUserID, "stranger")
		req.Header.Set(HeaderTenantID, "acme")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", w.Code)
		}
	})

	t.Run("instance routes pass the resource ID", func(t *testing.T) {
		if err := store.SetResourceEntity(context.Background(), "report", "fin-1", "finance"); err != nil {
			t.Fatalf("SetResourceEntity failed: %v", err)
		}
		scoped := mustCreateRole(t, store, "analyst", perm("report", "view"))
		mustAssign(t, store, "u2", scoped.ID, "acme", strPtr("finance"))

		idFromQuery := func(r *http.Request) *string {
			id := r.URL.Query().Get("id")
			if id == "" {
				return nil
			}
			return &id
		}
		instanceGuard := RequirePermission(resolver, "report", ActionView, idFromQuery, quietLogger())
		h := instanceGuard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/reports?id=fin-1", nil)
		req.Header.Set(HeaderUserID, "u2")
		req.Header.Set(HeaderTenantID, "acme")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200 for in-entity resource, got %d", w.Code)
		}

		// Without an instance the plain view grant is not enough.
		req = httptest.NewRequest("GET", "/reports", nil)
		req.Header.Set(HeaderUserID, "u2")
		req.Header.Set(HeaderTenantID, "acme")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("Expected 403 without a target, got %d", w.Code)
		}
	})

	t.Run("store outage yields 503", func(t *testing.T) {
		graph, _ := NewRuleGraph(StandardRules())
		broken, err := NewResolver(ResolverConfig{
			Store: &failingStore{err: ErrStoreUnavailable},
			Rules: graph,
		})
		if err != nil {
			t.Fatalf("NewResolver failed: %v", err)
		}

		h := RequirePermission(broken, "report", ActionViewAny, nil, quietLogger())(next)
		req := httptest.NewRequest("GET", "/reports", nil)
		req.Header.Set(HeaderUserID, "u1")
		req.Header.Set(HeaderTenantID, "acme")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", w.Code)
		}
	})
}
