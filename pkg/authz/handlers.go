package authz

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Handlers provides the HTTP surface for permission checks and the
// administrative role and assignment operations.
type Handlers struct {
	resolver *Resolver
	store    *SQLStore
}

// NewHandlers creates engine handlers
func NewHandlers(resolver *Resolver, store *SQLStore) *Handlers {
	return &Handlers{resolver: resolver, store: store}
}

// RegisterRoutes registers all engine routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Permission resolution
	router.HandleFunc("/authz/check", h.Check).Methods("POST")
	router.HandleFunc("/authz/check/batch", h.CheckBatch).Methods("POST")
	router.HandleFunc("/authz/users/{id}/permissions", h.EffectivePermissions).Methods("GET")

	// Role management
	router.HandleFunc("/authz/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/authz/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/authz/roles/{id}/permissions", h.SetRolePermissions).Methods("PUT")

	// Assignments
	router.HandleFunc("/authz/assignments", h.AssignRole).Methods("POST")
	router.HandleFunc("/authz/assignments/{id}", h.RevokeRole).Methods("DELETE")

	// Super-admin management
	router.HandleFunc("/authz/superadmins/{id}", h.GrantSuperAdmin).Methods("PUT")
	router.HandleFunc("/authz/superadmins/{id}", h.RevokeSuperAdmin).Methods("DELETE")

	// Resource entity registration
	router.HandleFunc("/authz/resources/{type}/{id}/entity", h.SetResourceEntity).Methods("PUT")

	// Cache introspection
	router.HandleFunc("/authz/cache/stats", h.CacheStats).Methods("GET")
	router.HandleFunc("/authz/rules", h.ListRules).Methods("GET")
}

type checkPayload struct {
	UserID     string  `json:"user_id"`
	TenantID   string  `json:"tenant_id"`
	Resource   string  `json:"resource_type"`
	Action     string  `json:"action"`
	ResourceID *string `json:"resource_id,omitempty"`
}

func (p checkPayload) toRequest() CheckRequest {
	return CheckRequest{
		UserID:     p.UserID,
		TenantID:   p.TenantID,
		Resource:   Resource(p.Resource),
		Action:     Action(p.Action),
		ResourceID: p.ResourceID,
	}
}

// Check resolves a single permission check
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload checkPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	decision, err := h.resolver.Check(ctx, payload.toRequest())
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// CheckBatch resolves several checks in one round trip
func (h *Handlers) CheckBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		Checks []checkPayload `json:"checks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(payload.Checks) == 0 {
		http.Error(w, "checks must not be empty", http.StatusBadRequest)
		return
	}

	reqs := make([]CheckRequest, len(payload.Checks))
	for i, c := range payload.Checks {
		reqs[i] = c.toRequest()
	}

	decisions, err := h.resolver.CheckBatch(ctx, reqs)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

// EffectivePermissions returns a user's expanded permission set in a tenant
func (h *Handlers) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := mux.Vars(r)["id"]

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	var entityID *string
	if e := r.URL.Query().Get("entity_id"); e != "" {
		entityID = &e
	}

	perms, err := h.resolver.EffectivePermissions(ctx, userID, tenantID, entityID)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"tenant_id":   tenantID,
		"permissions": out,
	})
}

// CreateRole creates a role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	role := &Role{Name: req.Name, Description: req.Description}
	if err := h.store.CreateRole(ctx, role); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, role)
}

// GetRole retrieves a role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid role ID", http.StatusBadRequest)
		return
	}

	role, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, role)
}

// SetRolePermissions replaces a role's direct permission grants. The
// engine's caches for every holder of the role are invalidated before the
// response is written, so a subsequent check observes the new grants.
func (h *Handlers) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	roleID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid role ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	perms := make([]Permission, len(req.Permissions))
	for i, s := range req.Permissions {
		p, err := parsePermissionString(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		perms[i] = p
	}

	if err := h.store.SetRolePermissions(ctx, roleID, perms); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AssignRole grants a role to a user, tenant-wide or entity-scoped
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID    string     `json:"user_id"`
		RoleID    int64      `json:"role_id"`
		TenantID  string     `json:"tenant_id"`
		EntityID  *string    `json:"entity_id,omitempty"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.RoleID == 0 {
		http.Error(w, "user_id, tenant_id and role_id are required", http.StatusBadRequest)
		return
	}

	a := &UserRoleAssignment{
		UserID:    req.UserID,
		RoleID:    req.RoleID,
		TenantID:  req.TenantID,
		EntityID:  req.EntityID,
		ExpiresAt: req.ExpiresAt,
	}
	if err := h.store.AssignRole(ctx, a); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// RevokeRole removes an assignment
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assignmentID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid assignment ID", http.StatusBadRequest)
		return
	}

	if err := h.store.RevokeRole(ctx, assignmentID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GrantSuperAdmin marks a user as a platform operator
func (h *Handlers) GrantSuperAdmin(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetSuperAdmin(r.Context(), mux.Vars(r)["id"], true); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeSuperAdmin removes super-admin standing
func (h *Handlers) RevokeSuperAdmin(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetSuperAdmin(r.Context(), mux.Vars(r)["id"], false); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetResourceEntity registers which entity owns a resource instance
func (h *Handlers) SetResourceEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityID == "" {
		http.Error(w, "entity_id is required", http.StatusBadRequest)
		return
	}

	if err := h.store.SetResourceEntity(ctx, Resource(vars["type"]), vars["id"], req.EntityID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CacheStats reports per-layer hit and miss counters
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.resolver.cache.Stats())
}

// ListRules returns the active dependency ruleset
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	graph := h.resolver.RuleGraph()

	type ruleView struct {
		Trigger  string   `json:"trigger,omitempty"`
		AllOf    []string `json:"all_of,omitempty"`
		Implies  []string `json:"implies"`
		Priority int      `json:"priority"`
	}

	rules := graph.Rules()
	out := make([]ruleView, len(rules))
	for i, rule := range rules {
		v := ruleView{Priority: rule.Priority}
		if len(rule.AllOf) > 0 {
			for _, p := range rule.AllOf {
				v.AllOf = append(v.AllOf, p.String())
			}
		} else {
			v.Trigger = rule.Trigger.String()
		}
		for _, p := range rule.Implies {
			v.Implies = append(v.Implies, p.String())
		}
		out[i] = v
	}

	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
