package authz

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheConfig tunes the in-process cache layers. TTLs are a safety net
// against missed invalidations, not the primary correctness mechanism;
// write-triggered invalidation is.
type CacheConfig struct {
	DecisionEntries   int
	PermissionEntries int
	ClosureEntries    int

	DecisionTTL   time.Duration
	PermissionTTL time.Duration
	ClosureTTL    time.Duration

	// SuperAdminTTL is deliberately longer: superadmin status changes
	// rarely and has its own invalidation path.
	SuperAdminTTL time.Duration
}

// DefaultCacheConfig returns production defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DecisionEntries:   16384,
		PermissionEntries: 8192,
		ClosureEntries:    2048,
		DecisionTTL:       30 * time.Second,
		PermissionTTL:     30 * time.Second,
		ClosureTTL:        5 * time.Minute,
		SuperAdminTTL:     10 * time.Minute,
	}
}

// permissionSet is the cached layer-2 value: a user's expanded permission
// set within one tenant/entity scope, plus the assignments that produced
// it (the resource boundary check needs them).
type permissionSet struct {
	// Direct holds permissions granted by RolePermission edges alone;
	// Expanded additionally contains the dependency closure.
	Direct      map[string]struct{}
	Expanded    map[string]struct{}
	Assignments []UserRoleAssignment
	ComputedAt  time.Time
}

// Cache is the three-layer permission cache:
//
//	layer 1: per-check decisions, keyed by the full check tuple
//	layer 2: per-user effective permission sets, keyed by user/tenant/entity
//	layer 3: per-role dependency closures, keyed by role ID
//
// plus a separately long-lived superadmin flag cache. Secondary indexes
// map user IDs to their live keys so invalidation is an index lookup, not
// a scan. All methods are safe for concurrent use.
type Cache struct {
	decisions   *lru.LRU[string, Decision]
	permissions *lru.LRU[string, *permissionSet]
	closures    *lru.LRU[int64, []Permission]
	superadmins *lru.LRU[string, bool]

	mu       sync.Mutex
	userKeys map[string]map[string]struct{} // userID -> decision+permission keys
	userGens map[string]uint64
	roleGens map[int64]uint64
	epoch    uint64

	hits   [4]atomic.Uint64
	misses [4]atomic.Uint64
}

// Cache layer indexes for stats
const (
	layerDecision = iota
	layerPermission
	layerClosure
	layerSuperAdmin
)

// NewCache builds the cache layers
func NewCache(cfg CacheConfig) *Cache {
	c := &Cache{
		userKeys: make(map[string]map[string]struct{}),
		userGens: make(map[string]uint64),
		roleGens: make(map[int64]uint64),
	}
	c.decisions = lru.NewLRU[string, Decision](cfg.DecisionEntries, c.onKeyEvict, cfg.DecisionTTL)
	c.permissions = lru.NewLRU[string, *permissionSet](cfg.PermissionEntries, c.onPermEvict, cfg.PermissionTTL)
	c.closures = lru.NewLRU[int64, []Permission](cfg.ClosureEntries, nil, cfg.ClosureTTL)
	c.superadmins = lru.NewLRU[string, bool](cfg.PermissionEntries, nil, cfg.SuperAdminTTL)
	return c
}

// DecisionKey builds the layer-1 key for a check tuple. The resource ID
// stands in for the entity component: it determines the owning entity, so
// keying on it keeps the key derivable before any store lookup.
func DecisionKey(req CheckRequest) string {
	rid := ""
	if req.ResourceID != nil {
		rid = *req.ResourceID
	}
	return req.UserID + "|" + req.TenantID + "|" + string(req.Resource) + "|" + string(req.Action) + "|" + rid
}

// permissionKey builds the layer-2 key
func permissionKey(userID, tenantID string, entityID *string) string {
	eid := ""
	if entityID != nil {
		eid = *entityID
	}
	return userID + "|" + tenantID + "|" + eid
}

// Generation returns the user's invalidation generation. A caller that
// captures it before reading the store and passes it back to the Put
// methods cannot re-cache state from before an invalidation that landed
// while it was resolving.
func (c *Cache) Generation(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.userGens[userID]
}

// RoleGeneration is the per-role counterpart of Generation, guarding the
// closure layer against InvalidateRole.
func (c *Cache) RoleGeneration(roleID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.roleGens[roleID]
}

// GetDecision looks up a cached decision
func (c *Cache) GetDecision(key string) (Decision, bool) {
	d, ok := c.decisions.Get(key)
	c.record(layerDecision, ok)
	return d, ok
}

// PutDecision caches a decision and indexes it under its user. The write
// is dropped if the user was invalidated after gen was captured; the
// trailing re-check covers an invalidation that ran between the guard
// and the store into the LRU.
func (c *Cache) PutDecision(userID, key string, gen uint64, d Decision) {
	if c.Generation(userID) != gen {
		return
	}
	c.indexKey(userID, "d:"+key)
	c.decisions.Add(key, d)
	if c.Generation(userID) != gen {
		c.decisions.Remove(key)
	}
}

// GetUserPermissions looks up a cached effective permission set
func (c *Cache) GetUserPermissions(userID, tenantID string, entityID *string) (*permissionSet, bool) {
	ps, ok := c.permissions.Get(permissionKey(userID, tenantID, entityID))
	c.record(layerPermission, ok)
	return ps, ok
}

// PutUserPermissions caches an effective permission set, subject to the
// same generation guard as PutDecision
func (c *Cache) PutUserPermissions(userID, tenantID string, entityID *string, gen uint64, ps *permissionSet) {
	if c.Generation(userID) != gen {
		return
	}
	key := permissionKey(userID, tenantID, entityID)
	c.indexKey(userID, "p:"+key)
	c.permissions.Add(key, ps)
	if c.Generation(userID) != gen {
		c.permissions.Remove(key)
	}
}

// GetRoleClosure looks up a cached per-role dependency closure
func (c *Cache) GetRoleClosure(roleID int64) ([]Permission, bool) {
	perms, ok := c.closures.Get(roleID)
	c.record(layerClosure, ok)
	return perms, ok
}

// PutRoleClosure caches a role's dependency closure, dropped if the role
// was invalidated after gen was captured
func (c *Cache) PutRoleClosure(roleID int64, gen uint64, perms []Permission) {
	if c.RoleGeneration(roleID) != gen {
		return
	}
	c.closures.Add(roleID, perms)
	if c.RoleGeneration(roleID) != gen {
		c.closures.Remove(roleID)
	}
}

// GetSuperAdmin looks up the cached superadmin flag
func (c *Cache) GetSuperAdmin(userID string) (bool, bool) {
	v, ok := c.superadmins.Get(userID)
	c.record(layerSuperAdmin, ok)
	return v, ok
}

// PutSuperAdmin caches the superadmin flag under the generation guard;
// the long TTL makes a stale re-cache here especially costly
func (c *Cache) PutSuperAdmin(userID string, gen uint64, isSuperAdmin bool) {
	if c.Generation(userID) != gen {
		return
	}
	c.superadmins.Add(userID, isSuperAdmin)
	if c.Generation(userID) != gen {
		c.superadmins.Remove(userID)
	}
}

// InvalidateUser drops every layer-1 and layer-2 entry for a user, plus
// the superadmin flag. Called synchronously from assignment writes. The
// generation bump fences off in-flight checks that read the store before
// this write: their Put calls carry the old generation and are dropped.
func (c *Cache) InvalidateUser(userID string) {
	c.mu.Lock()
	c.userGens[userID]++
	keys := c.userKeys[userID]
	delete(c.userKeys, userID)
	c.mu.Unlock()

	for key := range keys {
		switch key[0] {
		case 'd':
			c.decisions.Remove(key[2:])
		case 'p':
			c.permissions.Remove(key[2:])
		}
	}
	c.superadmins.Remove(userID)
}

// InvalidateRole drops the role's closure and cascades to the decision and
// permission layers for every holder. The cascade arrives as one batched
// call per role mutation, not a per-user fan-out of store writes.
func (c *Cache) InvalidateRole(roleID int64, holders []string) {
	c.mu.Lock()
	c.roleGens[roleID]++
	c.mu.Unlock()
	c.closures.Remove(roleID)
	for _, userID := range holders {
		c.InvalidateUser(userID)
	}
}

// InvalidateAll clears every layer, used when the rule graph is replaced
func (c *Cache) InvalidateAll() {
	c.decisions.Purge()
	c.permissions.Purge()
	c.closures.Purge()
	c.superadmins.Purge()
	c.mu.Lock()
	c.userKeys = make(map[string]map[string]struct{})
	c.epoch++
	c.mu.Unlock()
}

// Stats reports hit/miss counts per layer
func (c *Cache) Stats() map[string]uint64 {
	names := [4]string{"decision", "permission_set", "role_closure", "superadmin"}
	out := make(map[string]uint64, 8)
	for i, name := range names {
		out[name+"_hits"] = c.hits[i].Load()
		out[name+"_misses"] = c.misses[i].Load()
	}
	return out
}

// HitRate returns the decision-layer hit rate as a formatted percentage
func (c *Cache) HitRate() string {
	hits := c.hits[layerDecision].Load()
	total := hits + c.misses[layerDecision].Load()
	if total == 0 {
		return "0%"
	}
	return strconv.FormatFloat(float64(hits)/float64(total)*100, 'f', 1, 64) + "%"
}

func (c *Cache) record(layer int, hit bool) {
	if hit {
		c.hits[layer].Add(1)
	} else {
		c.misses[layer].Add(1)
	}
}

// indexKey records a cache key under its owning user
func (c *Cache) indexKey(userID, taggedKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.userKeys[userID]
	if !ok {
		keys = make(map[string]struct{})
		c.userKeys[userID] = keys
	}
	keys[taggedKey] = struct{}{}
}

// onKeyEvict keeps the user index from accumulating dead decision keys
func (c *Cache) onKeyEvict(key string, _ Decision) {
	c.dropIndexedKey("d:" + key)
}

func (c *Cache) onPermEvict(key string, _ *permissionSet) {
	c.dropIndexedKey("p:" + key)
}

func (c *Cache) dropIndexedKey(taggedKey string) {
	// The user ID is the first segment of every key.
	var userID string
	for i := 2; i < len(taggedKey); i++ {
		if taggedKey[i] == '|' {
			userID = taggedKey[2:i]
			break
		}
	}
	if userID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if keys, ok := c.userKeys[userID]; ok {
		delete(keys, taggedKey)
		if len(keys) == 0 {
			delete(c.userKeys, userID)
		}
	}
}
