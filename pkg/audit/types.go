package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events
type EventType string

const (
	EventTypePermissionCheck   EventType = "permission_check"
	EventTypeCacheInvalidation EventType = "cache_invalidation"
	EventTypeRulesetReload     EventType = "ruleset_reload"
)

// DecisionEvent records one permission check outcome. The engine emits one
// per decision; downstream security monitoring consumes them.
type DecisionEvent struct {
	ID         string    `json:"id"`
	EventType  EventType `json:"event_type"`
	UserID     string    `json:"user_id"`
	TenantID   string    `json:"tenant_id"`
	EntityID   *string   `json:"entity_id,omitempty"`
	Resource   string    `json:"resource_type"`
	Action     string    `json:"action"`
	ResourceID *string   `json:"resource_id,omitempty"`
	Granted    bool      `json:"granted"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
	LatencyMs  float64   `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
}

// InvalidationEvent records a cache invalidation
type InvalidationEvent struct {
	ID        string    `json:"id"`
	EventType EventType `json:"event_type"`
	Scope     string    `json:"scope"` // "user", "role" or "all"
	UserID    string    `json:"user_id,omitempty"`
	RoleID    int64     `json:"role_id,omitempty"`
	Holders   int       `json:"holders,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDecisionEvent stamps identity and timestamp onto a decision event
func NewDecisionEvent() DecisionEvent {
	return DecisionEvent{
		ID:        uuid.NewString(),
		EventType: EventTypePermissionCheck,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidationEvent stamps identity and timestamp onto an invalidation event
func NewInvalidationEvent(scope string) InvalidationEvent {
	return InvalidationEvent{
		ID:        uuid.NewString(),
		EventType: EventTypeCacheInvalidation,
		Scope:     scope,
		Timestamp: time.Now().UTC(),
	}
}
