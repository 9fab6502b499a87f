package authz

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Header names the gateway sets after authenticating the caller. The
// engine trusts its deployment boundary; authentication is out of scope
// here.
const (
	HeaderUserID   = "X-Palisade-User"
	HeaderTenantID = "X-Palisade-Tenant"
)

type contextKey string

const decisionContextKey contextKey = "palisade.decision"

// DecisionFromContext returns the decision recorded by RequirePermission,
// for handlers that want the reason or latency.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey).(Decision)
	return d, ok
}

// RequirePermission guards a route behind a permission check. Identity
// comes from the gateway headers; the resource instance, when the route
// names one, comes from resourceID (nil for type-level routes).
func RequirePermission(resolver *Resolver, resource Resource, action Action, resourceID func(*http.Request) *string, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(HeaderUserID)
			tenantID := r.Header.Get(HeaderTenantID)
			if userID == "" || tenantID == "" {
				http.Error(w, "Missing identity headers", http.StatusUnauthorized)
				return
			}

			req := CheckRequest{
				UserID:   userID,
				TenantID: tenantID,
				Resource: resource,
				Action:   action,
			}
			if resourceID != nil {
				req.ResourceID = resourceID(r)
			}

			decision, err := resolver.Check(r.Context(), req)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if !decision.Granted {
				if log != nil {
					log.WithFields(logrus.Fields{
						"user_id":   userID,
						"tenant_id": tenantID,
						"resource":  string(resource),
						"action":    string(action),
						"reason":    string(decision.Reason),
					}).Debug("permission denied")
				}
				// Availability failures surface as 503 so callers can
				// distinguish retry-worthy denials.
				if decision.Failed() {
					http.Error(w, "Permission check unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), decisionContextKey, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
