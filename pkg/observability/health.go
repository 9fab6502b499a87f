package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrDegraded marks a probe failure that impairs the dependency without
// making it unusable. Probes wrap it to report degraded instead of
// unhealthy regardless of whether the dependency is required.
var ErrDegraded = errors.New("degraded")

// ProbeFunc checks one dependency. A nil return means healthy.
type ProbeFunc func(ctx context.Context) error

type probe struct {
	name     string
	required bool
	fn       ProbeFunc
}

// HealthChecker aggregates dependency probes into the engine's liveness
// and readiness endpoints. A failing required probe makes the engine
// unhealthy; a failing optional probe only degrades it, matching how
// the resolver treats its dependencies: no store means no decisions,
// no shared cache just means slower ones.
type HealthChecker struct {
	version string

	mu     sync.Mutex
	probes []probe
}

// NewHealthChecker creates a checker with no probes registered
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version}
}

// AddProbe registers a dependency probe
func (h *HealthChecker) AddProbe(name string, required bool, fn ProbeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, required: required, fn: fn})
}

// HealthStatus is the readiness payload
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus reports one probe's outcome
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Liveness answers 200 whenever the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness runs every probe; 503 only when unhealthy, degraded still
// serves traffic
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs all registered probes and aggregates their outcomes
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.Lock()
	probes := make([]probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}

	for _, p := range probes {
		start := time.Now()
		err := p.fn(ctx)
		dep := DependencyStatus{
			Status:    StatusHealthy,
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			dep.Message = err.Error()
			if errors.Is(err, ErrDegraded) || !p.required {
				dep.Status = StatusDegraded
			} else {
				dep.Status = StatusUnhealthy
			}
		}
		status.Dependencies[p.name] = dep

		switch dep.Status {
		case StatusUnhealthy:
			status.Status = StatusUnhealthy
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		}
	}
	return status
}

// DatabaseProbe checks the assignment store: connectivity, a round-trip
// query, and pool headroom. Pool exhaustion degrades rather than fails;
// checks still resolve, just queued behind the pool.
func DatabaseProbe(db *sql.DB) ProbeFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
			return fmt.Errorf("%w: connection pool exhausted", ErrDegraded)
		}
		return nil
	}
}

// RedisProbe checks the shared decision cache backend
func RedisProbe(client *redis.Client) ProbeFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// RegisterHealthRoutes mounts the probe endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
