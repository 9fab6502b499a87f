package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func healthyProbe(ctx context.Context) error   { return nil }
func unhealthyProbe(ctx context.Context) error { return errors.New("unreachable") }
func degradedProbe(ctx context.Context) error {
	return fmt.Errorf("%w: pool exhausted", ErrDegraded)
}

func TestHealthChecker_Check_Aggregation(t *testing.T) {
	t.Run("no probes is healthy", func(t *testing.T) {
		status := NewHealthChecker("test").Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s", status.Status)
		}
		if status.Version != "test" {
			t.Errorf("Expected version stamped, got %q", status.Version)
		}
	})

	t.Run("required probe failure is unhealthy", func(t *testing.T) {
		checker := NewHealthChecker("test")
		checker.AddProbe("database", true, unhealthyProbe)
		checker.AddProbe("redis", false, healthyProbe)

		status := checker.Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
		if status.Dependencies["database"].Status != StatusUnhealthy {
			t.Errorf("Expected database unhealthy, got %+v", status.Dependencies["database"])
		}
		if status.Dependencies["database"].Message == "" {
			t.Error("Expected failure message on the dependency")
		}
		if status.Dependencies["redis"].Status != StatusHealthy {
			t.Errorf("Expected redis healthy, got %+v", status.Dependencies["redis"])
		}
	})

	t.Run("optional probe failure only degrades", func(t *testing.T) {
		checker := NewHealthChecker("test")
		checker.AddProbe("database", true, healthyProbe)
		checker.AddProbe("redis", false, unhealthyProbe)

		status := checker.Check(context.Background())
		if status.Status != StatusDegraded {
			t.Errorf("Expected degraded with optional failure, got %s", status.Status)
		}
	})

	t.Run("degraded error keeps required probe degraded", func(t *testing.T) {
		checker := NewHealthChecker("test")
		checker.AddProbe("database", true, degradedProbe)

		status := checker.Check(context.Background())
		if status.Status != StatusDegraded {
			t.Errorf("Expected degraded, got %s", status.Status)
		}
	})

	t.Run("unhealthy wins over degraded", func(t *testing.T) {
		checker := NewHealthChecker("test")
		checker.AddProbe("database", true, unhealthyProbe)
		checker.AddProbe("redis", false, degradedProbe)

		if status := checker.Check(context.Background()); status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
	})
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker("test")
	checker.AddProbe("database", true, unhealthyProbe)

	// Liveness ignores dependency state; the process is serving.
	rec := httptest.NewRecorder()
	checker.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["status"] != StatusHealthy {
		t.Errorf("Expected healthy liveness, got %v", body["status"])
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("healthy answers 200", func(t *testing.T) {
		checker := NewHealthChecker("test")
		checker.AddProbe("database", true, healthyProbe)

		rec := httptest.NewRecorder()
		checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("degraded still answers 200", func(t *testing.T) {
		checker := NewHealthChecker("test")
		checker.AddProbe("redis", false, unhealthyProbe)

		rec := httptest.NewRecorder()
		checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 for degraded, got %d", rec.Code)
		}
	})

	t.Run("unhealthy answers 503", func(t *testing.T) {
		checker := NewHealthChecker("test")
		checker.AddProbe("database", true, unhealthyProbe)

		rec := httptest.NewRecorder()
		checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", rec.Code)
		}
		var status HealthStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy body, got %s", status.Status)
		}
	})
}

func TestDatabaseProbe(t *testing.T) {
	t.Run("healthy database", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock.New failed: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		if err := DatabaseProbe(db)(context.Background()); err != nil {
			t.Errorf("Expected healthy probe, got %v", err)
		}
	})

	t.Run("ping failure", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock.New failed: %v", err)
		}
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		if err := DatabaseProbe(db)(context.Background()); err == nil {
			t.Error("Expected probe failure on ping error")
		}
	})

	t.Run("query failure", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock.New failed: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("query timeout"))

		if err := DatabaseProbe(db)(context.Background()); err == nil {
			t.Error("Expected probe failure on query error")
		}
	})
}

func TestRedisProbe(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := RedisProbe(client)(context.Background()); err != nil {
		t.Errorf("Expected healthy probe, got %v", err)
	}

	mr.Close()
	if err := RedisProbe(client)(context.Background()); err == nil {
		t.Error("Expected probe failure with the backend down")
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	checker := NewHealthChecker("test")
	checker.AddProbe("database", true, healthyProbe)

	serveMux := http.NewServeMux()
	RegisterHealthRoutes(serveMux, checker)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		serveMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 on %s, got %d", path, rec.Code)
		}
	}
}
