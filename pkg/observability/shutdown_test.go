package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func quietLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), nil, 0)
	if sm.timeout != 30*time.Second {
		t.Errorf("Expected 30s default timeout, got %s", sm.timeout)
	}

	sm = NewShutdownManager(quietLogger(), nil, 5*time.Second)
	if sm.timeout != 5*time.Second {
		t.Errorf("Expected configured timeout, got %s", sm.timeout)
	}
}

func TestShutdownManager_RunsStepsInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), nil, time.Second)

	var order []string
	for _, name := range []string{"database", "redis", "emitter"} {
		sm.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	want := []string{"emitter", "redis", "database"}
	if len(order) != len(want) {
		t.Fatalf("Expected %d steps, got %v", len(want), order)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("Step %d: expected %s, got %s", i, name, order[i])
		}
	}
}

func TestShutdownManager_StopsServer(t *testing.T) {
	var order []string

	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(quietLogger(), server, time.Second)
	sm.Register("database", func(ctx context.Context) error {
		order = append(order, "database")
		return nil
	})

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(order) != 1 || order[0] != "database" {
		t.Fatalf("Expected database step to run, got %v", order)
	}
	// Shutdown marks the server closed; it refuses to serve afterwards.
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		t.Errorf("Expected ErrServerClosed, got %v", err)
	}
}

func TestShutdownManager_FailingStepDoesNotStopOthers(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), nil, time.Second)

	var ran []string
	sm.Register("database", func(ctx context.Context) error {
		ran = append(ran, "database")
		return nil
	})
	sm.Register("redis", func(ctx context.Context) error {
		ran = append(ran, "redis")
		return errors.New("close failed")
	})

	err := sm.Shutdown(context.Background())
	if err == nil {
		t.Fatal("Expected joined error from the failing step")
	}
	if !strings.Contains(err.Error(), "redis") {
		t.Errorf("Expected error to name the failing step, got %v", err)
	}
	if len(ran) != 2 {
		t.Errorf("Every step must run despite the failure, ran %v", ran)
	}
}

func TestShutdownManager_PanickingStepIsContained(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), nil, time.Second)

	var ran []string
	sm.Register("database", func(ctx context.Context) error {
		ran = append(ran, "database")
		return nil
	})
	sm.Register("emitter", func(ctx context.Context) error {
		panic("sink gone")
	})

	err := sm.Shutdown(context.Background())
	if err == nil {
		t.Fatal("Expected the panic to surface as a step error")
	}
	if !strings.Contains(err.Error(), "panic") {
		t.Errorf("Expected panic in error, got %v", err)
	}
	if len(ran) != 1 || ran[0] != "database" {
		t.Errorf("Steps after the panicking one must still run, ran %v", ran)
	}
}

func TestShutdownManager_TimeoutSkipsRemainingSteps(t *testing.T) {
	sm := NewShutdownManager(quietLogger(), nil, time.Second)

	var skipped bool
	sm.Register("database", func(ctx context.Context) error {
		skipped = true
		return nil
	})
	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sm.Shutdown(ctx)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if skipped {
		t.Error("Steps after the deadline must be skipped, not run against a dead context")
	}
}
