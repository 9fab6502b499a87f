package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecoveryHandler(t *testing.T) {
	t.Run("passes healthy requests through", func(t *testing.T) {
		handler := RecoveryHandler(quietLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authz/check", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("Expected 204, got %d", rec.Code)
		}
	})

	t.Run("panicking handler answers 500 and logs the stack", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(ErrorLevel, &buf)
		handler := RecoveryHandler(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("nil resolver")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/authz/check", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("Expected 500, got %d", rec.Code)
		}
		out := buf.String()
		if !strings.Contains(out, "nil resolver") {
			t.Error("Expected the panic value in the log output")
		}
		if !strings.Contains(out, "stack") {
			t.Error("Expected a stack trace in the log output")
		}
	})
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	func() {
		defer RecoverPanic(logger, "rules reload")
		panic("bad ruleset")
	}()

	out := buf.String()
	if !strings.Contains(out, "bad ruleset") {
		t.Error("Expected the panic value in the log output")
	}
	if !strings.Contains(out, "rules reload") {
		t.Error("Expected the scope in the log output")
	}
}
