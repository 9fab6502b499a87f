package observability

import (
	"net/http"
	"runtime/debug"
)

// RecoveryHandler wraps an HTTP handler so a panicking request logs the
// panic with its stack and answers 500 instead of killing the process.
// A permission check that panics must still fail closed for its caller.
func RecoveryHandler(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.WithFields(map[string]interface{}{
					"panic":  rec,
					"stack":  string(debug.Stack()),
					"method": r.Method,
					"path":   r.URL.Path,
				}).Error("panic recovered in request handler")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RecoverPanic logs a recovered panic with its stack. Deferred around
// code that must not take the process down, like individual shutdown
// steps.
func RecoverPanic(logger *Logger, scope string) {
	if rec := recover(); rec != nil {
		logger.WithFields(map[string]interface{}{
			"panic": rec,
			"stack": string(debug.Stack()),
			"scope": scope,
		}).Error("panic recovered")
	}
}
