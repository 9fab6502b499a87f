package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/palisade-io/palisade/pkg/authz"
	"github.com/palisade-io/palisade/pkg/observability"
)

// Server is the HTTP front end for the permission engine. It mounts the
// check and administrative routes on a gorilla router behind the shared
// middleware chain.
type Server struct {
	router   *mux.Router
	resolver *authz.Resolver
	store    *authz.SQLStore
	log      *logrus.Logger
}

// Options configures optional server behavior. Every field may be nil.
type Options struct {
	// Metrics instruments every request when set
	Metrics *observability.Metrics

	// RateLimit wraps the API routes when set
	RateLimit mux.MiddlewareFunc

	Log *logrus.Logger
}

// NewServer creates the API server and registers all routes
func NewServer(resolver *authz.Resolver, store *authz.SQLStore, opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logrus.New()
	}

	s := &Server{
		router:   mux.NewRouter(),
		resolver: resolver,
		store:    store,
		log:      opts.Log,
	}

	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	if opts.RateLimit != nil {
		s.router.Use(opts.RateLimit)
	}
	s.router.Use(s.logRequests)

	authz.NewHandlers(resolver, store).RegisterRoutes(s.router)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so hosts can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// logRequests logs one line per request at debug level. Decision outcomes
// are logged by the audit emitter, not here.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": float64(time.Since(start)) / float64(time.Millisecond),
		}).Debug("request handled")
	})
}

// NewOpsHandler builds the handler served on the health port: liveness,
// readiness and the prometheus scrape endpoint.
func NewOpsHandler(checker *observability.HealthChecker, registry *prometheus.Registry) http.Handler {
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, checker)
	if registry != nil {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	return opsMux
}
