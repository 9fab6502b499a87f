package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/palisade-io/palisade/pkg/api"
	"github.com/palisade-io/palisade/pkg/audit"
	"github.com/palisade-io/palisade/pkg/authz"
	"github.com/palisade-io/palisade/pkg/authz/rediscache"
	"github.com/palisade-io/palisade/pkg/config"
	"github.com/palisade-io/palisade/pkg/middleware"
	"github.com/palisade-io/palisade/pkg/observability"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting palisade")

	engineLog := logrus.New()
	engineLog.SetFormatter(&logrus.JSONFormatter{})

	ctx := context.Background()

	// OpenTelemetry
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		fatal(logger, err, "Failed to initialize OpenTelemetry")
	}

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		fatal(logger, err, "Failed to open database")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		fatal(logger, err, "Database not reachable")
	}

	if cfg.Database.RunMigrations {
		if err := authz.RunMigrations(ctx, db); err != nil {
			fatal(logger, err, "Migrations failed")
		}
		logger.Info("Migrations applied")
	}

	store := authz.NewSQLStore(db)

	// Dependency rules: file takes precedence, then the database, then the
	// shipped standard hierarchy.
	graph, source, err := loadRules(ctx, cfg, store)
	if err != nil {
		fatal(logger, err, "Failed to load dependency rules")
	}
	logger.WithFields(map[string]interface{}{
		"source": source,
		"rules":  graph.Len(),
	}).Info("Dependency rules loaded")

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	var observer authz.Observer
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		observer = metrics
	}

	// Shared decision cache
	var shared authz.SharedDecisionCache
	var redisCache *rediscache.Cache
	if cfg.Engine.RedisURL != "" {
		rcfg := rediscache.DefaultConfig(cfg.Engine.RedisURL)
		rcfg.Password = cfg.Engine.RedisPassword
		rcfg.DB = cfg.Engine.RedisDB
		rcfg.MaxRetries = cfg.Engine.RedisMaxRetries
		rcfg.PoolSize = cfg.Engine.RedisPoolSize
		rcfg.DecisionTTL = cfg.Engine.DecisionTTL

		redisCache, err = rediscache.New(rcfg, engineLog)
		if err != nil {
			fatal(logger, err, "Failed to connect to redis")
		}
		shared = redisCache
		logger.Info("Shared decision cache enabled")
	}

	// Audit pipeline
	emitter := buildEmitter(cfg, logger)

	resolver, err := authz.NewResolver(authz.ResolverConfig{
		Store: store,
		Cache: authz.NewCache(authz.CacheConfig{
			DecisionEntries:   cfg.Engine.DecisionCacheSize,
			PermissionEntries: cfg.Engine.PermissionSetSize,
			ClosureEntries:    cfg.Engine.RoleClosureSize,
			DecisionTTL:       cfg.Engine.DecisionTTL,
			PermissionTTL:     cfg.Engine.PermissionSetTTL,
			ClosureTTL:        cfg.Engine.RoleClosureTTL,
			SuperAdminTTL:     cfg.Engine.SuperAdminTTL,
		}),
		Rules:            graph,
		Emitter:          emitter,
		Shared:           shared,
		Observer:         observer,
		BatchConcurrency: cfg.Engine.BatchConcurrency,
	})
	if err != nil {
		fatal(logger, err, "Failed to build resolver")
	}
	store.SetInvalidationSink(resolver)

	// Hot reload of the ruleset file
	if cfg.Engine.RulesFile != "" && cfg.Engine.WatchRulesFile {
		watcher, err := authz.NewRulesWatcher(cfg.Engine.RulesFile, resolver, engineLog)
		if err != nil {
			fatal(logger, err, "Failed to watch ruleset file")
		}
		defer watcher.Close()
	}

	// API server
	server := api.NewServer(resolver, store, api.Options{
		Metrics:   metrics,
		RateLimit: buildRateLimit(ctx, cfg, redisCache, logger),
		Log:       engineLog,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      observability.RecoveryHandler(logger, http.TimeoutHandler(server, cfg.Engine.CheckTimeout+time.Second, "request timed out")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a dedicated port
	checker := observability.NewHealthChecker(version)
	checker.AddProbe("database", true, observability.DatabaseProbe(db))
	if redisClient := redisClientOrNil(redisCache); redisClient != nil {
		checker.AddProbe("redis", false, observability.RedisProbe(redisClient))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: observability.RecoveryHandler(logger, api.NewOpsHandler(checker, registry)),
	}
	go func() {
		defer observability.RecoverPanic(logger, "health server")
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		defer observability.RecoverPanic(logger, "api server")
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	// Graceful shutdown: steps run in reverse registration order, so the
	// database and redis close last, after everything that uses them.
	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.Register("database", func(ctx context.Context) error {
		return db.Close()
	})
	if redisCache != nil {
		sm.Register("redis", func(ctx context.Context) error {
			return redisCache.Close()
		})
	}
	sm.Register("audit emitter", func(ctx context.Context) error {
		return emitter.Close()
	})
	sm.Register("health server", func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if otelProviders != nil {
		sm.Register("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// fatal logs the error and exits; startup failures are not recoverable
func fatal(logger *observability.Logger, err error, msg string) {
	logger.WithError(err).Error(msg)
	os.Exit(1)
}

// redisClientOrNil unwraps the redis client for the health checker
func redisClientOrNil(c *rediscache.Cache) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client()
}

// loadRules resolves the ruleset to serve at startup
func loadRules(ctx context.Context, cfg *config.Config, store *authz.SQLStore) (*authz.RuleGraph, string, error) {
	if cfg.Engine.RulesFile != "" {
		graph, err := authz.LoadRulesFile(cfg.Engine.RulesFile)
		if err != nil {
			return nil, "", err
		}
		return graph, "file", nil
	}

	rules, err := store.GetDependencyRules(ctx)
	if err == nil && len(rules) > 0 {
		graph, err := authz.NewRuleGraph(rules)
		if err != nil {
			return nil, "", err
		}
		return graph, "database", nil
	}

	graph, err := authz.NewRuleGraph(authz.StandardRules())
	if err != nil {
		return nil, "", err
	}
	return graph, "standard", nil
}

// buildRateLimit picks the throttling backend: Redis when the shared
// cache is configured so limits hold across replicas, in-memory otherwise
func buildRateLimit(ctx context.Context, cfg *config.Config, redisCache *rediscache.Cache, logger *observability.Logger) mux.MiddlewareFunc {
	if !cfg.Server.RateLimitEnabled {
		return nil
	}

	limitCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.RateLimitPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.Server.RateLimitBurst,
	}

	if redisCache != nil {
		logger.Info("Distributed rate limiting enabled")
		return middleware.NewDistributedRateLimiter(redisCache.Client(), limitCfg, "").Handler
	}

	limiter := middleware.NewRateLimiter(limitCfg)
	limiter.StartCleanup(ctx)
	logger.Info("In-memory rate limiting enabled")
	return limiter.Handler
}

// buildEmitter assembles the audit pipeline from configuration
func buildEmitter(cfg *config.Config, logger *observability.Logger) audit.Emitter {
	if !cfg.Audit.Enabled {
		return audit.NopEmitter{}
	}

	sinks := []audit.Sink{audit.NewLogrusSink(os.Stdout)}
	if cfg.Audit.FilePath != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.FilePath)
		if err != nil {
			fatal(logger, err, "Failed to open audit log file")
		}
		sinks = append(sinks, fileSink)
	}

	var sink audit.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else {
		sink = audit.NewMultiSink(sinks...)
	}
	return audit.NewAsyncEmitter(sink, cfg.Audit.BufferSize)
}
