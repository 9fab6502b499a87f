package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/palisade-io/palisade/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Engine configuration
	Engine EngineConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Per-caller request throttling on the API routes
	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitBurst     int
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration

	// RunMigrations applies schema migrations at startup
	RunMigrations bool
}

// EngineConfig holds the resolver and cache settings
type EngineConfig struct {
	// RulesFile is an optional YAML ruleset path. Empty means rules are
	// loaded from the database; non-empty enables hot reload.
	RulesFile      string
	WatchRulesFile bool

	// Cache sizing and TTLs
	DecisionCacheSize int
	DecisionTTL       time.Duration
	PermissionSetSize int
	PermissionSetTTL  time.Duration
	RoleClosureSize   int
	RoleClosureTTL    time.Duration
	SuperAdminTTL     time.Duration
	CheckTimeout      time.Duration
	BatchConcurrency  int

	// Redis shared decision cache; empty URL disables it
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// AuditConfig holds audit emission settings
type AuditConfig struct {
	Enabled    bool
	BufferSize int

	// FilePath appends JSON-lines audit events to a file when set
	FilePath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool    // Use insecure gRPC connection
	OTelSampleRatio    float64 // Fraction of traces to sample, 0.0-1.0
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Engine:        loadEngineConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PALISADE_HOST", "0.0.0.0"),
		Port:            getEnv("PALISADE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PALISADE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PALISADE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PALISADE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PALISADE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PALISADE_HEALTH_PORT", "9090"),

		RateLimitEnabled:   getEnvBool("PALISADE_RATE_LIMIT_ENABLED", false),
		RateLimitPerMinute: getEnvInt("PALISADE_RATE_LIMIT_PER_MINUTE", 300),
		RateLimitBurst:     getEnvInt("PALISADE_RATE_LIMIT_BURST", 50),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:           getEnv("PALISADE_POSTGRES_URL", ""),
		MaxOpenConns:  getEnvInt("PALISADE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:  getEnvInt("PALISADE_POSTGRES_IDLE_CONNS", 5),
		ConnLifetime:  getEnvDuration("PALISADE_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		RunMigrations: getEnvBool("PALISADE_RUN_MIGRATIONS", true),
	}
}

// loadEngineConfig loads resolver and cache configuration from environment
func loadEngineConfig() EngineConfig {
	return EngineConfig{
		RulesFile:      getEnv("PALISADE_RULES_FILE", ""),
		WatchRulesFile: getEnvBool("PALISADE_RULES_WATCH", true),

		DecisionCacheSize: getEnvInt("PALISADE_DECISION_CACHE_SIZE", 16384),
		DecisionTTL:       getEnvDuration("PALISADE_DECISION_TTL", 30*time.Second),
		PermissionSetSize: getEnvInt("PALISADE_PERMISSION_SET_CACHE_SIZE", 8192),
		PermissionSetTTL:  getEnvDuration("PALISADE_PERMISSION_SET_TTL", 30*time.Second),
		RoleClosureSize:   getEnvInt("PALISADE_ROLE_CLOSURE_CACHE_SIZE", 2048),
		RoleClosureTTL:    getEnvDuration("PALISADE_ROLE_CLOSURE_TTL", 5*time.Minute),
		SuperAdminTTL:     getEnvDuration("PALISADE_SUPERADMIN_TTL", 10*time.Minute),
		CheckTimeout:      getEnvDuration("PALISADE_CHECK_TIMEOUT", 2*time.Second),
		BatchConcurrency:  getEnvInt("PALISADE_BATCH_CONCURRENCY", 8),

		RedisURL:        getEnv("PALISADE_REDIS_URL", ""),
		RedisPassword:   getEnv("PALISADE_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("PALISADE_REDIS_DB", -1),
		RedisMaxRetries: getEnvInt("PALISADE_REDIS_MAX_RETRIES", 0),
		RedisPoolSize:   getEnvInt("PALISADE_REDIS_POOL_SIZE", 0),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:    getEnvBool("PALISADE_AUDIT_ENABLED", true),
		BufferSize: getEnvInt("PALISADE_AUDIT_BUFFER_SIZE", 4096),
		FilePath:   getEnv("PALISADE_AUDIT_FILE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("PALISADE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PALISADE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PALISADE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PALISADE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PALISADE_OTEL_SERVICE_NAME", "palisade"),
		OTelServiceVersion: getEnv("PALISADE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PALISADE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PALISADE_OTEL_SAMPLE_RATIO", 1.0),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RateLimitEnabled && c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit per minute must be positive when rate limiting is enabled")
	}

	// Validate database config
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("idle connections (%d) cannot exceed open connections (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	// Validate engine config
	if c.Engine.DecisionTTL <= 0 {
		return fmt.Errorf("decision TTL must be positive")
	}
	if c.Engine.CheckTimeout <= 0 {
		return fmt.Errorf("check timeout must be positive")
	}
	if c.Engine.BatchConcurrency <= 0 {
		return fmt.Errorf("batch concurrency must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
