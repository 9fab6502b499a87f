// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	PALISADE_HOST="0.0.0.0"
//	PALISADE_PORT="8080"
//	PALISADE_HEALTH_PORT="9090"
//	PALISADE_READ_TIMEOUT="15s"
//	PALISADE_WRITE_TIMEOUT="15s"
//	PALISADE_RATE_LIMIT_ENABLED="false"
//	PALISADE_RATE_LIMIT_PER_MINUTE="300"
//	PALISADE_RATE_LIMIT_BURST="50"
//
// Database settings:
//
//	PALISADE_POSTGRES_URL="postgres://localhost/palisade"
//	PALISADE_POSTGRES_MAX_CONNS="25"
//	PALISADE_POSTGRES_IDLE_CONNS="5"
//	PALISADE_RUN_MIGRATIONS="true"
//
// Engine settings:
//
//	PALISADE_RULES_FILE="/etc/palisade/rules.yaml"
//	PALISADE_RULES_WATCH="true"
//	PALISADE_DECISION_CACHE_SIZE="16384"
//	PALISADE_DECISION_TTL="30s"
//	PALISADE_CHECK_TIMEOUT="2s"
//	PALISADE_REDIS_URL="redis://localhost:6379"
//
// Audit settings:
//
//	PALISADE_AUDIT_ENABLED="true"
//	PALISADE_AUDIT_BUFFER_SIZE="4096"
//	PALISADE_AUDIT_FILE="/var/log/palisade/audit.jsonl"
//
// Observability settings:
//
//	PALISADE_LOG_LEVEL="info"  # debug, info, warn, error
//	PALISADE_METRICS_ENABLED="true"
//	PALISADE_OTEL_ENABLED="true"
//	PALISADE_OTEL_ENDPOINT="otel-collector:4317"
//	PALISADE_OTEL_SAMPLE_RATIO="0.25"  # 1.0 samples every trace
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Database: %s\n", cfg.Database.URL)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/authz: Uses engine configuration
//   - pkg/observability: Uses observability configuration
package config
