package config

import (
	"os"
	"testing"
	"time"

	"github.com/palisade-io/palisade/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{
			name:         "returns true for 'true'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "true",
			want:         true,
		},
		{
			name:         "returns true for '1'",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "1",
			want:         true,
		},
		{
			name:         "returns false for 'false'",
			key:          "TEST_BOOL",
			defaultValue: true,
			envValue:     "false",
			want:         false,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_BOOL_NOT_SET",
			defaultValue: true,
			envValue:     "",
			want:         true,
		},
		{
			name:         "returns true for 'TRUE' (case insensitive)",
			key:          "TEST_BOOL",
			defaultValue: false,
			envValue:     "TRUE",
			want:         true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvBool(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns parsed int",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "42",
			want:         42,
		},
		{
			name:         "returns default for invalid int",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "not-a-number",
			want:         10,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOT_SET",
			defaultValue: 10,
			envValue:     "",
			want:         10,
		},
		{
			name:         "parses negative int",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "-1",
			want:         -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue float64
		envValue     string
		want         float64
	}{
		{
			name:         "returns parsed float",
			key:          "TEST_FLOAT",
			defaultValue: 1.0,
			envValue:     "0.25",
			want:         0.25,
		},
		{
			name:         "returns default for invalid float",
			key:          "TEST_FLOAT",
			defaultValue: 1.0,
			envValue:     "not-a-ratio",
			want:         1.0,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_FLOAT_NOT_SET",
			defaultValue: 0.5,
			envValue:     "",
			want:         0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvFloat(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns parsed duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "parses complex duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "1h30m",
			want:         90 * time.Minute,
		},
		{
			name:         "returns default for invalid duration",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOT_SET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnvDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestParseLogLevel tests log level parsing
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"DEBUG", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"unknown", observability.InfoLevel},
		{"", observability.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// clearEnv unsets a list of variables and returns a restore function
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		old, had := os.LookupEnv(key)
		os.Unsetenv(key)
		if had {
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestLoadServerConfig(t *testing.T) {
	serverVars := []string{
		"PALISADE_HOST", "PALISADE_PORT", "PALISADE_READ_TIMEOUT",
		"PALISADE_WRITE_TIMEOUT", "PALISADE_IDLE_TIMEOUT",
		"PALISADE_SHUTDOWN_TIMEOUT", "PALISADE_HEALTH_PORT",
	}

	t.Run("defaults", func(t *testing.T) {
		clearEnv(t, serverVars...)

		cfg := loadServerConfig()

		if cfg.Host != "0.0.0.0" {
			t.Errorf("Host = %v, want 0.0.0.0", cfg.Host)
		}
		if cfg.Port != "8080" {
			t.Errorf("Port = %v, want 8080", cfg.Port)
		}
		if cfg.HealthPort != "9090" {
			t.Errorf("HealthPort = %v, want 9090", cfg.HealthPort)
		}
		if cfg.ReadTimeout != 15*time.Second {
			t.Errorf("ReadTimeout = %v, want 15s", cfg.ReadTimeout)
		}
		if cfg.ShutdownTimeout != 30*time.Second {
			t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		clearEnv(t, serverVars...)
		os.Setenv("PALISADE_HOST", "localhost")
		os.Setenv("PALISADE_PORT", "3000")
		os.Setenv("PALISADE_READ_TIMEOUT", "30s")
		os.Setenv("PALISADE_HEALTH_PORT", "9091")
		defer func() {
			for _, key := range serverVars {
				os.Unsetenv(key)
			}
		}()

		cfg := loadServerConfig()

		if cfg.Host != "localhost" {
			t.Errorf("Host = %v, want localhost", cfg.Host)
		}
		if cfg.Port != "3000" {
			t.Errorf("Port = %v, want 3000", cfg.Port)
		}
		if cfg.ReadTimeout != 30*time.Second {
			t.Errorf("ReadTimeout = %v, want 30s", cfg.ReadTimeout)
		}
		if cfg.HealthPort != "9091" {
			t.Errorf("HealthPort = %v, want 9091", cfg.HealthPort)
		}
	})
}

func TestLoadEngineConfig(t *testing.T) {
	engineVars := []string{
		"PALISADE_RULES_FILE", "PALISADE_RULES_WATCH",
		"PALISADE_DECISION_CACHE_SIZE", "PALISADE_DECISION_TTL",
		"PALISADE_PERMISSION_SET_CACHE_SIZE", "PALISADE_PERMISSION_SET_TTL",
		"PALISADE_ROLE_CLOSURE_CACHE_SIZE", "PALISADE_ROLE_CLOSURE_TTL",
		"PALISADE_SUPERADMIN_TTL", "PALISADE_CHECK_TIMEOUT",
		"PALISADE_BATCH_CONCURRENCY", "PALISADE_REDIS_URL",
		"PALISADE_REDIS_PASSWORD", "PALISADE_REDIS_DB",
		"PALISADE_REDIS_MAX_RETRIES", "PALISADE_REDIS_POOL_SIZE",
	}

	t.Run("defaults", func(t *testing.T) {
		clearEnv(t, engineVars...)

		cfg := loadEngineConfig()

		if cfg.DecisionCacheSize != 16384 {
			t.Errorf("DecisionCacheSize = %v, want 16384", cfg.DecisionCacheSize)
		}
		if cfg.DecisionTTL != 30*time.Second {
			t.Errorf("DecisionTTL = %v, want 30s", cfg.DecisionTTL)
		}
		if cfg.SuperAdminTTL != 10*time.Minute {
			t.Errorf("SuperAdminTTL = %v, want 10m", cfg.SuperAdminTTL)
		}
		if cfg.BatchConcurrency != 8 {
			t.Errorf("BatchConcurrency = %v, want 8", cfg.BatchConcurrency)
		}
		if cfg.RedisURL != "" {
			t.Errorf("RedisURL = %v, want empty", cfg.RedisURL)
		}
		if !cfg.WatchRulesFile {
			t.Error("WatchRulesFile should default to true")
		}
	})

	t.Run("from environment", func(t *testing.T) {
		clearEnv(t, engineVars...)
		os.Setenv("PALISADE_RULES_FILE", "/etc/palisade/rules.yaml")
		os.Setenv("PALISADE_DECISION_TTL", "10s")
		os.Setenv("PALISADE_REDIS_URL", "redis://localhost:6379")
		os.Setenv("PALISADE_REDIS_DB", "1")
		defer func() {
			for _, key := range engineVars {
				os.Unsetenv(key)
			}
		}()

		cfg := loadEngineConfig()

		if cfg.RulesFile != "/etc/palisade/rules.yaml" {
			t.Errorf("RulesFile = %v", cfg.RulesFile)
		}
		if cfg.DecisionTTL != 10*time.Second {
			t.Errorf("DecisionTTL = %v, want 10s", cfg.DecisionTTL)
		}
		if cfg.RedisURL != "redis://localhost:6379" {
			t.Errorf("RedisURL = %v", cfg.RedisURL)
		}
		if cfg.RedisDB != 1 {
			t.Errorf("RedisDB = %v, want 1", cfg.RedisDB)
		}
	})
}

func TestLoadAuditConfig(t *testing.T) {
	auditVars := []string{
		"PALISADE_AUDIT_ENABLED", "PALISADE_AUDIT_BUFFER_SIZE", "PALISADE_AUDIT_FILE",
	}

	t.Run("defaults", func(t *testing.T) {
		clearEnv(t, auditVars...)

		cfg := loadAuditConfig()

		if !cfg.Enabled {
			t.Error("audit should be enabled by default")
		}
		if cfg.BufferSize != 4096 {
			t.Errorf("BufferSize = %v, want 4096", cfg.BufferSize)
		}
		if cfg.FilePath != "" {
			t.Errorf("FilePath = %v, want empty", cfg.FilePath)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		clearEnv(t, auditVars...)
		os.Setenv("PALISADE_AUDIT_ENABLED", "false")
		os.Setenv("PALISADE_AUDIT_BUFFER_SIZE", "1024")
		defer func() {
			for _, key := range auditVars {
				os.Unsetenv(key)
			}
		}()

		cfg := loadAuditConfig()

		if cfg.Enabled {
			t.Error("audit should be disabled")
		}
		if cfg.BufferSize != 1024 {
			t.Errorf("BufferSize = %v, want 1024", cfg.BufferSize)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{
				Port:       "8080",
				HealthPort: "9090",
			},
			Database: DatabaseConfig{
				URL:          "postgres://localhost/palisade",
				MaxOpenConns: 25,
				MaxIdleConns: 5,
			},
			Engine: EngineConfig{
				DecisionTTL:      30 * time.Second,
				CheckTimeout:     2 * time.Second,
				BatchConcurrency: 8,
			},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("missing port fails", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should fail without port")
		}
	})

	t.Run("same port and health port fails", func(t *testing.T) {
		cfg := valid()
		cfg.Server.HealthPort = cfg.Server.Port
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should fail when ports collide")
		}
	})

	t.Run("missing postgres URL fails", func(t *testing.T) {
		cfg := valid()
		cfg.Database.URL = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should fail without postgres URL")
		}
	})

	t.Run("idle conns exceeding open conns fails", func(t *testing.T) {
		cfg := valid()
		cfg.Database.MaxIdleConns = 100
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should fail when idle > open")
		}
	})

	t.Run("zero check timeout fails", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.CheckTimeout = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should fail with zero check timeout")
		}
	})

	t.Run("rate limiting enabled with zero limit fails", func(t *testing.T) {
		cfg := valid()
		cfg.Server.RateLimitEnabled = true
		cfg.Server.RateLimitPerMinute = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should fail with rate limiting enabled and no limit")
		}
	})

	t.Run("otel enabled without endpoint fails", func(t *testing.T) {
		cfg := valid()
		cfg.Observability.OTelEnabled = true
		cfg.Observability.OTelEndpoint = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() should fail when OTel enabled without endpoint")
		}
	})
}
