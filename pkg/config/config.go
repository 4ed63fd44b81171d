package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/greenroomhq/greenroom/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (optional, for distributed cache invalidation)
	Redis RedisConfig

	// Permission context cache configuration
	Cache CacheConfig

	// Authorization policy configuration
	Policy PolicyConfig

	// Invitation configuration
	Invitations InvitationConfig

	// Audit trail configuration
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
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
}

// CacheConfig holds permission context cache configuration
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// PolicyConfig holds authorization policy configuration
type PolicyConfig struct {
	// Path to the policy artifact. Empty means the embedded default.
	Path string
}

// InvitationConfig holds invitation lifecycle configuration
type InvitationConfig struct {
	TTL time.Duration

	// CleanupSchedule is a cron expression for expired invitation
	// removal. Empty disables the job.
	CleanupSchedule string
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	// FilePath enables the JSON-lines file destination when non-empty.
	FilePath     string
	FileMaxSize  int64
	FileMaxFiles int

	// Stdout enables the structured stdout destination.
	Stdout bool
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
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GREENROOM_HOST", "0.0.0.0"),
			Port:            getEnv("GREENROOM_PORT", "8080"),
			ReadTimeout:     getEnvDuration("GREENROOM_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GREENROOM_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GREENROOM_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GREENROOM_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("GREENROOM_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("GREENROOM_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("GREENROOM_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("GREENROOM_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("GREENROOM_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("GREENROOM_REDIS_ENABLED", false),
			URL:      getEnv("GREENROOM_REDIS_URL", "localhost:6379"),
			Password: getEnv("GREENROOM_REDIS_PASSWORD", ""),
			DB:       getEnvInt("GREENROOM_REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Size: getEnvInt("GREENROOM_CACHE_SIZE", 10000),
			TTL:  getEnvDuration("GREENROOM_CACHE_TTL", 30*time.Second),
		},
		Policy: PolicyConfig{
			Path: getEnv("GREENROOM_POLICY_PATH", ""),
		},
		Invitations: InvitationConfig{
			TTL:             getEnvDuration("GREENROOM_INVITATION_TTL", 7*24*time.Hour),
			CleanupSchedule: getEnv("GREENROOM_INVITATION_CLEANUP_SCHEDULE", "@hourly"),
		},
		Audit: AuditConfig{
			FilePath:     getEnv("GREENROOM_AUDIT_FILE", ""),
			FileMaxSize:  getEnvInt64("GREENROOM_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
			FileMaxFiles: getEnvInt("GREENROOM_AUDIT_FILE_MAX_FILES", 10),
			Stdout:       getEnvBool("GREENROOM_AUDIT_STDOUT", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("GREENROOM_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("GREENROOM_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("GREENROOM_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("GREENROOM_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("GREENROOM_OTEL_SERVICE_NAME", "greenroom-authz"),
			OTelServiceVersion: getEnv("GREENROOM_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("GREENROOM_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}

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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
