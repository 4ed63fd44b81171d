package config

import (
	"os"
	"testing"
	"time"

	"github.com/greenroomhq/greenroom/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	os.Setenv("GREENROOM_POSTGRES_URL", "postgres://localhost/greenroom_test")
	defer os.Unsetenv("GREENROOM_POSTGRES_URL")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("Expected default health port 9090, got %s", cfg.Server.HealthPort)
	}
	if cfg.Cache.Size != 10000 {
		t.Errorf("Expected default cache size 10000, got %d", cfg.Cache.Size)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("Expected default cache TTL 30s, got %v", cfg.Cache.TTL)
	}
	if cfg.Invitations.TTL != 7*24*time.Hour {
		t.Errorf("Expected default invitation TTL 168h, got %v", cfg.Invitations.TTL)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("Expected default log level info, got %v", cfg.Observability.LogLevel)
	}
	if cfg.Redis.Enabled {
		t.Error("Redis should be disabled by default")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	env := map[string]string{
		"GREENROOM_POSTGRES_URL": "postgres://localhost/greenroom_test",
		"GREENROOM_PORT":         "9000",
		"GREENROOM_CACHE_TTL":    "5s",
		"GREENROOM_CACHE_SIZE":   "500",
		"GREENROOM_LOG_LEVEL":    "debug",
		"GREENROOM_REDIS_ENABLED": "true",
	}
	for k, v := range env {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range env {
			os.Unsetenv(k)
		}
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9000" {
		t.Errorf("Expected port 9000, got %s", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 5*time.Second {
		t.Errorf("Expected cache TTL 5s, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.Size != 500 {
		t.Errorf("Expected cache size 500, got %d", cfg.Cache.Size)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("Expected debug level, got %v", cfg.Observability.LogLevel)
	}
	if !cfg.Redis.Enabled {
		t.Error("Expected redis enabled")
	}
}

func TestLoadConfig_RequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("GREENROOM_POSTGRES_URL")
	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error without postgres URL")
	}
}

func TestValidate_Failures(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:      ServerConfig{Port: "8080", HealthPort: "9090"},
			Database:    DatabaseConfig{URL: "postgres://localhost/db"},
			Cache:       CacheConfig{Size: 100, TTL: time.Second},
			Invitations: InvitationConfig{TTL: time.Hour},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }},
		{"missing health port", func(c *Config) { c.Server.HealthPort = "" }},
		{"port collision", func(c *Config) { c.Server.HealthPort = c.Server.Port }},
		{"missing database URL", func(c *Config) { c.Database.URL = "" }},
		{"redis enabled without URL", func(c *Config) { c.Redis.Enabled = true; c.Redis.URL = "" }},
		{"non-positive cache size", func(c *Config) { c.Cache.Size = 0 }},
		{"non-positive cache TTL", func(c *Config) { c.Cache.TTL = 0 }},
		{"non-positive invitation TTL", func(c *Config) { c.Invitations.TTL = 0 }},
		{"otel enabled without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "90s")
	defer os.Unsetenv("TEST_DURATION")

	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("Expected 90s, got %v", got)
	}
	if got := getEnvDuration("TEST_DURATION_UNSET", time.Minute); got != time.Minute {
		t.Errorf("Expected default 1m, got %v", got)
	}

	os.Setenv("TEST_DURATION", "garbage")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("Expected default for garbage value, got %v", got)
	}
}
