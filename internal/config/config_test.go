package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so host settings cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"JWT_SECRET", "JWT_ISS", "JWT_AUD", "JWT_EXPIRY", "ENVIRONMENT", "HTTP_ADDR",
		"STORE_PROVIDER", "DB_DSN", "DB_LOCK_TIMEOUT", "ENABLE_METRICS", "LOG_LEVEL",
		"SLACK_BOT_TOKEN", "SLACK_CHANNEL", "IMPORT_MAPPING",
	} {
		t.Setenv(k, "")
	}
}

func validConfig() *Config {
	return &Config{
		JWTSecret:     "valid-secret-that-is-long-enough-for-testing",
		JWTIssuer:     "rtb-inventory-api",
		JWTAudience:   "rtb-inventory-api",
		JWTExpiry:     time.Hour,
		StoreProvider: "in-memory",
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	if cfg.JWTSecret != DefaultJWTSecret {
		t.Errorf("Expected the placeholder secret, got %s", cfg.JWTSecret)
	}
	if cfg.JWTIssuer != "rtb-inventory-api" || cfg.JWTAudience != "rtb-inventory-api" {
		t.Errorf("Unexpected issuer/audience %s/%s", cfg.JWTIssuer, cfg.JWTAudience)
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("Expected 24h token expiry, got %v", cfg.JWTExpiry)
	}
	if cfg.StoreProvider != "postgres" {
		t.Errorf("Expected postgres store by default, got %s", cfg.StoreProvider)
	}
	if cfg.DBLockTimeout != 2*time.Second {
		t.Errorf("Expected 2s lock timeout, got %v", cfg.DBLockTimeout)
	}
	if !cfg.EnableMetrics {
		t.Error("Expected metrics to be enabled by default")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info log level, got %v", cfg.LogLevel)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.HTTPAddr)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_EXPIRY", "2h")
	t.Setenv("STORE_PROVIDER", "in-memory")
	t.Setenv("DB_LOCK_TIMEOUT", "750ms")
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_CHANNEL", "#devices")
	t.Setenv("IMPORT_MAPPING", "configs/mapping/devices.yaml")

	cfg := Load()

	if cfg.JWTExpiry != 2*time.Hour {
		t.Errorf("Expected 2h expiry, got %v", cfg.JWTExpiry)
	}
	if cfg.StoreProvider != "in-memory" {
		t.Errorf("Expected in-memory store, got %s", cfg.StoreProvider)
	}
	if cfg.DBLockTimeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms lock timeout, got %v", cfg.DBLockTimeout)
	}
	if cfg.EnableMetrics {
		t.Error("Expected ENABLE_METRICS=false to disable metrics")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug log level, got %v", cfg.LogLevel)
	}
	if cfg.SlackBotToken != "xoxb-test" || cfg.SlackChannel != "#devices" {
		t.Errorf("Unexpected slack settings %s %s", cfg.SlackBotToken, cfg.SlackChannel)
	}
	if cfg.ImportMapping != "configs/mapping/devices.yaml" {
		t.Errorf("Unexpected import mapping %s", cfg.ImportMapping)
	}
}

func TestLoadIgnoresUnparsableValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_EXPIRY", "forever")
	t.Setenv("DB_LOCK_TIMEOUT", "soon")
	t.Setenv("ENABLE_METRICS", "maybe")
	t.Setenv("LOG_LEVEL", "loud")

	cfg := Load()

	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("Expected default expiry, got %v", cfg.JWTExpiry)
	}
	if cfg.DBLockTimeout != 2*time.Second {
		t.Errorf("Expected default lock timeout, got %v", cfg.DBLockTimeout)
	}
	if !cfg.EnableMetrics {
		t.Error("Expected metrics to stay enabled")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info log level, got %v", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "JWT_SECRET must be at least"},
		{"default secret in production", func(c *Config) {
			c.JWTSecret = DefaultJWTSecret
			c.Environment = "Production"
		}, "changed from the default"},
		{"default secret in development", func(c *Config) { c.JWTSecret = DefaultJWTSecret }, ""},
		{"missing issuer", func(c *Config) { c.JWTIssuer = "" }, "JWT_ISS"},
		{"missing audience", func(c *Config) { c.JWTAudience = "" }, "JWT_AUD"},
		{"expiry too short", func(c *Config) { c.JWTExpiry = time.Second }, "JWT_EXPIRY"},
		{"expiry too long", func(c *Config) { c.JWTExpiry = 60 * 24 * time.Hour }, "JWT_EXPIRY"},
		{"postgres without dsn", func(c *Config) { c.StoreProvider = "postgres" }, "DB_DSN"},
		{"postgres with dsn", func(c *Config) {
			c.StoreProvider = "postgres"
			c.DBDSN = "postgres://localhost/rtb"
		}, ""},
		{"unknown store", func(c *Config) { c.StoreProvider = "couchdb" }, "not supported"},
		{"negative lock timeout", func(c *Config) { c.DBLockTimeout = -time.Second }, "DB_LOCK_TIMEOUT"},
		{"slack token without channel", func(c *Config) { c.SlackBotToken = "xoxb" }, "SLACK_CHANNEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsProduction(t *testing.T) {
	for env, want := range map[string]bool{
		"production":  true,
		"PROD":        true,
		"staging":     false,
		"development": false,
		"":            false,
	} {
		if got := (&Config{Environment: env}).IsProduction(); got != want {
			t.Errorf("IsProduction(%q) = %v, want %v", env, got, want)
		}
	}
}

func TestLoadAndValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "a-secret-that-is-definitely-long-enough")
	t.Setenv("STORE_PROVIDER", "in-memory")

	cfg, err := LoadAndValidate()
	if err != nil {
		t.Fatalf("LoadAndValidate() failed: %v", err)
	}
	if cfg.StoreProvider != "in-memory" {
		t.Errorf("Expected in-memory store, got %s", cfg.StoreProvider)
	}

	t.Setenv("JWT_SECRET", "short")
	if _, err := LoadAndValidate(); err == nil || !strings.HasPrefix(err.Error(), "invalid configuration") {
		t.Errorf("Expected an invalid configuration error, got %v", err)
	}
}
