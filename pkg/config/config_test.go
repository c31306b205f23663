package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GATEKEEPER_POSTGRES_URL", "postgres://localhost/gatekeeper")
	t.Setenv("GATEKEEPER_PLATFORM_URL", "http://platform:8081")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if got := cfg.Server.Addr(); got != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q, want 0.0.0.0:8080", got)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis should be disabled without a URL")
	}
	if cfg.Auth.Enabled() {
		t.Error("auth should be disabled without an issuer")
	}
	if len(cfg.Auth.Operators) != 0 {
		t.Errorf("Operators = %v, want none", cfg.Auth.Operators)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit should be enabled by default")
	}
	if cfg.Resync.Schedule != "*/5 * * * *" || cfg.Resync.Workers != 8 {
		t.Errorf("Resync = %+v", cfg.Resync)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("LogLevel = %v, want INFO", cfg.Observability.LogLevel)
	}
	if cfg.Platform.MemberCacheTTL != 30*time.Second {
		t.Errorf("MemberCacheTTL = %v, want 30s", cfg.Platform.MemberCacheTTL)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("GATEKEEPER_PORT", "9000")
	t.Setenv("GATEKEEPER_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("GATEKEEPER_HOOK_TIMEOUT", "750ms")
	t.Setenv("GATEKEEPER_LOG_LEVEL", "debug")
	t.Setenv("GATEKEEPER_PLATFORM_SCOPES", "members.read, ,guilds.read")
	t.Setenv("GATEKEEPER_RESYNC_ENABLED", "0")
	t.Setenv("GATEKEEPER_RESYNC_SCHEDULE", "garbage")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Server.Port)
	}
	if !cfg.Redis.Enabled() {
		t.Error("redis should be enabled")
	}
	if cfg.Hook.Timeout != 750*time.Millisecond {
		t.Errorf("Hook.Timeout = %v, want 750ms", cfg.Hook.Timeout)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.Observability.LogLevel)
	}
	if got := strings.Join(cfg.Platform.Scopes, ","); got != "members.read,guilds.read" {
		t.Errorf("Scopes = %q", got)
	}
	if cfg.Resync.Enabled {
		t.Error("resync should be disabled")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080"},
			Database: DatabaseConfig{URL: "postgres://db", MaxOpenConns: 10, MaxIdleConns: 2},
			Platform: PlatformConfig{BaseURL: "http://platform"},
			Modules:  ModulesConfig{ManifestPath: "modules.yaml"},
			Resync:   ResyncConfig{Enabled: true, Schedule: "*/5 * * * *"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port"},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "postgres URL"},
		{"idle above open", func(c *Config) { c.Database.MaxIdleConns = 50 }, "exceeds max conns"},
		{"missing platform", func(c *Config) { c.Platform.BaseURL = "" }, "platform URL"},
		{"client id without token url", func(c *Config) { c.Platform.ClientID = "gk" }, "token URL"},
		{"missing manifest", func(c *Config) { c.Modules.ManifestPath = "" }, "manifest"},
		{"bad schedule", func(c *Config) { c.Resync.Schedule = "every tuesday" }, "resync schedule"},
		{"issuer without audience", func(c *Config) { c.Auth.OIDCIssuer = "https://idp" }, "OIDC audience"},
		{"operators without issuer", func(c *Config) { c.Auth.Operators = []string{"ops"} }, "operators require"},
		{"zero rate limit", func(c *Config) { c.RateLimit.Enabled = true }, "rate limit"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "gatekeeper"
		}, "endpoint"},
		{"otel bad ratio", func(c *Config) {
			c.Observability = ObservabilityConfig{OTelEnabled: true, OTelEndpoint: "collector:4317", OTelServiceName: "gk", OTelSampleRatio: 2}
		}, "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_BOOL", "TRUE")
	t.Setenv("TEST_DURATION", "1m30s")
	t.Setenv("TEST_FLOAT", "0.25")

	if got := getEnv("TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("getEnv() = %q", got)
	}
	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %d", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with bad value = %d, want default", got)
	}
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool() = false")
	}
	if got := getEnvDuration("TEST_DURATION", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v", got)
	}
	if got := getEnvList("TEST_UNSET"); got != nil {
		t.Errorf("getEnvList() = %v, want nil", got)
	}
}

func TestLoadConfig_Operators(t *testing.T) {
	setRequired(t)
	t.Setenv("GATEKEEPER_OIDC_ISSUER", "https://idp.example")
	t.Setenv("GATEKEEPER_AUTH_OPERATORS", "ops-1, ops-2")
	t.Setenv("GATEKEEPER_AUDIT_ENABLED", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got := strings.Join(cfg.Auth.Operators, ","); got != "ops-1,ops-2" {
		t.Errorf("Operators = %q, want ops-1,ops-2", got)
	}
	if cfg.Audit.Enabled {
		t.Error("audit should be disabled")
	}
}
