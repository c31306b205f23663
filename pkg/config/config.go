package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Platform      PlatformConfig
	Hook          HookConfig
	Modules       ModulesConfig
	Resync        ResyncConfig
	Auth          AuthConfig
	Audit         AuditConfig
	RateLimit     RateLimitConfig
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
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings for the role hierarchy and
// module configuration stores
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

// RedisConfig enables cross-process cache invalidation and shared rate
// limits. Empty URL means single-process mode.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	Channel    string
}

// Enabled reports whether a redis URL was configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// PlatformConfig points at the chat platform member API
type PlatformConfig struct {
	BaseURL         string
	Token           string
	ClientID        string
	ClientSecret    string
	TokenURL        string
	Scopes          []string
	Timeout         time.Duration
	MemberCacheTTL  time.Duration
	MemberCacheSize int
}

// HookConfig configures the external override worker. Empty URL disables
// the hook.
type HookConfig struct {
	URL     string
	Timeout time.Duration
}

// ModulesConfig locates the module manifest
type ModulesConfig struct {
	ManifestPath    string
	EnablementCache int
}

// ResyncConfig tunes the background member resync
type ResyncConfig struct {
	Enabled  bool
	Schedule string
	Workers  int
	Timeout  time.Duration
}

// AuthConfig enables OIDC bearer token verification of API callers
type AuthConfig struct {
	OIDCIssuer   string
	OIDCAudience string
	// Operators are the token subjects allowed on the /v1/admin routes
	Operators []string
}

// Enabled reports whether caller authentication is configured
func (a AuthConfig) Enabled() bool {
	return a.OIDCIssuer != ""
}

// AuditConfig controls the audit log of hierarchy changes and denials
type AuditConfig struct {
	Enabled bool
}

// RateLimitConfig bounds API requests per guild
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Platform:      loadPlatformConfig(),
		Hook:          loadHookConfig(),
		Modules:       loadModulesConfig(),
		Resync:        loadResyncConfig(),
		Auth:          loadAuthConfig(),
		Audit:         loadAuditConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("GATEKEEPER_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 20),
		MaxIdleConns:    getEnvInt("GATEKEEPER_POSTGRES_MIN_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("GATEKEEPER_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		RunMigrations:   getEnvBool("GATEKEEPER_POSTGRES_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("GATEKEEPER_REDIS_URL", ""),
		Password:   getEnv("GATEKEEPER_REDIS_PASSWORD", ""),
		DB:         getEnvInt("GATEKEEPER_REDIS_DB", 0),
		PoolSize:   getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 3),
		Channel:    getEnv("GATEKEEPER_REDIS_CHANNEL", "gatekeeper:enablement"),
	}
}

func loadPlatformConfig() PlatformConfig {
	return PlatformConfig{
		BaseURL:         getEnv("GATEKEEPER_PLATFORM_URL", ""),
		Token:           getEnv("GATEKEEPER_PLATFORM_TOKEN", ""),
		ClientID:        getEnv("GATEKEEPER_PLATFORM_CLIENT_ID", ""),
		ClientSecret:    getEnv("GATEKEEPER_PLATFORM_CLIENT_SECRET", ""),
		TokenURL:        getEnv("GATEKEEPER_PLATFORM_TOKEN_URL", ""),
		Scopes:          getEnvList("GATEKEEPER_PLATFORM_SCOPES"),
		Timeout:         getEnvDuration("GATEKEEPER_PLATFORM_TIMEOUT", 5*time.Second),
		MemberCacheTTL:  getEnvDuration("GATEKEEPER_MEMBER_CACHE_TTL", 30*time.Second),
		MemberCacheSize: getEnvInt("GATEKEEPER_MEMBER_CACHE_SIZE", 10_000),
	}
}

func loadHookConfig() HookConfig {
	return HookConfig{
		URL:     getEnv("GATEKEEPER_HOOK_URL", ""),
		Timeout: getEnvDuration("GATEKEEPER_HOOK_TIMEOUT", 2*time.Second),
	}
}

func loadModulesConfig() ModulesConfig {
	return ModulesConfig{
		ManifestPath:    getEnv("GATEKEEPER_MODULES_MANIFEST", "configs/modules.yaml"),
		EnablementCache: getEnvInt("GATEKEEPER_ENABLEMENT_CACHE_SIZE", 50_000),
	}
}

func loadResyncConfig() ResyncConfig {
	return ResyncConfig{
		Enabled:  getEnvBool("GATEKEEPER_RESYNC_ENABLED", true),
		Schedule: getEnv("GATEKEEPER_RESYNC_SCHEDULE", "*/5 * * * *"),
		Workers:  getEnvInt("GATEKEEPER_RESYNC_WORKERS", 8),
		Timeout:  getEnvDuration("GATEKEEPER_RESYNC_TIMEOUT", 10*time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuer:   getEnv("GATEKEEPER_OIDC_ISSUER", ""),
		OIDCAudience: getEnv("GATEKEEPER_OIDC_AUDIENCE", "gatekeeper"),
		Operators:    getEnvList("GATEKEEPER_AUTH_OPERATORS"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled: getEnvBool("GATEKEEPER_AUDIT_ENABLED", true),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("GATEKEEPER_RATELIMIT_ENABLED", false),
		RequestsPerWindow: getEnvInt("GATEKEEPER_RATELIMIT_REQUESTS", 600),
		Window:            getEnvDuration("GATEKEEPER_RATELIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("GATEKEEPER_RATELIMIT_BURST", 60),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEKEEPER_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxOpenConns > 0 && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform URL is required")
	}
	if c.Platform.ClientID != "" && c.Platform.TokenURL == "" {
		return fmt.Errorf("platform token URL is required when a client id is set")
	}

	if c.Modules.ManifestPath == "" {
		return fmt.Errorf("module manifest path is required")
	}

	if c.Resync.Enabled {
		if _, err := cron.ParseStandard(c.Resync.Schedule); err != nil {
			return fmt.Errorf("invalid resync schedule %q: %w", c.Resync.Schedule, err)
		}
	}

	if c.Auth.Enabled() && c.Auth.OIDCAudience == "" {
		return fmt.Errorf("OIDC audience is required when an issuer is set")
	}
	if len(c.Auth.Operators) > 0 && !c.Auth.Enabled() {
		return fmt.Errorf("operators require an OIDC issuer")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1]")
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
