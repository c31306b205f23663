// Package config loads the gatekeeper server configuration from environment
// variables with defaults for everything except the database and platform
// endpoints.
//
// Server:
//
//	GATEKEEPER_HOST="0.0.0.0"
//	GATEKEEPER_PORT="8080"
//	GATEKEEPER_READ_TIMEOUT="15s"
//	GATEKEEPER_SHUTDOWN_TIMEOUT="30s"
//
// Storage and fan-out:
//
//	GATEKEEPER_POSTGRES_URL="postgres://localhost/gatekeeper?sslmode=disable"  # required
//	GATEKEEPER_POSTGRES_MAX_CONNS="20"
//	GATEKEEPER_POSTGRES_MIGRATE="true"
//	GATEKEEPER_REDIS_URL="redis://localhost:6379/0"  # optional, enables cross-process invalidation
//	GATEKEEPER_REDIS_CHANNEL="gatekeeper:enablement"
//
// Chat platform and override worker:
//
//	GATEKEEPER_PLATFORM_URL="http://platform-proxy:8081"  # required
//	GATEKEEPER_PLATFORM_TOKEN="..."                      # static bearer token, or
//	GATEKEEPER_PLATFORM_CLIENT_ID / _CLIENT_SECRET / _TOKEN_URL / _SCOPES
//	GATEKEEPER_MEMBER_CACHE_TTL="30s"
//	GATEKEEPER_HOOK_URL="http://override-worker:9000"   # optional
//	GATEKEEPER_HOOK_TIMEOUT="2s"
//
// Modules and background work:
//
//	GATEKEEPER_MODULES_MANIFEST="configs/modules.yaml"
//	GATEKEEPER_ENABLEMENT_CACHE_SIZE="50000"
//	GATEKEEPER_RESYNC_SCHEDULE="*/5 * * * *"
//	GATEKEEPER_RESYNC_WORKERS="8"
//
// API protection:
//
//	GATEKEEPER_OIDC_ISSUER="https://accounts.example.com"  # optional
//	GATEKEEPER_OIDC_AUDIENCE="gatekeeper"
//	GATEKEEPER_RATELIMIT_ENABLED="true"
//	GATEKEEPER_RATELIMIT_REQUESTS="600"
//	GATEKEEPER_RATELIMIT_WINDOW="1m"
//
// Observability:
//
//	GATEKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEKEEPER_OTEL_ENABLED="true"
//	GATEKEEPER_OTEL_ENDPOINT="otel-collector:4317"
//	GATEKEEPER_OTEL_SAMPLE_RATIO="0.1"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
