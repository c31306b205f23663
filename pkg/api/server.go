package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatekeeper/pkg/engine"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

const maxRequestBytes = 1 << 20

// ServerConfig wires a Server. Everything except Engine is optional; Auth
// and RateLimit only cover the /v1 routes. The /v1/admin routes are only
// served when Auth is set and Operators lists the token subjects allowed
// to use them.
type ServerConfig struct {
	Engine    *engine.Engine
	Health    *observability.HealthChecker
	Gatherer  prometheus.Gatherer
	Metrics   *observability.Metrics
	Logger    *observability.Logger
	Auth      *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
	Operators []string
}

// Server represents our API server
type Server struct {
	engine  *engine.Engine
	logger  *observability.Logger
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	s := &Server{
		engine: cfg.Engine,
		logger: cfg.Logger,
		router: mux.NewRouter(),
	}
	s.setupRoutes(cfg)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware(cfg.Logger),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "gatekeeper.api")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(cfg ServerConfig) {
	s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))

	if cfg.Health != nil {
		s.router.HandleFunc("/healthz", cfg.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", cfg.Health.Readiness).Methods("GET")
	}
	if cfg.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(cfg.Gatherer)).Methods("GET")
	}

	guild := s.router.PathPrefix("/v1/guilds/{guild}").Subrouter()
	if cfg.Auth != nil {
		guild.Use(cfg.Auth.Handler)
	}
	if cfg.RateLimit != nil {
		guild.Use(cfg.RateLimit.Handler)
	}

	// Authorization checks
	guild.HandleFunc("/authorize", s.authorize).Methods("POST")
	guild.HandleFunc("/authorize-permission", s.authorizePermission).Methods("POST")

	// Role hierarchy
	guild.HandleFunc("/roles", s.listRoles).Methods("GET")
	guild.HandleFunc("/roles", s.createRole).Methods("POST")
	guild.HandleFunc("/roles/{role}", s.updateRole).Methods("PUT")
	guild.HandleFunc("/roles/{role}", s.deleteRole).Methods("DELETE")

	// Member overrides
	guild.HandleFunc("/members/{user}/override", s.setMemberOverride).Methods("PUT")
	guild.HandleFunc("/members/{user}/override", s.deleteMemberOverride).Methods("DELETE")

	// Enablement
	guild.HandleFunc("/modules/{module}", s.toggleModule).Methods("PUT")
	guild.HandleFunc("/commands/{command}", s.toggleCommand).Methods("PUT")
	guild.HandleFunc("/cache/invalidate", s.invalidateCache).Methods("POST")

	guild.HandleFunc("/resync", s.resync).Methods("POST")
	guild.HandleFunc("/audit", s.listAuditEvents).Methods("GET")

	// Operator routes act on every guild
	if cfg.Auth != nil && len(cfg.Operators) > 0 {
		admin := s.router.PathPrefix("/v1/admin").Subrouter()
		admin.Use(cfg.Auth.Handler)
		admin.Use(middleware.RequireSubjects(cfg.Operators, cfg.Logger))
		admin.HandleFunc("/cache/invalidate", s.invalidateAll).Methods("POST")
		admin.HandleFunc("/resync", s.resyncAll).Methods("POST")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
