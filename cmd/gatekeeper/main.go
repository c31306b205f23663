package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/engine"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/modules"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/overridehook"
	"github.com/platinummonkey/gatekeeper/pkg/platform"
)

var version = "dev"

var (
	manifestPath = flag.String("manifest", "", "Module manifest path (overrides GATEKEEPER_MODULES_MANIFEST)")
	migrateOnly  = flag.Bool("migrate-only", false, "Apply database migrations and exit")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *manifestPath != "" {
		cfg.Modules.ManifestPath = *manifestPath
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "gatekeeper")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Gatekeeper exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdown(logger)
	defer func() {
		// stop background listeners before their connections close
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = shutdown.Run(shutdownCtx)
	}()

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	if telemetry != nil {
		shutdown.Register("telemetry", telemetry.Shutdown)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if cfg.Database.RunMigrations || *migrateOnly {
		if err := hierarchy.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Database migrations applied")
	}
	if *migrateOnly {
		return nil
	}

	builder := modules.NewBuilder()
	manifestLog := logrus.New()
	manifestLog.SetFormatter(&logrus.JSONFormatter{})
	if err := builder.LoadManifestFile(cfg.Modules.ManifestPath, manifestLog); err != nil {
		return err
	}
	registry, err := builder.Build()
	if err != nil {
		return fmt.Errorf("invalid module manifest: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Reads go through the cache; writes invalidate it after commit.
	cache, err := modules.NewEnablementCache(registry, modules.NewConfigStore(db, registry, nil), cfg.Modules.EnablementCache)
	if err != nil {
		return err
	}

	var (
		rdb         *redis.Client
		invalidator modules.Invalidator = modules.NewLocalInvalidator(cache)
	)
	if cfg.Redis.Enabled() {
		rdb, err = modules.NewRedisClient(ctx, modules.RedisOptions{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })

		redisInvalidator := modules.NewRedisInvalidator(rdb, cache, cfg.Redis.Channel, logger, metrics)
		pubsub, err := redisInvalidator.Subscribe(ctx)
		if err != nil {
			return err
		}
		async.SafeGo(ctx, logger, 0, "enablement invalidation listener", func(ctx context.Context) error {
			return redisInvalidator.Listen(ctx, pubsub)
		})
		invalidator = redisInvalidator
	}

	platformClient := platform.NewHTTPClientWithCredentials(ctx, cfg.Platform.BaseURL, platform.Credentials{
		Token:        cfg.Platform.Token,
		ClientID:     cfg.Platform.ClientID,
		ClientSecret: cfg.Platform.ClientSecret,
		TokenURL:     cfg.Platform.TokenURL,
		Scopes:       cfg.Platform.Scopes,
	}, cfg.Platform.Timeout)
	members := platform.NewResolver(platformClient, nil, platform.ResolverOptions{
		TTL:       cfg.Platform.MemberCacheTTL,
		CacheSize: cfg.Platform.MemberCacheSize,
		Metrics:   metrics,
	})

	var hook overridehook.Hook = overridehook.Disabled{}
	if cfg.Hook.URL != "" {
		hook = overridehook.NewHTTPHook(cfg.Hook.URL, overridehook.HTTPHookOptions{
			Timeout: cfg.Hook.Timeout,
			Logger:  logger,
			Metrics: metrics,
		})
	}

	engineCfg := engine.Config{
		Registry:      registry,
		Enablement:    cache,
		Invalidator:   invalidator,
		Hierarchy:     hierarchy.NewStore(db),
		Modules:       modules.NewConfigStore(db, registry, invalidator),
		Members:       members,
		Hook:          hook,
		Logger:        logger,
		Metrics:       metrics,
		ResyncWorkers: cfg.Resync.Workers,
		ResyncTimeout: cfg.Resync.Timeout,
	}
	if cfg.Audit.Enabled {
		auditLog, err := audit.NewDBLogger(db)
		if err != nil {
			return err
		}
		shutdown.Register("audit log", func(context.Context) error { return auditLog.Close() })
		engineCfg.Audit = auditLog
		engineCfg.AuditSearch = auditLog
	}
	eng := engine.New(engineCfg)

	if cfg.Resync.Enabled {
		scheduler, err := engine.NewResyncScheduler(eng, cfg.Resync.Schedule)
		if err != nil {
			return fmt.Errorf("invalid resync schedule: %w", err)
		}
		scheduler.Start()
		shutdown.Register("resync scheduler", scheduler.Stop)
	}

	serverCfg := api.ServerConfig{
		Engine:  eng,
		Health:  observability.NewHealthChecker(db, rdb, version),
		Metrics: metrics,
		Logger:  logger,
	}
	if cfg.Observability.MetricsEnabled {
		serverCfg.Gatherer = reg
	}
	if cfg.Auth.Enabled() {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCAudience)
		if err != nil {
			return err
		}
		serverCfg.Auth = middleware.NewAuthMiddleware(verifier, logger)
		serverCfg.Operators = cfg.Auth.Operators
	}
	if cfg.RateLimit.Enabled {
		limitCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.Burst,
		}
		var limiter middleware.Limiter = middleware.NewRateLimiter(limitCfg)
		if rdb != nil {
			limiter = middleware.NewDistributedRateLimiter(rdb, limitCfg, "gatekeeper:ratelimit")
		}
		serverCfg.RateLimit = middleware.NewRateLimitMiddleware(limiter, logger)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewServer(serverCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown.Register("http server", srv.Shutdown)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    srv.Addr,
			"modules": len(registry.Modules()),
			"version": version,
		}).Info("Gatekeeper listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
		return nil
	case err := <-errCh:
		return err
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
