// Package observability provides the engine's logging, Prometheus metrics,
// OpenTelemetry export, health checks and shutdown sequencing.
//
// # Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel("debug"), os.Stdout)
//	logger.WithField("guild_id", guildID).Info("Role updated")
//
// Request scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	ctx = observability.WithGuild(ctx, guildID, actorID)
//	observability.FromContext(ctx).Debug("Authorized")
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveDecision("command", "allow", elapsed)
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Telemetry
//
//	tel, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "gatekeeper",
//		Insecure:    true,
//	}, logger)
//	defer tel.Shutdown(ctx)
package observability
