// Package middleware provides the HTTP middleware that guards the API
// surface: caller authentication and per-guild rate limiting.
//
// # Authentication
//
// AuthMiddleware verifies OpenID Connect ID tokens presented as bearer
// tokens. Only callers holding a token issued by the configured issuer for
// the configured audience reach the handlers; the verified caller is stored
// in the request context.
//
//	verifier, err := middleware.NewOIDCVerifier(ctx, issuer, audience)
//	auth := middleware.NewAuthMiddleware(verifier, logger)
//	router.Use(auth.Handler)
//
// # Rate Limiting
//
// RateLimitMiddleware limits requests per guild. The local token bucket
// serves single instances; DistributedRateLimiter shares fixed windows
// through Redis so every instance enforces the same budget.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), "gatekeeper:ratelimit")
//	guildRouter.Use(middleware.NewRateLimitMiddleware(limiter, logger).Handler)
//
// Redis failures fail open: the request is served and the error logged.
package middleware
