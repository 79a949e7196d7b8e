// Package middleware provides the HTTP middleware in front of the portal's
// handlers: request ids, bearer authentication and rate limiting.
//
// # Middleware Components
//
// RequestID: assigns X-Request-ID and a request-scoped logger
//
//	router.Use(middleware.RequestID(logger))
//
// Authenticator: verifies the Entra ID bearer token and stores the
// identity.Session in the request context
//
//	auth := middleware.NewAuthenticator(verifier, false)
//	router.Use(auth.Handler)
//
// Optional mode lets anonymous requests through so the access gate can answer
// them (sign-in page, redirect); a presented but invalid token is still a 401.
//
// RateLimitMiddleware: per-user (by email) and per-address limits
//
//	users := middleware.NewDistributedRateLimiter(redisClient, middleware.PerUserRateLimitConfig(), "")
//	anon := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	router.Use(middleware.NewRateLimitMiddleware(users, anon, logger).Handler)
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
//
// # Related Packages
//
//   - pkg/identity: Token verification
//   - pkg/gate: Access decisions for authenticated sessions
package middleware
