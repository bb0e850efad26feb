// Package middleware provides the gin middleware stack for the terminal
// server.
//
// Middleware:
//   - CORS: cross-origin access to the composer and version endpoints
//   - RateLimit: token bucket limits per client IP
//   - NoCache: disables caching for the terminal page and its assets
//   - RequestLogger: one zap line per request, level by status
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.CORSOrigins)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
