// Package http provides the REST handlers served next to the terminal
// socket.
//
// Endpoints:
//   - Health: / and /health
//   - Version: /version
//   - Composer: GET /composer, GET /composer/:filename, POST /composer
//
// Example Usage:
//
//	handlers := http.NewHandlers(sessions, scripts, checker, metrics)
//	router.GET("/health", handlers.Health)
//	router.GET("/composer/:filename", handlers.GetScript)
package http
