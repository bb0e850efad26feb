// Package main is the entry point for the FaStQL terminal bridge.
//
// Each browser connection gets its own SQLcl process behind a
// pseudo-terminal. Output and notices flow back over the same websocket.
//
// Configuration:
//   - Environment variables, after an optional .env file
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	SQLCL_PATH=/opt/sqlcl/bin/sql ./fastql --port 3000
//
//	# Development mode (colored logs, debug level)
//	./fastql --dev
//
//	# Print the build version
//	./fastql version
//
// Signals:
//   - SIGINT, SIGTERM: clear the scratch dir, end sessions, exit
package main
