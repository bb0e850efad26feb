// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// Components derive child loggers with Component and Session so every line
// produced on behalf of a terminal session carries its session_id.
//
// Example Usage:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	logger.Info("Server starting", zap.String("port", cfg.Server.Port))
//	logger.Session(id).Warn("Spool side effect failed", zap.Error(err))
package logging
