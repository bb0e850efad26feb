// Package config provides 12-factor configuration for the bridge server.
//
// Configuration is loaded from environment variables, optionally seeded from
// a .env file. PORT and SQLCL_PATH are required; everything else has a
// default. The two timeouts (SPAWN_TIMEOUT, SIDE_EFFECT_TIMEOUT) default to
// zero, which means no limit.
//
// Configuration Sections:
//   - Server: HTTP listen address
//   - Process: backing client executable, arguments and terminal geometry
//   - Paths: working, output and static asset directories
//   - Control: control command side-effect limits
//   - Logging: log level and output format
//   - RateLimit: per-IP HTTP rate limiting
//   - Version: latest-release lookup
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
