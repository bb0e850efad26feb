package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"PORT", "HOST", "SQLCL_PATH", "SQLCL_ARGS", "SQLCL_NAME", "TERM_NAME",
	"TERM_COLS", "TERM_ROWS", "SPAWN_TIMEOUT", "WORK_DIR", "OUTPUT_DIR",
	"PUBLIC_DIR", "SIDE_EFFECT_TIMEOUT", "LOG_LEVEL", "LOG_DEV",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RATE_LIMIT_ENABLED",
	"VERSION_URL", "VERSION_TIMEOUT", "VERSION_REFRESH", "CORS_ORIGINS",
}

// clearEnv unsets every key the config reads and restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		if old, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, old) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadRequiresPortAndPath(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "nothing set", env: map[string]string{}},
		{name: "port only", env: map[string]string{"PORT": "3000"}},
		{name: "path only", env: map[string]string{"SQLCL_PATH": "/opt/sqlcl/bin/sql"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				require.NoError(t, os.Setenv(k, v))
			}

			_, err := Load(noEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Setenv("PORT", "3000"))
	require.NoError(t, os.Setenv("SQLCL_PATH", "/opt/sqlcl/bin/sql"))

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())

	assert.Equal(t, "/opt/sqlcl/bin/sql", cfg.Process.Path)
	assert.Equal(t, []string{"/nolog"}, cfg.Process.Args)
	assert.Equal(t, "SQLcl", cfg.Process.Name)
	assert.Equal(t, "xterm-color", cfg.Process.Term)
	assert.Equal(t, 120, cfg.Process.Cols)
	assert.Equal(t, 30, cfg.Process.Rows)

	// Timeouts are unset unless configured.
	assert.Equal(t, time.Duration(0), cfg.Process.SpawnTimeout)
	assert.Equal(t, time.Duration(0), cfg.Control.SideEffectTimeout)

	assert.Equal(t, ".", cfg.Paths.WorkDir)
	assert.Equal(t, "output", cfg.OutputPath())
	assert.Equal(t, "public", cfg.Paths.PublicDir)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.Equal(t, DefaultVersionURL, cfg.Version.URL)
	assert.Equal(t, 10*time.Second, cfg.Version.Timeout)
	assert.Equal(t, "@every 1h", cfg.Version.Refresh)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	clearEnv(t)
	envVars := map[string]string{
		"PORT":                "9000",
		"HOST":                "127.0.0.1",
		"SQLCL_PATH":          "/usr/local/bin/sql",
		"SQLCL_ARGS":          "-L,/nolog",
		"SQLCL_NAME":          "sql",
		"TERM_COLS":           "200",
		"TERM_ROWS":           "50",
		"SPAWN_TIMEOUT":       "5s",
		"WORK_DIR":            "/srv/fastql",
		"OUTPUT_DIR":          "/data/out",
		"SIDE_EFFECT_TIMEOUT": "250ms",
		"LOG_LEVEL":           "debug",
		"LOG_DEV":             "true",
		"RATE_LIMIT_ENABLED":  "false",
		"CORS_ORIGINS":        "https://a.example,https://b.example",
		"VERSION_REFRESH":     "",
	}
	for key, value := range envVars {
		require.NoError(t, os.Setenv(key, value))
	}

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, []string{"-L", "/nolog"}, cfg.Process.Args)
	assert.Equal(t, "sql", cfg.Process.Name)
	assert.Equal(t, 200, cfg.Process.Cols)
	assert.Equal(t, 50, cfg.Process.Rows)
	assert.Equal(t, 5*time.Second, cfg.Process.SpawnTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Control.SideEffectTimeout)
	assert.Equal(t, "/data/out", cfg.OutputPath())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoadReadsDotenv(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PORT=4100\nSQLCL_PATH=/opt/sql\nOUTPUT_DIR=spool\n"), 0o644))

	// The process environment takes precedence over the file.
	require.NoError(t, os.Setenv("OUTPUT_DIR", "from-env"))

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "4100", cfg.Server.Port)
	assert.Equal(t, "/opt/sql", cfg.Process.Path)
	assert.Equal(t, "from-env", cfg.Paths.OutputDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero cols", mutate: func(c *Config) { c.Process.Cols = 0 }, wantErr: true},
		{name: "negative rows", mutate: func(c *Config) { c.Process.Rows = -1 }, wantErr: true},
		{name: "negative spawn timeout", mutate: func(c *Config) { c.Process.SpawnTimeout = -time.Second }, wantErr: true},
		{name: "negative side effect timeout", mutate: func(c *Config) { c.Control.SideEffectTimeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Process: ProcessConfig{Cols: 80, Rows: 24}}
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
