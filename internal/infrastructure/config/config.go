package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultVersionURL is the registry endpoint listing the newest image tag.
const DefaultVersionURL = "https://hub.docker.com/v2/repositories/brni05/fastql/tags?page_size=1&page=1&ordering=last_updated"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Process   ProcessConfig
	Paths     PathsConfig
	Control   ControlConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Version   VersionConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" required:"true"`
	Host        string   `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// ProcessConfig describes the backing client each session spawns.
type ProcessConfig struct {
	Path string   `envconfig:"SQLCL_PATH" required:"true"`
	Args []string `envconfig:"SQLCL_ARGS" default:"/nolog"`
	Name string   `envconfig:"SQLCL_NAME" default:"SQLcl"`
	Term string   `envconfig:"TERM_NAME" default:"xterm-color"`
	Cols int      `envconfig:"TERM_COLS" default:"120"`
	Rows int      `envconfig:"TERM_ROWS" default:"30"`

	// SpawnTimeout bounds process start. Zero means no limit.
	SpawnTimeout time.Duration `envconfig:"SPAWN_TIMEOUT" default:"0s"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	WorkDir   string `envconfig:"WORK_DIR" default:"."`
	OutputDir string `envconfig:"OUTPUT_DIR" default:"output"`
	PublicDir string `envconfig:"PUBLIC_DIR" default:"public"`
}

// ControlConfig tunes out-of-band command handling.
type ControlConfig struct {
	// SideEffectTimeout bounds the filesystem work done for one control
	// command. Zero means no limit.
	SideEffectTimeout time.Duration `envconfig:"SIDE_EFFECT_TIMEOUT" default:"0s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// VersionConfig configures the latest-release lookup.
type VersionConfig struct {
	URL     string        `envconfig:"VERSION_URL"`
	Timeout time.Duration `envconfig:"VERSION_TIMEOUT" default:"10s"`
	// Refresh is a cron spec for re-fetching the latest release. Empty
	// disables background refresh.
	Refresh string `envconfig:"VERSION_REFRESH" default:"@every 1h"`
}

// Load loads configuration from environment variables, after applying the
// given dotenv files. Missing dotenv files are ignored; values already
// present in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version.URL == "" {
		c.Version.URL = DefaultVersionURL
	}
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	if c.Process.Cols <= 0 || c.Process.Rows <= 0 {
		return fmt.Errorf("invalid terminal size %dx%d", c.Process.Cols, c.Process.Rows)
	}
	if c.Process.SpawnTimeout < 0 {
		return fmt.Errorf("SPAWN_TIMEOUT must not be negative")
	}
	if c.Control.SideEffectTimeout < 0 {
		return fmt.Errorf("SIDE_EFFECT_TIMEOUT must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// OutputPath returns the output directory resolved against the working
// directory.
func (c *Config) OutputPath() string {
	if filepath.IsAbs(c.Paths.OutputDir) {
		return c.Paths.OutputDir
	}
	return filepath.Join(c.Paths.WorkDir, c.Paths.OutputDir)
}
