// Package config loads the MIRROR_* environment configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/caarlos0/env/v7"
	"github.com/joho/godotenv"
)

// Config is the process configuration, kept entirely in the environment.
type Config struct {
	Host          string `env:"HOST" envDefault:"0.0.0.0"`
	Port          uint16 `env:"PORT" envDefault:"8085"`
	PublicBaseURL string `env:"MIRROR_PUBLIC_BASE_URL"`

	InternalToken string `env:"MIRROR_INTERNAL_TOKEN,notEmpty"`

	AllowlistPath string `env:"MIRROR_ALLOWLIST_PATH" envDefault:"./allowlist.json"`
	DBPath        string `env:"MIRROR_DB_PATH" envDefault:"./mirrorgate.sqlite"`
	CacheDir      string `env:"MIRROR_CACHE_DIR" envDefault:"./cache"`
	LogFile       string `env:"MIRROR_LOG_FILE"`

	CacheTTLSeconds int64             `env:"MIRROR_CACHE_TTL_SECONDS" envDefault:"7200"`
	CacheMaxBytes   datasize.ByteSize `env:"MIRROR_CACHE_MAX_BYTES" envDefault:"1GB"`
	MaxHTMLBytes    datasize.ByteSize `env:"MIRROR_MAX_HTML_BYTES" envDefault:"5MB"`
	MaxBinaryBytes  datasize.ByteSize `env:"MIRROR_MAX_BINARY_BYTES" envDefault:"25MB"`

	UpstreamTimeoutMS int64 `env:"MIRROR_UPSTREAM_TIMEOUT_MS" envDefault:"12000"`

	EnableHTTP     bool `env:"MIRROR_ENABLE_HTTP" envDefault:"false"`
	DisableService bool `env:"MIRROR_DISABLE_SERVICE" envDefault:"false"`

	LogFormat string `env:"MIRROR_LOG_FORMAT" envDefault:"text"`
	Verbose   bool   `env:"MIRROR_VERBOSE" envDefault:"false"`
}

// Load reads an optional .env file and parses the environment into a
// validated Config.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set by the supervisor.
	_ = godotenv.Load()

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	if len(c.InternalToken) < 8 {
		return errors.New("MIRROR_INTERNAL_TOKEN must be at least 8 characters")
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("MIRROR_CACHE_TTL_SECONDS out of range: %d", c.CacheTTLSeconds)
	}
	if c.CacheMaxBytes == 0 {
		return errors.New("MIRROR_CACHE_MAX_BYTES must be positive")
	}
	if c.MaxHTMLBytes == 0 || c.MaxBinaryBytes == 0 {
		return errors.New("MIRROR_MAX_HTML_BYTES and MIRROR_MAX_BINARY_BYTES must be positive")
	}
	if c.UpstreamTimeoutMS <= 0 || c.UpstreamTimeoutMS > 120000 {
		return fmt.Errorf("MIRROR_UPSTREAM_TIMEOUT_MS out of range: %d", c.UpstreamTimeoutMS)
	}
	return nil
}

// ListenAddr returns the host:port pair for the HTTP listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamTimeout returns the per-request upstream budget as a duration.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutMS) * time.Millisecond
}

// CacheTTL returns the cache entry lifetime as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
