// Package config loads the agent's configuration file. Every setting has a
// working default, so a missing file is not an error; the file exists for
// the few installs that need a non-standard endpoint or listen address.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dnsward/dnsward/internal/channel"
	"github.com/dnsward/dnsward/internal/doh"
)

// Config holds the agent's tunable settings. Stored as TOML, conventionally
// at /etc/dnsward/dnswardd.toml on unix and next to the binary on Windows.
type Config struct {
	// Endpoint is the command channel's socket path or pipe name.
	Endpoint string `toml:"endpoint"`

	// ProxyListen is the loopback address:port the DoH proxy binds while
	// a DoH configuration is active.
	ProxyListen string `toml:"proxy_listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// RequestTimeout bounds how long a single command may run before the
	// connection is cut. Duration string, e.g. "30s".
	RequestTimeout string `toml:"request_timeout"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Endpoint:       channel.DefaultEndpoint,
		ProxyListen:    doh.DefaultListenAddr,
		LogLevel:       "info",
		RequestTimeout: channel.DefaultRequestTimeout.String(),
	}
}

// Load reads the config at path, filling unset fields with defaults. An
// empty path or a missing file yields Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	defaults := Default()
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.ProxyListen == "" {
		cfg.ProxyListen = defaults.ProxyListen
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.RequestTimeout == "" {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if _, err := cfg.Timeout(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Timeout parses RequestTimeout.
func (c Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request_timeout %q: %w", c.RequestTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("request_timeout must be positive, got %q", c.RequestTimeout)
	}
	return d, nil
}
