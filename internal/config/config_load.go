package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults. All state lands under
// ~/.leadlens unless overridden.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18900,
			RateLimitRPS: 10,
		},
		Bridge: BridgeConfig{
			URL:                "ws://127.0.0.1:18901/bridge",
			CallTimeoutSeconds: 30,
		},
		Sessions: SessionsConfig{
			AuthDir:               "~/.leadlens/auth",
			HistoryCap:            500,
			PairingTimeoutSeconds: 120,
		},
		Relevance: RelevanceConfig{
			FetchLimit:  300,
			Concurrency: 4,
			RepliedLog:  "~/.leadlens/replied.log",
		},
		Resolver: ResolverConfig{
			CachePath:      "~/.leadlens/lidmap.json",
			BrowserDataDir: "~/.leadlens/browser",
		},
		Database: DatabaseConfig{
			Path: "~/.leadlens/leadlens.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.finalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.finalize()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("LEADLENS_GATEWAY_HOST", &c.Gateway.Host)
	envInt("LEADLENS_GATEWAY_PORT", &c.Gateway.Port)
	envStr("LEADLENS_BRIDGE_URL", &c.Bridge.URL)
	envStr("LEADLENS_AUTH_DIR", &c.Sessions.AuthDir)
	envStr("LEADLENS_DB_PATH", &c.Database.Path)
	envStr("LEADLENS_GAZETTEER_PATH", &c.Gazetteer.Path)
	envStr("LEADLENS_LOG_LEVEL", &c.Logging.Level)
}

// finalize expands home-relative paths and derives duration fields.
func (c *Config) finalize() {
	c.Sessions.AuthDir = ExpandHome(c.Sessions.AuthDir)
	c.Relevance.RepliedLog = ExpandHome(c.Relevance.RepliedLog)
	c.Resolver.CachePath = ExpandHome(c.Resolver.CachePath)
	c.Resolver.BrowserDataDir = ExpandHome(c.Resolver.BrowserDataDir)
	c.Gazetteer.Path = ExpandHome(c.Gazetteer.Path)
	c.Database.Path = ExpandHome(c.Database.Path)

	if c.Bridge.CallTimeoutSeconds > 0 {
		c.Bridge.CallTimeout = time.Duration(c.Bridge.CallTimeoutSeconds) * time.Second
	}
}

// PairingTimeout returns the configured QR handshake bound.
func (c *Config) PairingTimeout() time.Duration {
	if c.Sessions.PairingTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Sessions.PairingTimeoutSeconds) * time.Second
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
