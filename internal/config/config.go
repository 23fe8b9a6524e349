// Package config holds the process configuration: a JSON5 file overlaid
// with environment variables. Secrets never come from the file.
package config

import "time"

// Config is the full process configuration.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Bridge    BridgeConfig    `json:"bridge"`
	Sessions  SessionsConfig  `json:"sessions"`
	Relevance RelevanceConfig `json:"relevance"`
	Resolver  ResolverConfig  `json:"resolver"`
	Gazetteer GazetteerConfig `json:"gazetteer"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
}

// GatewayConfig configures the dashboard-facing WebSocket listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPS   float64  `json:"rate_limit_rps,omitempty"` // per connection; 0 disables
}

// BridgeConfig points at the external WhatsApp bridge process.
type BridgeConfig struct {
	URL         string        `json:"url"`
	CallTimeout time.Duration `json:"-"` // from call_timeout_seconds
	// CallTimeoutSeconds is the JSON-facing form of CallTimeout.
	CallTimeoutSeconds int `json:"call_timeout_seconds,omitempty"`
}

// SessionsConfig tunes session lifecycle handling.
type SessionsConfig struct {
	AuthDir    string `json:"auth_dir"` // per-tenant auth material, deleted on logout
	HistoryCap int    `json:"history_cap,omitempty"`
	// PairingTimeoutSeconds bounds the QR handshake.
	PairingTimeoutSeconds int `json:"pairing_timeout_seconds,omitempty"`
}

// RelevanceConfig tunes the lead filter.
type RelevanceConfig struct {
	FetchLimit  int    `json:"fetch_limit,omitempty"`  // per-chat history window
	Concurrency int    `json:"concurrency,omitempty"`  // parallel chat fetches
	RepliedLog  string `json:"replied_log,omitempty"`  // append-only replied-id log
}

// ResolverConfig configures contact resolution for group participants.
type ResolverConfig struct {
	CachePath string `json:"cache_path,omitempty"` // permanent handle→contact map
	// BrowserDataDir is the headless browser profile carrying the logged-in
	// web session the resolver reads from.
	BrowserDataDir string `json:"browser_data_dir,omitempty"`
}

// GazetteerConfig points at the locality alias table.
type GazetteerConfig struct {
	Path string `json:"path,omitempty"` // empty uses the built-in table
}

// DatabaseConfig configures the operator account store.
type DatabaseConfig struct {
	Path string `json:"path,omitempty"` // SQLite file
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // text or json
}
