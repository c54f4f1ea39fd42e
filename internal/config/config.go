package config

import (
	"fmt"
	"time"
)

// Config holds server and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	Port              int           `mapstructure:"port" yaml:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	Relay  RelayConfig  `mapstructure:"relay" yaml:"relay"`
	Auth   AuthConfig   `mapstructure:"auth" yaml:"auth"`
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// RelayConfig tunes the realtime relay.
type RelayConfig struct {
	MaxMessageBytes    int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	ClientBuffer       int   `mapstructure:"client_buffer" yaml:"client_buffer"`
	MaxEventsPerMinute int   `mapstructure:"max_events_per_minute" yaml:"max_events_per_minute"`
}

// AuthConfig controls session tokens and the relay trust boundary.
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer    string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience  string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	RequireToken bool          `mapstructure:"require_token" yaml:"require_token"`
}

// ClientConfig is read by the terminal client.
type ClientConfig struct {
	RelayURL         string        `mapstructure:"relay_url" yaml:"relay_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":3000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "relaychat.db",
		Relay: RelayConfig{
			MaxMessageBytes: 1 << 16,
			ClientBuffer:    64,
		},
		Auth: AuthConfig{
			JWTSecret:   "change-me",
			JWTIssuer:   "relaychat",
			JWTAudience: "relaychat",
			TokenTTL:    24 * time.Hour,
		},
		Client: ClientConfig{
			RelayURL:         "ws://localhost:3000/ws",
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// ListenAddr returns the address the HTTP server binds to. A non-zero Port wins over Addr.
func (c *Config) ListenAddr() string {
	if c.Port > 0 {
		return fmt.Sprintf(":%d", c.Port)
	}
	return c.Addr
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.Port != 0 {
		c.Port = other.Port
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Client.RelayURL != "" {
		c.Client.RelayURL = other.Client.RelayURL
	}
	if other.Auth.RequireToken {
		c.Auth.RequireToken = true
	}
}
