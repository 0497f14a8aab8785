package config

import "time"

// Config is the root configuration for courier.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Relay     RelayConfig     `yaml:"relay"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`
	MCP       MCPConfig       `yaml:"mcp"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	PublicURL       string        `yaml:"public_url"`
	LogLevel        string        `yaml:"log_level"`
	LogFile         string        `yaml:"log_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	// SecretDir holds session.key when Secret is not set.
	SecretDir  string        `yaml:"secret_dir"`
	Secret     string        `yaml:"secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	CookieName string        `yaml:"cookie_name"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// RelayConfig decides the process role. With an empty UpstreamURL the
// process owns the connection registry; otherwise it bridges client
// streams to the relay at UpstreamURL.
type RelayConfig struct {
	UpstreamURL   string `yaml:"upstream_url"`
	InternalToken string `yaml:"internal_token"`
}

type StreamConfig struct {
	Heartbeat    time.Duration `yaml:"heartbeat"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	WebSocket    bool          `yaml:"websocket"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

type TunnelConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"authtoken"`
	Domain    string `yaml:"domain"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RegistryOwner reports whether this process holds the connection registry.
func (c *Config) RegistryOwner() bool {
	return c.Relay.UpstreamURL == ""
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8440,
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			SecretDir:  "~/.config/courier",
			SessionTTL: 24 * time.Hour,
			CookieName: "courier_session",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.config/courier/courier.db",
		},
		Stream: StreamConfig{
			Heartbeat:    25 * time.Second,
			WriteTimeout: 10 * time.Second,
			WebSocket:    true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			Burst:             20,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}
