package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/courier/courier.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "courier", "courier.yaml"))
	}

	paths = append(paths, "courier.yaml")

	if envPath := os.Getenv("COURIER_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/courier/courier.yaml < ~/.config/courier/courier.yaml < ./courier.yaml < $COURIER_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"COURIER_INTERNAL_TOKEN":  &cfg.Relay.InternalToken,
		"COURIER_DATABASE_DSN":    &cfg.Database.DSN,
		"COURIER_NGROK_AUTHTOKEN": &cfg.Tunnel.AuthToken,
		"COURIER_SESSION_SECRET":  &cfg.Auth.Secret,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "0.0.0.0" {
		return fmt.Errorf("server.host must not be 0.0.0.0: courier listens on localhost only (put a reverse proxy or the tunnel in front)")
	}

	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be debug, info, warn or error, got %q", cfg.Server.LogLevel)
	}

	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver (or set COURIER_DATABASE_DSN)")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", cfg.Database.Driver)
	}

	if cfg.Relay.UpstreamURL != "" {
		u, err := url.Parse(cfg.Relay.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("relay.upstream_url must be an http(s) URL, got %q", cfg.Relay.UpstreamURL)
		}
		if cfg.Relay.InternalToken == "" {
			return fmt.Errorf("relay.internal_token is required when relay.upstream_url is set")
		}
	}

	if cfg.Stream.Heartbeat < 0 || cfg.Stream.WriteTimeout < 0 {
		return fmt.Errorf("stream.heartbeat and stream.write_timeout must not be negative")
	}

	if cfg.RateLimit.RequestsPerMinute < 1 || cfg.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.requests_per_minute and rate_limit.burst must be at least 1")
	}

	if cfg.Tunnel.Enabled && cfg.Tunnel.AuthToken == "" {
		return fmt.Errorf("tunnel.authtoken is required when the tunnel is enabled (or set COURIER_NGROK_AUTHTOKEN)")
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Auth.SecretDir = ExpandHome(cfg.Auth.SecretDir)

	return nil
}
