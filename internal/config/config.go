// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"rewrite-proxy-go/internal/markup"
	"rewrite-proxy-go/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/rewrite-proxy/config.toml",
	"configs/config.toml",
}

// reservedPrefix is the path prefix owned by the proxy itself; everything
// else is mirrored from the upstream.
const reservedPrefix = "/_proxy/"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream    string `kong:"short='u',help='Upstream origin base URL (overrides config).',env='UPSTREAM_URL'"`
	Pattern     string `kong:"help='Text substitution pattern (overrides config).',env='REWRITE_PATTERN'"`
	Replacement string `kong:"help='Text substitution replacement (overrides config).',env='REWRITE_REPLACEMENT'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Rewrite  RewriteConfig  `toml:"rewrite"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"` // 0 means "use default" (8232); TOML cannot distinguish 0 from unset
	// PublicURL is the base placed into rewritten links. Defaults to
	// http://host:port, with localhost standing in for a wildcard host.
	PublicURL    string          `toml:"public_url"`
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL          string  `toml:"base_url"`
	TimeoutSeconds   float64 `toml:"timeout_seconds"`
	IdleConnections  int     `toml:"idle_connections"`
	MaxDocumentBytes int64   `toml:"max_document_bytes"`
	UserAgent        string  `toml:"user_agent"`
}

// RewriteConfig holds the text substitution applied to proxied pages.
// An empty pattern disables substitution.
type RewriteConfig struct {
	Pattern     string `toml:"pattern"`
	Replacement string `toml:"replacement"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/rewrite-proxy/config.toml then configs/config.toml. Without any file
// the CLI alone must supply the upstream.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		if path == "" {
			return nil, fmt.Errorf("config: validate (no config file found, searched %v): %w", configSearchPaths, err)
		}
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Upstream.BaseURL = cli.Upstream
	}
	if cli.Pattern != "" {
		c.Rewrite.Pattern = cli.Pattern
	}
	if cli.Replacement != "" {
		c.Rewrite.Replacement = cli.Replacement
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL: required, http(s), base only.
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if _, err := model.ParseEndpoint(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("upstream.base_url: %w", err)
	}
	if c.Server.PublicURL != "" {
		if _, err := model.ParseEndpoint(c.Server.PublicURL); err != nil {
			return fmt.Errorf("server.public_url: %w", err)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %v", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxDocumentBytes < 0 {
		return fmt.Errorf("upstream.max_document_bytes must be non-negative; got %d", c.Upstream.MaxDocumentBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Substitution rule must compile.
	if _, err := markup.NewRule(c.Rewrite.Pattern, c.Rewrite.Replacement); err != nil {
		return fmt.Errorf("rewrite: %w", err)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path must live under the reserved prefix, or it would shadow
	// an upstream page.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if !strings.HasPrefix(p, reservedPrefix) {
			return fmt.Errorf("metrics.path must start with %q; got %q", reservedPrefix, p)
		}
		for _, reserved := range []string{HealthzPath, StatusPath} {
			if p == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// Reserved admin routes.
const (
	HealthzPath = reservedPrefix + "healthz"
	StatusPath  = reservedPrefix + "status"
)

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8232
	}
	if c.Server.PublicURL == "" {
		host := c.Server.Host
		if host == "0.0.0.0" || host == "::" {
			host = "localhost"
		}
		c.Server.PublicURL = model.Endpoint{Scheme: "http", Host: host, Port: c.Server.Port}.String()
	}
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")
	c.Upstream.BaseURL = strings.TrimSuffix(c.Upstream.BaseURL, "/")
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 64 * 1024
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 3
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxDocumentBytes == 0 {
		c.Upstream.MaxDocumentBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "rewrite-proxy-go/1.0"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = reservedPrefix + "metrics"
	}
}

// Timeout returns the upstream fetch timeout.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Rule compiles the configured substitution rule. Validation has already
// checked that it compiles.
func (c *RewriteConfig) Rule() (*markup.Rule, error) {
	return markup.NewRule(c.Pattern, c.Replacement)
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
