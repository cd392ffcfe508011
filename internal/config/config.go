// Package config handles CLI flags, TOML configuration and the origin allowlist.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cors-proxy/config.toml",
	"configs/config.toml",
}

// defaultOrigins are the origins allowed out of the box: the usual local
// dev-server addresses a frontend is served from while the proxy runs.
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Bind        string   `kong:"help='Bind address (overrides config).',env='CORS_PROXY_BIND'"`
	Port        int      `kong:"short='p',help='Listen port (overrides config).',env='CORS_PROXY_PORT'"`
	AllowOrigin []string `kong:"name='allow-origin',help='Additional origin to allow (repeatable).',env='CORS_PROXY_ORIGINS'"`
	AllowAll    bool     `kong:"name='allow-all-origins',help='Allow all origins (development mode - be careful!).',env='CORS_PROXY_ALLOW_ALL'"`
	Verbose     bool     `kong:"short='v',help='Enable verbose (debug) logging.',env='CORS_PROXY_VERBOSE'"`
	LogLevel    string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Origins  OriginsConfig  `toml:"origins"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	allowList *AllowList
	filePath  string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
}

// OriginsConfig holds the origin allowlist settings.
type OriginsConfig struct {
	Allow    []string `toml:"allow"`
	AllowAll bool     `toml:"allow_all"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	ConnectTimeoutSeconds int `toml:"connect_timeout_seconds"`
	IdleConnections       int `toml:"idle_connections"`
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

// Load reads the optional TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/cors-proxy/config.toml then configs/config.toml; if none exists the
// defaults apply, so the proxy runs with no config file at all.
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
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	cfg.allowList = newAllowList(cfg.Origins.Allow, cfg.Origins.AllowAll)
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Bind != "" {
		c.Server.Host = cli.Bind
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if len(cli.AllowOrigin) > 0 {
		c.Origins.Allow = append(c.Origins.Allow, cli.AllowOrigin...)
	}
	if cli.AllowAll {
		c.Origins.AllowAll = true
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.Verbose {
		c.Log.Level = "debug"
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Upstream.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.connect_timeout_seconds must be non-negative; got %d", c.Upstream.ConnectTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Origin entries must be full scheme://host[:port] tuples, because matching
	// against the Origin request header is an exact string comparison.
	for _, origin := range c.Origins.Allow {
		u, err := url.Parse(origin)
		if err != nil {
			return fmt.Errorf("origins.allow entry %q is not a valid URL: %w", origin, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("origins.allow entry %q must use http or https", origin)
		}
		if u.Host == "" {
			return fmt.Errorf("origins.allow entry %q has no host", origin)
		}
		if u.Path != "" || u.RawQuery != "" {
			return fmt.Errorf("origins.allow entry %q must be scheme://host[:port] with no path", origin)
		}
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

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 10
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// AllowList returns the immutable origin allowlist built by Load.
func (c *Config) AllowList() *AllowList {
	return c.allowList
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

// AllowList is the immutable set of permitted origins. It is built once at
// startup and shared read-only across all request handlers.
type AllowList struct {
	origins  map[string]struct{}
	allowAll bool
}

// newAllowList combines the built-in default origins with configured extras.
func newAllowList(extra []string, allowAll bool) *AllowList {
	origins := make(map[string]struct{}, len(defaultOrigins)+len(extra))
	for _, o := range defaultOrigins {
		origins[o] = struct{}{}
	}
	for _, o := range extra {
		origins[o] = struct{}{}
	}
	return &AllowList{origins: origins, allowAll: allowAll}
}

// NewForTest returns a Config with defaults applied and an allowlist built
// from exactly the given origins (no built-in defaults). Intended for tests.
func NewForTest(origins []string, allowAll bool) *Config {
	cfg := &Config{Origins: OriginsConfig{Allow: origins, AllowAll: allowAll}}
	cfg.setDefaults()
	cfg.allowList = NewAllowListForTest(origins, allowAll)
	return cfg
}

// NewAllowListForTest builds an AllowList from exactly the given origins,
// without the built-in defaults. Intended for tests.
func NewAllowListForTest(origins []string, allowAll bool) *AllowList {
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		set[o] = struct{}{}
	}
	return &AllowList{origins: set, allowAll: allowAll}
}

// AllowAll reports whether every origin is permitted.
func (a *AllowList) AllowAll() bool {
	return a.allowAll
}

// Contains reports whether the given origin is permitted. The comparison is
// an exact match on the scheme://host[:port] string the browser sends.
func (a *AllowList) Contains(origin string) bool {
	if a.allowAll {
		return true
	}
	_, ok := a.origins[origin]
	return ok
}

// Origins returns the permitted origins in sorted order, for logging.
func (a *AllowList) Origins() []string {
	out := make([]string, 0, len(a.origins))
	for o := range a.origins {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}
