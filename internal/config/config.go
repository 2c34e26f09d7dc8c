// ABOUTME: Configuration loading and parsing for botkeeper
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults, and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete botkeeper configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Bot       BotConfig       `yaml:"bot" toml:"bot"`
	Driver    DriverConfig    `yaml:"driver" toml:"driver"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	Movement  MovementConfig  `yaml:"movement" toml:"movement"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	RateLimit RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// BotConfig is the fixed identity and target server of the agent
type BotConfig struct {
	Username  string `yaml:"username" toml:"username"`
	Host      string `yaml:"host" toml:"host"`
	Port      int    `yaml:"port" toml:"port"`
	Version   string `yaml:"version" toml:"version"`
	Autostart bool   `yaml:"autostart" toml:"autostart"`
	Greeting  string `yaml:"greeting" toml:"greeting"`
}

// DriverConfig locates the external game client driver
type DriverConfig struct {
	URL              string        `yaml:"url" toml:"url"`
	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`

	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
}

// ReconnectConfig bounds reconnect campaigns
type ReconnectConfig struct {
	Delay       time.Duration `yaml:"-" toml:"-"`
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts"`

	DelayRaw string `yaml:"delay" toml:"delay"`
}

// MovementConfig controls the random wander
type MovementConfig struct {
	Interval time.Duration `yaml:"-" toml:"-"`
	Range    int           `yaml:"range" toml:"range"`
	Y        int           `yaml:"y" toml:"y"`

	IntervalRaw string `yaml:"interval" toml:"interval"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// RateLimitConfig throttles the control API. Zero requests_per_second disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns the configuration used when a file omits a field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "localhost:3000"},
		Bot: BotConfig{
			Username:  "RIDER420",
			Host:      "novasprak.aternos.me",
			Port:      32289,
			Version:   "1.12.1",
			Autostart: true,
			Greeting:  "Hello! I am back and ready to assist!",
		},
		Driver: DriverConfig{
			URL:                 "ws://localhost:3001/session",
			HandshakeTimeoutRaw: "10s",
		},
		Reconnect: ReconnectConfig{DelayRaw: "5s", MaxAttempts: 5},
		Movement:  MovementConfig{IntervalRaw: "5m", Range: 500, Y: 64},
		Database:  DatabaseConfig{Path: defaultDatabasePath()},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish parses durations, expands paths, and validates.
func (c *Config) finish() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}

	c.Database.Path = expandHome(c.Database.Path)
	c.Tailscale.StateDir = expandHome(c.Tailscale.StateDir)

	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// LoadDefault returns Default() with durations parsed, for running without a file.
func LoadDefault() (*Config, error) {
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Bot.Username == "" {
		return fmt.Errorf("bot.username is required")
	}
	if c.Bot.Host == "" {
		return fmt.Errorf("bot.host is required")
	}
	if c.Bot.Port < 1 || c.Bot.Port > 65535 {
		return fmt.Errorf("bot.port must be between 1 and 65535, got %d", c.Bot.Port)
	}
	if c.Bot.Version == "" {
		return fmt.Errorf("bot.version is required")
	}

	if c.Driver.URL == "" {
		return fmt.Errorf("driver.url is required")
	}
	u, err := url.Parse(c.Driver.URL)
	if err != nil {
		return fmt.Errorf("driver.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("driver.url must use ws or wss scheme")
	}

	if c.Reconnect.Delay <= 0 {
		return fmt.Errorf("reconnect.delay must be positive")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}

	if c.Movement.Interval <= 0 {
		return fmt.Errorf("movement.interval must be positive")
	}
	if c.Movement.Range <= 0 {
		return fmt.Errorf("movement.range must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Driver.HandshakeTimeoutRaw != "" {
		cfg.Driver.HandshakeTimeout, err = time.ParseDuration(cfg.Driver.HandshakeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing handshake_timeout %q: %w", cfg.Driver.HandshakeTimeoutRaw, err)
		}
	}

	if cfg.Reconnect.DelayRaw != "" {
		cfg.Reconnect.Delay, err = time.ParseDuration(cfg.Reconnect.DelayRaw)
		if err != nil {
			return fmt.Errorf("parsing delay %q: %w", cfg.Reconnect.DelayRaw, err)
		}
	}

	if cfg.Movement.IntervalRaw != "" {
		cfg.Movement.Interval, err = time.ParseDuration(cfg.Movement.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing interval %q: %w", cfg.Movement.IntervalRaw, err)
		}
	}

	return nil
}
