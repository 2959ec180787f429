// ABOUTME: Configuration loading and parsing for coven-operator
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-operator configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Sessions SessionsConfig `yaml:"sessions"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds backend listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// ProxyConfig holds forwarding proxy configuration.
type ProxyConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	BackendURL string `yaml:"backend_url"`
	MaxRetries int    `yaml:"max_retries"`

	InitialBackoff  time.Duration `yaml:"-"`
	MaxBackoff      time.Duration `yaml:"-"`
	BlockingTimeout time.Duration `yaml:"-"`
	RequestTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	InitialBackoffRaw  string `yaml:"initial_backoff"`
	MaxBackoffRaw      string `yaml:"max_backoff"`
	BlockingTimeoutRaw string `yaml:"blocking_timeout"`
	RequestTimeoutRaw  string `yaml:"request_timeout"`
}

// SessionsConfig holds session lifecycle configuration.
type SessionsConfig struct {
	HistoryCap int `yaml:"history_cap"`

	CleanupInterval time.Duration `yaml:"-"`
	CleanupTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
	CleanupTimeoutRaw  string `yaml:"cleanup_timeout"`
}

// DatabaseConfig holds the session registry database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:4860",
		},
		Proxy: ProxyConfig{
			ListenAddr:      "127.0.0.1:4861",
			BackendURL:      "http://127.0.0.1:4860",
			MaxRetries:      30,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      10 * time.Second,
			BlockingTimeout: 15 * time.Minute,
			RequestTimeout:  10 * time.Second,
		},
		Sessions: SessionsConfig{
			HistoryCap:      50,
			CleanupInterval: time.Minute,
			CleanupTimeout:  30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config merged over the defaults. A missing file is not an error; the
// defaults are returned. Environment variables in the format ${VAR_NAME}
// are expanded and duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Proxy.ListenAddr == "" {
		return fmt.Errorf("proxy.listen_addr is required")
	}
	if c.Proxy.BackendURL == "" {
		return fmt.Errorf("proxy.backend_url is required")
	}
	if c.Proxy.MaxRetries < 1 {
		return fmt.Errorf("proxy.max_retries must be at least 1")
	}
	if c.Sessions.HistoryCap < 1 {
		return fmt.Errorf("sessions.history_cap must be at least 1")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Proxy.InitialBackoffRaw, "initial_backoff", &cfg.Proxy.InitialBackoff},
		{cfg.Proxy.MaxBackoffRaw, "max_backoff", &cfg.Proxy.MaxBackoff},
		{cfg.Proxy.BlockingTimeoutRaw, "blocking_timeout", &cfg.Proxy.BlockingTimeout},
		{cfg.Proxy.RequestTimeoutRaw, "request_timeout", &cfg.Proxy.RequestTimeout},
		{cfg.Sessions.CleanupIntervalRaw, "cleanup_interval", &cfg.Sessions.CleanupInterval},
		{cfg.Sessions.CleanupTimeoutRaw, "cleanup_timeout", &cfg.Sessions.CleanupTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
