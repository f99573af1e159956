// ABOUTME: Configuration loading and parsing for livechat-gateway
// ABOUTME: YAML with env var expansion, duration parsing, and env overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete livechat-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChatConfig holds chat behavior configuration
type ChatConfig struct {
	// SubscriberBuffer is the per-subscriber event buffer; a subscriber
	// that falls this far behind is disconnected.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	ResolvedRetention time.Duration `yaml:"-"`
	JanitorInterval   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ResolvedRetentionRaw string `yaml:"resolved_retention"`
	JanitorIntervalRaw   string `yaml:"janitor_interval"`
}

// EventsConfig holds the optional AMQP event mirror configuration
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverrides are applied after the YAML file loads, so secrets can live
// in the environment instead of on disk.
type envOverrides struct {
	HTTPAddr  string `env:"LIVECHAT_HTTP_ADDR"`
	DBPath    string `env:"LIVECHAT_DB_PATH"`
	JWTSecret string `env:"LIVECHAT_JWT_SECRET"`
	AMQPURL   string `env:"LIVECHAT_AMQP_URL"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded,
// duration strings are parsed, and LIVECHAT_* environment variables
// override their file counterparts.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides parses LIVECHAT_* variables and overrides any that are set.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return err
	}

	if o.HTTPAddr != "" {
		cfg.Server.HTTPAddr = o.HTTPAddr
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}
	if o.JWTSecret != "" {
		cfg.Auth.JWTSecret = o.JWTSecret
	}
	if o.AMQPURL != "" {
		cfg.Events.URL = o.AMQPURL
	}
	return nil
}

// applyDefaults fills in values that may be omitted from the file.
func (c *Config) applyDefaults() {
	if c.Chat.SubscriberBuffer == 0 {
		c.Chat.SubscriberBuffer = 64
	}
	if c.Chat.ResolvedRetention == 0 {
		c.Chat.ResolvedRetention = 24 * time.Hour
	}
	if c.Chat.JanitorInterval == 0 {
		c.Chat.JanitorInterval = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events.url is required when events are enabled")
	}
	if c.Events.Enabled && c.Events.Exchange == "" {
		return fmt.Errorf("events.exchange is required when events are enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Chat.ResolvedRetentionRaw != "" {
		cfg.Chat.ResolvedRetention, err = time.ParseDuration(cfg.Chat.ResolvedRetentionRaw)
		if err != nil {
			return fmt.Errorf("parsing resolved_retention %q: %w", cfg.Chat.ResolvedRetentionRaw, err)
		}
	}

	if cfg.Chat.JanitorIntervalRaw != "" {
		cfg.Chat.JanitorInterval, err = time.ParseDuration(cfg.Chat.JanitorIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing janitor_interval %q: %w", cfg.Chat.JanitorIntervalRaw, err)
		}
	}

	return nil
}
